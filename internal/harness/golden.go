package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/forgecache/internal/cache"
)

// Snapshot renders a result as the text stored in golden files: one line per
// step with the events it caused, the fixture call counts, then the final
// cache state. Map entries are sorted so the text is deterministic.
func Snapshot(name string, r *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)

	b.WriteString("steps:\n")
	for i, s := range r.Steps {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, s.Line)
		fmt.Fprintf(&b, "     events: %s\n", formatEvents(s.Events))
	}

	b.WriteString("calls:")
	methods := make([]string, 0, len(r.Calls))
	for m := range r.Calls {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	if len(methods) == 0 {
		b.WriteString(" none")
	}
	for _, m := range methods {
		fmt.Fprintf(&b, " %s=%d", m, r.Calls[m])
	}
	b.WriteString("\n")

	b.WriteString("state:\n")
	for _, line := range r.State {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return []byte(b.String())
}

func formatEvents(events map[cache.Kind]int) string {
	if len(events) == 0 {
		return "none"
	}
	kinds := make([]string, 0, len(events))
	for k := range events {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	parts := make([]string, len(kinds))
	for i, k := range kinds {
		parts[i] = fmt.Sprintf("%s=%d", k, events[cache.Kind(k)])
	}
	return strings.Join(parts, " ")
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can inspect errors; a snapshot mismatch
// fails t through goldie.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(name, result))
}
