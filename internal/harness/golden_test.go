package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/forgecache/internal/cache"
)

// TestScenarios runs every shipped scenario against its golden snapshot.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			require.Equal(t, name, scenario.Name, "scenario name must match its file name")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestSnapshot_Format(t *testing.T) {
	result := NewResult()
	result.AddStep(StepRecord{
		Line:   "fetch issues acme/widgets: fetched",
		Events: map[cache.Kind]int{cache.KindIssues: 2, cache.KindBranches: 1},
	})
	result.AddStep(StepRecord{Line: "advance 1m0s", Events: map[cache.Kind]int{}})
	result.Calls = map[string]int{"ListIssues": 1, "CloseIssues": 2}
	result.State = []string{"issues acme/widgets (fresh):", "  #10 open labels=[] \"Broken widget\""}

	want := `scenario: demo
steps:
  1. fetch issues acme/widgets: fetched
     events: branches=1 issues=2
  2. advance 1m0s
     events: none
calls: CloseIssues=2 ListIssues=1
state:
  issues acme/widgets (fresh):
    #10 open labels=[] "Broken widget"
`
	assert.Equal(t, want, string(Snapshot("demo", result)))
}

func TestSnapshot_NoCalls(t *testing.T) {
	out := string(Snapshot("empty", NewResult()))
	assert.Equal(t, "scenario: empty\nsteps:\ncalls: none\nstate:\n", out)
}
