package harness

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/forgecache/internal/cache"
	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/remote"
	"github.com/roach88/forgecache/internal/remote/fixture"
	"github.com/roach88/forgecache/internal/store"
)

// Scenario is one end-to-end run: a remote data set, a sequence of steps
// against the cache, and assertions on the outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario demonstrates.
	Description string `yaml:"description"`

	// Remote is the forge as the fixture gateway serves it. Steps mutate it.
	Remote fixture.Data `yaml:"remote"`

	// Steps run in order against one cache instance (until a restart).
	Steps []Step `yaml:"steps"`

	// Assertions check the final state.
	// Supported types: remote_calls, count, entity, meta, store_rows
	Assertions []Assertion `yaml:"assertions"`

	// Start is the fake clock's initial time; zero means the testutil default.
	Start time.Time `yaml:"start,omitempty"`

	// Source is the file the scenario was read from, if any.
	Source string `yaml:"-"`
}

// Step is one action. Which fields apply depends on Do.
type Step struct {
	Do string `yaml:"do"`

	Kind    string   `yaml:"kind,omitempty"`
	Repo    string   `yaml:"repo,omitempty"`
	Number  int      `yaml:"number,omitempty"`
	Numbers []int    `yaml:"numbers,omitempty"`
	Labels  []string `yaml:"labels,omitempty"`
	Body    string   `yaml:"body,omitempty"`
	Method  string   `yaml:"method,omitempty"`
	Force   bool     `yaml:"force,omitempty"`

	// Duration is a time.ParseDuration string for advance.
	Duration string `yaml:"duration,omitempty"`

	// Fault is installed on the fixture by fail.
	Fault *fixture.Fault `yaml:"fault,omitempty"`

	// Expect checks the step's outcome. Without it a failing step is an
	// error.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect describes a step's outcome.
type Expect struct {
	// Outcome is "ok", "rejected" or "error" for mutations, the fetch result
	// ("fetched", "cache-hit", "skipped", "failed") for fetch and the
	// orchestrator state for sync.
	Outcome string `yaml:"outcome"`

	// Message, when set, must equal the sync message or the rejection message.
	Message string `yaml:"message,omitempty"`
}

// Step kinds.
const (
	DoSync           = "sync"
	DoFetch          = "fetch"
	DoApprove        = "approve"
	DoRequestChanges = "request_changes"
	DoMerge          = "merge"
	DoToggleDraft    = "toggle_draft"
	DoAddLabels      = "add_labels"
	DoRemoveLabels   = "remove_labels"
	DoCloseIssues    = "close_issues"
	DoReopenIssues   = "reopen_issues"
	DoFail           = "fail"
	DoAdvance        = "advance"
	DoRestart        = "restart"
)

// Assertion is a check on the state after the last step.
type Assertion struct {
	// Type is the assertion type.
	Type string `yaml:"type"`

	// Method is the fixture method for remote_calls.
	Method string `yaml:"method,omitempty"`

	// Kind and Repo select a cache scope for count, entity and meta. Repo
	// also narrows store_rows.
	Kind string `yaml:"kind,omitempty"`
	Repo string `yaml:"repo,omitempty"`

	// Key is the entity number, or the branch name for branches and checks.
	Key string `yaml:"key,omitempty"`

	// Table is the store table for store_rows.
	Table string `yaml:"table,omitempty"`

	// Count is the expected number for remote_calls, count and store_rows.
	Count int `yaml:"count,omitempty"`

	// Expect is a subset of the entity's JSON form for entity.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Error, Stale and Fetched are checked by meta when set.
	Error   *bool `yaml:"error,omitempty"`
	Stale   *bool `yaml:"stale,omitempty"`
	Fetched *bool `yaml:"fetched,omitempty"`
}

// Assertion types
const (
	AssertRemoteCalls = "remote_calls"
	AssertCount       = "count"
	AssertEntity      = "entity"
	AssertMeta        = "meta"
	AssertStoreRows   = "store_rows"
)

var cacheKinds = map[string]cache.Kind{
	string(cache.KindRepositories): cache.KindRepositories,
	string(cache.KindPullRequests): cache.KindPullRequests,
	string(cache.KindIssues):       cache.KindIssues,
	string(cache.KindBranches):     cache.KindBranches,
	string(cache.KindChecks):       cache.KindChecks,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Source = path
	return s, nil
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Remote.Repositories) == 0 {
		return fmt.Errorf("remote.repositories is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(step Step) error {
	needRepo := func() error {
		if _, err := domain.ParseRepoRef(step.Repo); err != nil {
			return fmt.Errorf("%s: %w", step.Do, err)
		}
		return nil
	}
	needNumber := func() error {
		if err := needRepo(); err != nil {
			return err
		}
		if step.Number <= 0 {
			return fmt.Errorf("%s: number is required", step.Do)
		}
		return nil
	}

	switch step.Do {
	case DoSync, DoRestart:
		return nil
	case DoFetch:
		kind, ok := cacheKinds[step.Kind]
		if !ok {
			return fmt.Errorf("fetch: unknown kind %q", step.Kind)
		}
		if kind == cache.KindRepositories {
			return nil
		}
		return needRepo()
	case DoApprove, DoRequestChanges, DoToggleDraft:
		return needNumber()
	case DoMerge:
		if err := needNumber(); err != nil {
			return err
		}
		switch remote.MergeMethod(step.Method) {
		case "", remote.MergeCommit, remote.MergeSquash, remote.MergeRebase:
			return nil
		default:
			return fmt.Errorf("merge: unknown method %q", step.Method)
		}
	case DoAddLabels, DoRemoveLabels:
		if err := needNumber(); err != nil {
			return err
		}
		if len(step.Labels) == 0 {
			return fmt.Errorf("%s: labels is required", step.Do)
		}
		if step.Kind != "" && step.Kind != string(cache.KindPullRequests) && step.Kind != string(cache.KindIssues) {
			return fmt.Errorf("%s: kind must be pull_requests or issues", step.Do)
		}
		return nil
	case DoCloseIssues, DoReopenIssues:
		if err := needRepo(); err != nil {
			return err
		}
		if len(step.Numbers) == 0 {
			return fmt.Errorf("%s: numbers is required", step.Do)
		}
		return nil
	case DoFail:
		if step.Fault == nil || step.Fault.Method == "" {
			return fmt.Errorf("fail: fault.method is required")
		}
		return nil
	case DoAdvance:
		d, err := time.ParseDuration(step.Duration)
		if err != nil || d <= 0 {
			return fmt.Errorf("advance: duration %q must be a positive duration", step.Duration)
		}
		return nil
	case "":
		return fmt.Errorf("do is required")
	default:
		return fmt.Errorf("unknown step %q", step.Do)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertRemoteCalls:
		if a.Method == "" {
			return fmt.Errorf("assertions[%d]: method is required for remote_calls", index)
		}
	case AssertCount, AssertEntity, AssertMeta:
		kind, ok := cacheKinds[a.Kind]
		if !ok {
			return fmt.Errorf("assertions[%d]: unknown kind %q for %s", index, a.Kind, a.Type)
		}
		if kind != cache.KindRepositories {
			if _, err := domain.ParseRepoRef(a.Repo); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
		if a.Type == AssertEntity {
			if a.Key == "" {
				return fmt.Errorf("assertions[%d]: key is required for entity", index)
			}
			if kind == cache.KindPullRequests || kind == cache.KindIssues {
				if _, err := strconv.Atoi(a.Key); err != nil {
					return fmt.Errorf("assertions[%d]: key %q must be a number for %s", index, a.Key, a.Kind)
				}
			}
			if len(a.Expect) == 0 {
				return fmt.Errorf("assertions[%d]: expect is required for entity", index)
			}
		}
		if a.Type == AssertMeta && a.Error == nil && a.Stale == nil && a.Fetched == nil {
			return fmt.Errorf("assertions[%d]: meta needs error, stale or fetched", index)
		}
	case AssertStoreRows:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for store_rows", index)
		}
		if store.KeyColumns(a.Table) == nil {
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
