package harness

import (
	"github.com/roach88/forgecache/internal/cache"
)

// StepRecord is what one step did.
type StepRecord struct {
	// Line describes the step and its outcome, e.g.
	// `approve acme/widgets#3: rejected "..."`.
	Line string `json:"line"`

	// Outcome is the token compared against Expect.Outcome.
	Outcome string `json:"outcome"`

	// Message is the sync message or the mutation's user-facing message.
	Message string `json:"message,omitempty"`

	// Events counts cache change notifications per kind during the step.
	Events map[cache.Kind]int `json:"events"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass indicates overall success: every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Steps holds one record per scenario step, in order.
	Steps []StepRecord `json:"steps"`

	// Calls counts fixture gateway calls per method.
	Calls map[string]int `json:"calls"`

	// State is the rendered final cache state, one line per entry.
	State []string `json:"state"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepRecord{},
		Calls:  map[string]int{},
		State:  []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a step record.
func (r *Result) AddStep(rec StepRecord) {
	r.Steps = append(r.Steps, rec)
}
