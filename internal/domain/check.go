package domain

import "time"

// CheckRunStatus is the lifecycle state of a single check run.
type CheckRunStatus string

const (
	CheckQueued     CheckRunStatus = "queued"
	CheckInProgress CheckRunStatus = "in_progress"
	CheckCompleted  CheckRunStatus = "completed"
)

// Conclusion values reported by the forge for completed runs.
const (
	ConclusionSuccess        = "success"
	ConclusionFailure        = "failure"
	ConclusionTimedOut       = "timed_out"
	ConclusionCancelled      = "cancelled"
	ConclusionActionRequired = "action_required"
	ConclusionStartupFailure = "startup_failure"
	ConclusionSkipped        = "skipped"
	ConclusionNeutral        = "neutral"
	ConclusionStale          = "stale"
)

// OverallStatus is the aggregate over every run of a branch.
type OverallStatus string

const (
	OverallSuccess  OverallStatus = "success"
	OverallFailure  OverallStatus = "failure"
	OverallPending  OverallStatus = "pending"
	OverallNoChecks OverallStatus = "no-checks"
)

// CheckRun is one CI job result.
type CheckRun struct {
	ID          int64          `json:"id" yaml:"id"`
	Name        string         `json:"name" yaml:"name"`
	Status      CheckRunStatus `json:"status" yaml:"status"`
	Conclusion  string         `json:"conclusion,omitempty" yaml:"conclusion,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty" yaml:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	App         string         `json:"app,omitempty" yaml:"app,omitempty"`
	DetailsURL  string         `json:"details_url,omitempty" yaml:"details_url,omitempty"`
	HTMLURL     string         `json:"html_url,omitempty" yaml:"html_url,omitempty"`
}

// CheckBucket is the summary bucket a run falls into.
type CheckBucket int

const (
	BucketPending CheckBucket = iota
	BucketSuccess
	BucketFailure
	BucketSkipped
)

// Bucket classifies the run. Incomplete runs are pending whatever their
// conclusion. A completed run that did not finish green (failure, timed_out,
// cancelled, action_required, startup_failure) counts as a failure; other
// completed runs are skipped.
func (r CheckRun) Bucket() CheckBucket {
	if r.Status != CheckCompleted {
		return BucketPending
	}
	switch r.Conclusion {
	case ConclusionSuccess:
		return BucketSuccess
	case ConclusionFailure, ConclusionTimedOut, ConclusionCancelled,
		ConclusionActionRequired, ConclusionStartupFailure:
		return BucketFailure
	default:
		return BucketSkipped
	}
}

// CheckSummary is a denormalised count over CheckRuns.
// Total == Success + Failure + Pending + Skipped.
type CheckSummary struct {
	Total   int `json:"total" yaml:"total"`
	Success int `json:"success" yaml:"success"`
	Failure int `json:"failure" yaml:"failure"`
	Pending int `json:"pending" yaml:"pending"`
	Skipped int `json:"skipped" yaml:"skipped"`
}

// CheckStatus aggregates the check runs for the head commit of a branch.
type CheckStatus struct {
	Repo          RepoRef       `json:"repo" yaml:"repo"`
	Branch        string        `json:"branch" yaml:"branch"`
	SHA           string        `json:"sha" yaml:"sha"`
	CheckRuns     []CheckRun    `json:"check_runs" yaml:"check_runs"`
	OverallStatus OverallStatus `json:"overall_status" yaml:"overall_status"`
	Summary       CheckSummary  `json:"summary" yaml:"summary"`
	UpdatedAt     time.Time     `json:"updated_at" yaml:"updated_at"`
}

// NewCheckStatus builds a status with derived fields computed from runs.
func NewCheckStatus(repo RepoRef, branch, sha string, runs []CheckRun, updatedAt time.Time) CheckStatus {
	cs := CheckStatus{Repo: repo, Branch: branch, SHA: sha, CheckRuns: runs, UpdatedAt: updatedAt}
	cs.Recompute()
	return cs
}

// Recompute rederives Summary and OverallStatus from CheckRuns.
func (c *CheckStatus) Recompute() {
	if c.CheckRuns == nil {
		c.CheckRuns = []CheckRun{}
	}
	c.Summary = Summarize(c.CheckRuns)
	c.OverallStatus = Overall(c.Summary)
}

// Summarize folds runs into bucket counts.
func Summarize(runs []CheckRun) CheckSummary {
	var s CheckSummary
	for _, r := range runs {
		s.Total++
		switch r.Bucket() {
		case BucketSuccess:
			s.Success++
		case BucketFailure:
			s.Failure++
		case BucketPending:
			s.Pending++
		case BucketSkipped:
			s.Skipped++
		}
	}
	return s
}

// Overall derives the aggregate status: any failure wins, then any pending
// run, then any success. A set with only skipped runs reports no-checks,
// the same as an empty set.
func Overall(s CheckSummary) OverallStatus {
	switch {
	case s.Failure > 0:
		return OverallFailure
	case s.Pending > 0:
		return OverallPending
	case s.Success > 0:
		return OverallSuccess
	default:
		return OverallNoChecks
	}
}

// Clone returns a deep copy.
func (c CheckStatus) Clone() CheckStatus {
	out := c
	if c.CheckRuns != nil {
		out.CheckRuns = make([]CheckRun, len(c.CheckRuns))
		for i, r := range c.CheckRuns {
			r.StartedAt = cloneTime(r.StartedAt)
			r.CompletedAt = cloneTime(r.CompletedAt)
			out.CheckRuns[i] = r
		}
	}
	return out
}
