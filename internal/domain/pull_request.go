package domain

import "time"

// State is the open/closed state shared by pull requests and issues.
type State string

const (
	StateOpen   State = "open"
	StateClosed State = "closed"
)

// ParseState maps a forge state string onto State. Anything unknown is open.
func ParseState(s string) State {
	switch s {
	case "closed", "CLOSED", "merged", "MERGED":
		return StateClosed
	default:
		return StateOpen
	}
}

// Mergeable is the forge's tri-state mergeability answer.
type Mergeable string

const (
	MergeableUnknown Mergeable = "unknown"
	MergeableYes     Mergeable = "true"
	MergeableNo      Mergeable = "false"
)

// MergeableFromPtr maps a nullable bool onto Mergeable.
func MergeableFromPtr(b *bool) Mergeable {
	switch {
	case b == nil:
		return MergeableUnknown
	case *b:
		return MergeableYes
	default:
		return MergeableNo
	}
}

// ParseMergeable accepts only "true" and "false"; anything else, including
// the empty string, is unknown.
func ParseMergeable(s string) Mergeable {
	switch Mergeable(s) {
	case MergeableYes:
		return MergeableYes
	case MergeableNo:
		return MergeableNo
	default:
		return MergeableUnknown
	}
}

// ReviewStatus is derived from the reviewer lists.
type ReviewStatus string

const (
	ReviewNone             ReviewStatus = "none"
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
)

// GitRef is one side (head or base) of a pull request.
type GitRef struct {
	Ref  string `json:"ref" yaml:"ref"`
	SHA  string `json:"sha" yaml:"sha"`
	Repo string `json:"repo" yaml:"repo"`
}

// PullRequest is a cached pull request.
type PullRequest struct {
	Repo   RepoRef `json:"repo" yaml:"repo"`
	Number int     `json:"number" yaml:"number"`

	Title     string    `json:"title" yaml:"title"`
	Body      string    `json:"body" yaml:"body"`
	State     State     `json:"state" yaml:"state"`
	Draft     bool      `json:"draft" yaml:"draft"`
	Merged    bool      `json:"merged" yaml:"merged"`
	Mergeable Mergeable `json:"mergeable" yaml:"mergeable"`

	Head GitRef `json:"head" yaml:"head"`
	Base GitRef `json:"base" yaml:"base"`

	Author             string   `json:"author" yaml:"author"`
	Assignees          []string `json:"assignees" yaml:"assignees"`
	RequestedReviewers []string `json:"requested_reviewers" yaml:"requested_reviewers"`
	Labels             []Label  `json:"labels" yaml:"labels"`

	Comments     int `json:"comments" yaml:"comments"`
	Additions    int `json:"additions" yaml:"additions"`
	Deletions    int `json:"deletions" yaml:"deletions"`
	ChangedFiles int `json:"changed_files" yaml:"changed_files"`

	CreatedAt      time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" yaml:"updated_at"`
	ClosedAt       *time.Time `json:"closed_at,omitempty" yaml:"closed_at,omitempty"`
	MergedAt       *time.Time `json:"merged_at,omitempty" yaml:"merged_at,omitempty"`
	MergeCommitSHA string     `json:"merge_commit_sha,omitempty" yaml:"merge_commit_sha,omitempty"`

	ReviewStatus       ReviewStatus `json:"review_status" yaml:"review_status"`
	ApprovedBy         []string     `json:"approved_by" yaml:"approved_by"`
	ChangesRequestedBy []string     `json:"changes_requested_by" yaml:"changes_requested_by"`

	// TogglingDraft is set only while a draft toggle is in flight.
	TogglingDraft bool `json:"toggling_draft,omitempty" yaml:"-"`
}

// Key returns the composite identity.
func (p PullRequest) Key() NumberKey {
	return NumberKey{Repo: p.Repo, Number: p.Number}
}

// Normalize enforces the entity invariants: merged implies closed, a merged
// pull request is never a draft, sets are deduplicated and the review status
// is rederived.
func (p *PullRequest) Normalize() {
	if p.State == "" {
		p.State = StateOpen
	}
	p.Mergeable = ParseMergeable(string(p.Mergeable))
	if p.Merged {
		p.State = StateClosed
		p.Draft = false
	}
	p.Assignees = NormalizeLogins(p.Assignees)
	p.RequestedReviewers = NormalizeLogins(p.RequestedReviewers)
	p.Labels = NormalizeLabels(p.Labels)
	p.ApprovedBy = NormalizeLogins(p.ApprovedBy)
	p.ChangesRequestedBy = NormalizeLogins(p.ChangesRequestedBy)
	p.ReviewStatus = DeriveReviewStatus(p.ApprovedBy, p.ChangesRequestedBy)
}

// DeriveReviewStatus folds reviewer lists into a status. Outstanding change
// requests dominate approvals.
func DeriveReviewStatus(approvedBy, changesRequestedBy []string) ReviewStatus {
	switch {
	case len(changesRequestedBy) > 0:
		return ReviewChangesRequested
	case len(approvedBy) > 0:
		return ReviewApproved
	default:
		return ReviewNone
	}
}

// Clone returns a deep copy.
func (p PullRequest) Clone() PullRequest {
	out := p
	out.Assignees = cloneStrings(p.Assignees)
	out.RequestedReviewers = cloneStrings(p.RequestedReviewers)
	out.Labels = CloneLabels(p.Labels)
	out.ApprovedBy = cloneStrings(p.ApprovedBy)
	out.ChangesRequestedBy = cloneStrings(p.ChangesRequestedBy)
	out.ClosedAt = cloneTime(p.ClosedAt)
	out.MergedAt = cloneTime(p.MergedAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
