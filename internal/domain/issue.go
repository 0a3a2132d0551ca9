package domain

import "time"

// IssueRef is a lightweight back-reference from an issue to a pull request.
type IssueRef struct {
	Number int    `json:"number" yaml:"number"`
	Title  string `json:"title,omitempty" yaml:"title,omitempty"`
	State  State  `json:"state,omitempty" yaml:"state,omitempty"`
}

// BranchRef is a lightweight back-reference from an issue to a branch.
type BranchRef struct {
	Name string `json:"name" yaml:"name"`
	SHA  string `json:"sha,omitempty" yaml:"sha,omitempty"`
}

// Issue is a cached issue. State is strictly open or closed.
type Issue struct {
	Repo   RepoRef `json:"repo" yaml:"repo"`
	Number int     `json:"number" yaml:"number"`

	Title     string   `json:"title" yaml:"title"`
	Body      string   `json:"body" yaml:"body"`
	State     State    `json:"state" yaml:"state"`
	Author    string   `json:"author" yaml:"author"`
	Labels    []Label  `json:"labels" yaml:"labels"`
	Assignees []string `json:"assignees" yaml:"assignees"`
	Comments  int      `json:"comments" yaml:"comments"`

	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty" yaml:"closed_at,omitempty"`

	LinkedPullRequests []IssueRef  `json:"linked_pull_requests" yaml:"linked_pull_requests"`
	LinkedBranches     []BranchRef `json:"linked_branches" yaml:"linked_branches"`
}

// Key returns the composite identity.
func (i Issue) Key() NumberKey {
	return NumberKey{Repo: i.Repo, Number: i.Number}
}

// Normalize enforces the binary state and dedups the sets.
func (i *Issue) Normalize() {
	if i.State != StateClosed {
		i.State = StateOpen
	}
	i.Labels = NormalizeLabels(i.Labels)
	i.Assignees = NormalizeLogins(i.Assignees)
	if i.LinkedPullRequests == nil {
		i.LinkedPullRequests = []IssueRef{}
	}
	if i.LinkedBranches == nil {
		i.LinkedBranches = []BranchRef{}
	}
}

// Clone returns a deep copy.
func (i Issue) Clone() Issue {
	out := i
	out.Labels = CloneLabels(i.Labels)
	out.Assignees = cloneStrings(i.Assignees)
	out.ClosedAt = cloneTime(i.ClosedAt)
	if i.LinkedPullRequests != nil {
		out.LinkedPullRequests = append([]IssueRef{}, i.LinkedPullRequests...)
	}
	if i.LinkedBranches != nil {
		out.LinkedBranches = append([]BranchRef{}, i.LinkedBranches...)
	}
	return out
}
