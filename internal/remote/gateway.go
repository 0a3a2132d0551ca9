package remote

import (
	"context"

	"github.com/roach88/forgecache/internal/domain"
)

// ListState filters list calls.
type ListState string

const (
	ListOpen   ListState = "open"
	ListClosed ListState = "closed"
	ListAll    ListState = "all"
)

// ParseListState accepts open, closed or all. Anything else is open.
func ParseListState(s string) ListState {
	switch ListState(s) {
	case ListClosed, ListAll:
		return ListState(s)
	default:
		return ListOpen
	}
}

// Matches reports whether an entity in state st passes the filter.
func (f ListState) Matches(st domain.State) bool {
	switch f {
	case ListAll:
		return true
	case ListClosed:
		return st == domain.StateClosed
	default:
		return st == domain.StateOpen
	}
}

// ReviewEvent is the verdict of a submitted review.
type ReviewEvent string

const (
	ReviewApprove        ReviewEvent = "APPROVE"
	ReviewRequestChanges ReviewEvent = "REQUEST_CHANGES"
)

// MergeMethod selects how a pull request is merged.
type MergeMethod string

const (
	MergeCommit MergeMethod = "merge"
	MergeSquash MergeMethod = "squash"
	MergeRebase MergeMethod = "rebase"
)

// Gateway is the remote source of truth. Mutations return the authoritative
// state after the change so callers can reconcile optimistic updates.
type Gateway interface {
	ListRepositories(ctx context.Context) ([]domain.Repository, error)
	ListPullRequests(ctx context.Context, repo domain.RepoRef, state ListState) ([]domain.PullRequest, error)
	GetPullRequest(ctx context.Context, repo domain.RepoRef, number int) (domain.PullRequest, error)
	ListIssues(ctx context.Context, repo domain.RepoRef, state ListState) ([]domain.Issue, error)
	ListBranches(ctx context.Context, repo domain.RepoRef) ([]domain.Branch, error)

	// GetCheckStatusForBranches returns one status per requested branch,
	// keyed by branch name. Branches without runs map to an empty status.
	GetCheckStatusForBranches(ctx context.Context, repo domain.RepoRef, branches []domain.BranchRef) (map[string]domain.CheckStatus, error)

	CreateReview(ctx context.Context, repo domain.RepoRef, number int, event ReviewEvent, body string) (domain.PullRequest, error)
	MergePullRequest(ctx context.Context, repo domain.RepoRef, number int, method MergeMethod) (domain.PullRequest, error)
	UpdatePullRequestDraft(ctx context.Context, repo domain.RepoRef, number int, draft bool) (domain.PullRequest, error)

	// AddLabels and RemoveLabels work on pull requests and issues alike and
	// return the resulting label set.
	AddLabels(ctx context.Context, repo domain.RepoRef, number int, labels []string) ([]domain.Label, error)
	RemoveLabels(ctx context.Context, repo domain.RepoRef, number int, labels []string) ([]domain.Label, error)

	CloseIssues(ctx context.Context, repo domain.RepoRef, numbers []int) ([]domain.Issue, error)
	ReopenIssues(ctx context.Context, repo domain.RepoRef, numbers []int) ([]domain.Issue, error)
}
