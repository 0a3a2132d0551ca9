package cache

import (
	"context"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/remote"
	"github.com/roach88/forgecache/internal/store"
)

// PullRequests caches pull requests per repository. A fetch replaces the
// repository's set; groups are recomputed after every change.
type PullRequests struct {
	core   core[int, domain.PullRequest]
	state  remote.ListState
	groups map[domain.Scope][]Group // guarded by core.mu
}

// NewPullRequests returns an empty pull request cache.
func NewPullRequests(deps Deps, opts ...Option) *PullRequests {
	deps = deps.withDefaults()
	s := applyOptions(DefaultPullRequestTTL, opts)
	p := &PullRequests{state: s.state, groups: map[domain.Scope][]Group{}}
	p.core = core[int, domain.PullRequest]{
		kind:  KindPullRequests,
		deps:  deps,
		ttl:   s.ttl,
		mode:  replaceScope,
		table: store.TablePullRequests,
		keyOf: func(pr domain.PullRequest) int { return pr.Number },
		clone: domain.PullRequest.Clone,
		less:  func(a, b domain.PullRequest) bool { return a.Number > b.Number },
		toRow: deps.Mapper.PullRequestToRow,
		fromRow: func(row store.Row, scope domain.Scope) (domain.PullRequest, bool) {
			repo, err := scope.Repo()
			if err != nil {
				return domain.PullRequest{}, false
			}
			pr := deps.Mapper.PullRequestFromRow(row, repo)
			return pr, pr.Number > 0
		},
		derive: p.regroup,
	}
	p.core.init()
	return p
}

// regroup runs under core.mu.
func (p *PullRequests) regroup(scope domain.Scope, items map[int]domain.PullRequest) {
	if len(items) == 0 {
		delete(p.groups, scope)
		return
	}
	prs := make([]domain.PullRequest, 0, len(items))
	for _, pr := range items {
		prs = append(prs, pr.Clone())
	}
	p.groups[scope] = GroupPullRequests(prs)
}

// Fetch refreshes a repository's pull requests.
func (p *PullRequests) Fetch(ctx context.Context, repo domain.RepoRef, force bool) (FetchResult, error) {
	return p.core.fetch(ctx, domain.RepoScope(repo), force,
		func(ctx context.Context) ([]domain.PullRequest, error) {
			prs, err := p.core.deps.Remote.ListPullRequests(ctx, repo, p.state)
			if err != nil {
				return nil, err
			}
			for i := range prs {
				if prs[i].Repo.IsZero() {
					prs[i].Repo = repo
				}
				prs[i].TogglingDraft = false
				prs[i].Normalize()
			}
			return prs, nil
		},
		func(prs []domain.PullRequest) error { return validateNumbered(repo, prs, pullRequestKey) },
	)
}

func pullRequestKey(p domain.PullRequest) domain.NumberKey { return p.Key() }

// validateNumbered checks that every entity belongs to repo, has a positive
// number and appears once.
func validateNumbered[E any](repo domain.RepoRef, items []E, key func(E) domain.NumberKey) error {
	seen := make(map[int]struct{}, len(items))
	for _, e := range items {
		k := key(e)
		if k.Repo != repo {
			return malformed("entity %s does not belong to %s", k, repo)
		}
		if k.Number <= 0 {
			return malformed("entity in %s has invalid number %d", repo, k.Number)
		}
		if _, dup := seen[k.Number]; dup {
			return malformed("entity %s listed twice", k)
		}
		seen[k.Number] = struct{}{}
	}
	return nil
}

// List returns a repository's pull requests, newest number first.
func (p *PullRequests) List(repo domain.RepoRef) []domain.PullRequest {
	return p.core.list(domain.RepoScope(repo))
}

// Get returns one pull request.
func (p *PullRequests) Get(repo domain.RepoRef, number int) (domain.PullRequest, bool) {
	return p.core.get(domain.RepoScope(repo), number)
}

// Groups returns the repository's pull requests grouped by prefix.
func (p *PullRequests) Groups(repo domain.RepoRef) []Group {
	p.core.mu.Lock()
	defer p.core.mu.Unlock()
	src := p.groups[domain.RepoScope(repo)]
	out := make([]Group, len(src))
	for i, g := range src {
		prs := make([]domain.PullRequest, len(g.PullRequests))
		for j, pr := range g.PullRequests {
			prs[j] = pr.Clone()
		}
		out[i] = Group{Prefix: g.Prefix, PullRequests: prs}
	}
	return out
}

// IsStale reports whether the repository's pull requests need a refresh.
func (p *PullRequests) IsStale(repo domain.RepoRef) bool {
	return p.core.isStale(domain.RepoScope(repo))
}

// Meta returns the repository's staleness metadata.
func (p *PullRequests) Meta(repo domain.RepoRef) Meta {
	return p.core.metaOf(domain.RepoScope(repo))
}

// Update normalises and upserts a pull request.
func (p *PullRequests) Update(pr domain.PullRequest) {
	pr.Normalize()
	p.core.update(domain.RepoScope(pr.Repo), pr)
}

// Hydrate loads a repository's pull requests from the durable store.
func (p *PullRequests) Hydrate(ctx context.Context, repo domain.RepoRef) error {
	_, err := p.core.hydrate(ctx, domain.RepoScope(repo))
	return err
}

// Clear drops a repository from memory. The durable store is untouched.
func (p *PullRequests) Clear(repo domain.RepoRef) { p.core.clear(domain.RepoScope(repo)) }

// ClearAll drops every repository from memory.
func (p *PullRequests) ClearAll() { p.core.clearAll() }

// Subscribe registers an observer and returns its unsubscribe func.
func (p *PullRequests) Subscribe(fn Observer) func() { return p.core.obs.subscribe(fn) }

// mutateOne runs a single-entity optimistic mutation.
func (p *PullRequests) mutateOne(
	ctx context.Context,
	repo domain.RepoRef,
	number int,
	op remote.Op,
	local func(domain.PullRequest) domain.PullRequest,
	call func(context.Context, domain.PullRequest) (domain.PullRequest, error),
) (domain.PullRequest, error) {
	out, err := p.core.mutate(ctx, domain.RepoScope(repo), []int{number}, op,
		func(pr domain.PullRequest) domain.PullRequest {
			pr = local(pr)
			pr.Normalize()
			return pr
		},
		func(ctx context.Context, optimistic []domain.PullRequest) ([]domain.PullRequest, error) {
			pr, err := call(ctx, optimistic[0])
			if err != nil {
				return nil, err
			}
			if pr.Repo.IsZero() {
				pr.Repo = repo
			}
			pr.TogglingDraft = false
			pr.Normalize()
			return []domain.PullRequest{pr}, nil
		},
	)
	if err != nil {
		return domain.PullRequest{}, err
	}
	return out[0], nil
}

// review moves login between the reviewer lists for a verdict.
func review(pr domain.PullRequest, login string, event remote.ReviewEvent) domain.PullRequest {
	pr.ApprovedBy = domain.WithoutLogin(pr.ApprovedBy, login)
	pr.ChangesRequestedBy = domain.WithoutLogin(pr.ChangesRequestedBy, login)
	pr.RequestedReviewers = domain.WithoutLogin(pr.RequestedReviewers, login)
	if event == remote.ReviewApprove {
		pr.ApprovedBy = append(pr.ApprovedBy, login)
	} else {
		pr.ChangesRequestedBy = append(pr.ChangesRequestedBy, login)
	}
	return pr
}

func (p *PullRequests) submitReview(ctx context.Context, repo domain.RepoRef, number int, event remote.ReviewEvent, body string) (domain.PullRequest, error) {
	op := remote.OpApprove
	if event == remote.ReviewRequestChanges {
		op = remote.OpRequestChanges
	}
	creds, err := p.core.deps.credentials(ctx)
	if err != nil {
		return domain.PullRequest{}, err
	}
	return p.mutateOne(ctx, repo, number, op,
		func(pr domain.PullRequest) domain.PullRequest { return review(pr, creds.Login, event) },
		func(ctx context.Context, _ domain.PullRequest) (domain.PullRequest, error) {
			return p.core.deps.Remote.CreateReview(ctx, repo, number, event, body)
		},
	)
}

// Approve approves a pull request as the signed-in user.
func (p *PullRequests) Approve(ctx context.Context, repo domain.RepoRef, number int) (domain.PullRequest, error) {
	return p.submitReview(ctx, repo, number, remote.ReviewApprove, "")
}

// RequestChanges requests changes on a pull request as the signed-in user.
func (p *PullRequests) RequestChanges(ctx context.Context, repo domain.RepoRef, number int, body string) (domain.PullRequest, error) {
	return p.submitReview(ctx, repo, number, remote.ReviewRequestChanges, body)
}

// Merge merges a pull request. Locally it becomes merged and closed at once.
func (p *PullRequests) Merge(ctx context.Context, repo domain.RepoRef, number int, method remote.MergeMethod) (domain.PullRequest, error) {
	now := p.core.deps.Now().UTC()
	return p.mutateOne(ctx, repo, number, remote.OpMerge,
		func(pr domain.PullRequest) domain.PullRequest {
			pr.Merged = true
			pr.State = domain.StateClosed
			pr.MergedAt = &now
			if pr.ClosedAt == nil {
				closed := now
				pr.ClosedAt = &closed
			}
			return pr
		},
		func(ctx context.Context, _ domain.PullRequest) (domain.PullRequest, error) {
			return p.core.deps.Remote.MergePullRequest(ctx, repo, number, method)
		},
	)
}

// ToggleDraft flips the draft flag. TogglingDraft is set while the call is
// in flight and cleared by reconcile or rollback.
func (p *PullRequests) ToggleDraft(ctx context.Context, repo domain.RepoRef, number int) (domain.PullRequest, error) {
	var target bool
	return p.mutateOne(ctx, repo, number, remote.OpToggleDraft,
		func(pr domain.PullRequest) domain.PullRequest {
			target = !pr.Draft
			pr.Draft = target
			pr.TogglingDraft = true
			return pr
		},
		func(ctx context.Context, _ domain.PullRequest) (domain.PullRequest, error) {
			return p.core.deps.Remote.UpdatePullRequestDraft(ctx, repo, number, target)
		},
	)
}

// AddLabels adds labels to a pull request.
func (p *PullRequests) AddLabels(ctx context.Context, repo domain.RepoRef, number int, names ...string) (domain.PullRequest, error) {
	return p.mutateOne(ctx, repo, number, remote.OpAddLabels,
		func(pr domain.PullRequest) domain.PullRequest {
			pr.Labels = domain.WithLabels(pr.Labels, names...)
			return pr
		},
		func(ctx context.Context, optimistic domain.PullRequest) (domain.PullRequest, error) {
			labels, err := p.core.deps.Remote.AddLabels(ctx, repo, number, names)
			if err != nil {
				return domain.PullRequest{}, err
			}
			optimistic.Labels = labels
			return optimistic, nil
		},
	)
}

// RemoveLabels removes labels from a pull request.
func (p *PullRequests) RemoveLabels(ctx context.Context, repo domain.RepoRef, number int, names ...string) (domain.PullRequest, error) {
	return p.mutateOne(ctx, repo, number, remote.OpRemoveLabels,
		func(pr domain.PullRequest) domain.PullRequest {
			pr.Labels = domain.WithoutLabels(pr.Labels, names...)
			return pr
		},
		func(ctx context.Context, optimistic domain.PullRequest) (domain.PullRequest, error) {
			labels, err := p.core.deps.Remote.RemoveLabels(ctx, repo, number, names)
			if err != nil {
				return domain.PullRequest{}, err
			}
			optimistic.Labels = labels
			return optimistic, nil
		},
	)
}
