package cache

import (
	"context"
	"sort"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/remote"
	"github.com/roach88/forgecache/internal/store"
)

// Issues caches issues per repository. Fetches merge into the existing set,
// so issues that dropped out of the filtered list (e.g. closed ones) stay
// visible until the scope is cleared.
type Issues struct {
	core  core[int, domain.Issue]
	state remote.ListState
}

// NewIssues returns an empty issue cache.
func NewIssues(deps Deps, opts ...Option) *Issues {
	deps = deps.withDefaults()
	s := applyOptions(DefaultIssueTTL, opts)
	c := &Issues{state: s.state}
	c.core = core[int, domain.Issue]{
		kind:  KindIssues,
		deps:  deps,
		ttl:   s.ttl,
		mode:  mergeScope,
		table: store.TableIssues,
		keyOf: func(i domain.Issue) int { return i.Number },
		clone: domain.Issue.Clone,
		less:  func(a, b domain.Issue) bool { return a.Number > b.Number },
		toRow: deps.Mapper.IssueToRow,
		fromRow: func(row store.Row, scope domain.Scope) (domain.Issue, bool) {
			repo, err := scope.Repo()
			if err != nil {
				return domain.Issue{}, false
			}
			i := deps.Mapper.IssueFromRow(row, repo)
			return i, i.Number > 0
		},
	}
	c.core.init()
	return c
}

// Fetch refreshes a repository's issues.
func (c *Issues) Fetch(ctx context.Context, repo domain.RepoRef, force bool) (FetchResult, error) {
	return c.core.fetch(ctx, domain.RepoScope(repo), force,
		func(ctx context.Context) ([]domain.Issue, error) {
			issues, err := c.core.deps.Remote.ListIssues(ctx, repo, c.state)
			if err != nil {
				return nil, err
			}
			for i := range issues {
				if issues[i].Repo.IsZero() {
					issues[i].Repo = repo
				}
				issues[i].Normalize()
			}
			return issues, nil
		},
		func(issues []domain.Issue) error { return validateNumbered(repo, issues, domain.Issue.Key) },
	)
}

// List returns a repository's issues, newest number first.
func (c *Issues) List(repo domain.RepoRef) []domain.Issue {
	return c.core.list(domain.RepoScope(repo))
}

// Get returns one issue.
func (c *Issues) Get(repo domain.RepoRef, number int) (domain.Issue, bool) {
	return c.core.get(domain.RepoScope(repo), number)
}

// IsStale reports whether the repository's issues need a refresh.
func (c *Issues) IsStale(repo domain.RepoRef) bool { return c.core.isStale(domain.RepoScope(repo)) }

// Meta returns the repository's staleness metadata.
func (c *Issues) Meta(repo domain.RepoRef) Meta { return c.core.metaOf(domain.RepoScope(repo)) }

// Update normalises and upserts an issue.
func (c *Issues) Update(i domain.Issue) {
	i.Normalize()
	c.core.update(domain.RepoScope(i.Repo), i)
}

// Hydrate loads a repository's issues from the durable store.
func (c *Issues) Hydrate(ctx context.Context, repo domain.RepoRef) error {
	_, err := c.core.hydrate(ctx, domain.RepoScope(repo))
	return err
}

// Clear drops a repository from memory. The durable store is untouched.
func (c *Issues) Clear(repo domain.RepoRef) { c.core.clear(domain.RepoScope(repo)) }

// ClearAll drops every repository from memory.
func (c *Issues) ClearAll() { c.core.clearAll() }

// Subscribe registers an observer and returns its unsubscribe func.
func (c *Issues) Subscribe(fn Observer) func() { return c.core.obs.subscribe(fn) }

// Close closes issues as one batch: all flip locally, one remote call, and
// on failure all are restored.
func (c *Issues) Close(ctx context.Context, repo domain.RepoRef, numbers ...int) ([]domain.Issue, error) {
	now := c.core.deps.Now().UTC()
	return c.setState(ctx, repo, numbers, remote.OpCloseIssues,
		func(i domain.Issue) domain.Issue {
			i.State = domain.StateClosed
			closed := now
			i.ClosedAt = &closed
			return i
		},
		c.core.deps.Remote.CloseIssues,
	)
}

// Reopen reopens issues as one batch.
func (c *Issues) Reopen(ctx context.Context, repo domain.RepoRef, numbers ...int) ([]domain.Issue, error) {
	return c.setState(ctx, repo, numbers, remote.OpReopenIssues,
		func(i domain.Issue) domain.Issue {
			i.State = domain.StateOpen
			i.ClosedAt = nil
			return i
		},
		c.core.deps.Remote.ReopenIssues,
	)
}

func (c *Issues) setState(
	ctx context.Context,
	repo domain.RepoRef,
	numbers []int,
	op remote.Op,
	local func(domain.Issue) domain.Issue,
	call func(context.Context, domain.RepoRef, []int) ([]domain.Issue, error),
) ([]domain.Issue, error) {
	numbers = uniqueSorted(numbers)
	if len(numbers) == 0 {
		return []domain.Issue{}, nil
	}
	return c.core.mutate(ctx, domain.RepoScope(repo), numbers, op, local,
		func(ctx context.Context, _ []domain.Issue) ([]domain.Issue, error) {
			issues, err := call(ctx, repo, numbers)
			if err != nil {
				return nil, err
			}
			return c.authoritative(repo, issues)
		},
	)
}

func (c *Issues) authoritative(repo domain.RepoRef, issues []domain.Issue) ([]domain.Issue, error) {
	for i := range issues {
		if issues[i].Repo.IsZero() {
			issues[i].Repo = repo
		}
		issues[i].Normalize()
	}
	if err := validateNumbered(repo, issues, domain.Issue.Key); err != nil {
		return nil, err
	}
	return issues, nil
}

// AddLabels adds labels to an issue.
func (c *Issues) AddLabels(ctx context.Context, repo domain.RepoRef, number int, names ...string) (domain.Issue, error) {
	return c.relabel(ctx, repo, number, remote.OpAddLabels,
		func(ls []domain.Label) []domain.Label { return domain.WithLabels(ls, names...) },
		func(ctx context.Context) ([]domain.Label, error) {
			return c.core.deps.Remote.AddLabels(ctx, repo, number, names)
		},
	)
}

// RemoveLabels removes labels from an issue.
func (c *Issues) RemoveLabels(ctx context.Context, repo domain.RepoRef, number int, names ...string) (domain.Issue, error) {
	return c.relabel(ctx, repo, number, remote.OpRemoveLabels,
		func(ls []domain.Label) []domain.Label { return domain.WithoutLabels(ls, names...) },
		func(ctx context.Context) ([]domain.Label, error) {
			return c.core.deps.Remote.RemoveLabels(ctx, repo, number, names)
		},
	)
}

func (c *Issues) relabel(
	ctx context.Context,
	repo domain.RepoRef,
	number int,
	op remote.Op,
	local func([]domain.Label) []domain.Label,
	call func(context.Context) ([]domain.Label, error),
) (domain.Issue, error) {
	out, err := c.core.mutate(ctx, domain.RepoScope(repo), []int{number}, op,
		func(i domain.Issue) domain.Issue {
			i.Labels = local(i.Labels)
			return i
		},
		func(ctx context.Context, optimistic []domain.Issue) ([]domain.Issue, error) {
			labels, err := call(ctx)
			if err != nil {
				return nil, err
			}
			i := optimistic[0]
			i.Labels = labels
			i.Normalize()
			return []domain.Issue{i}, nil
		},
	)
	if err != nil {
		return domain.Issue{}, err
	}
	return out[0], nil
}

func uniqueSorted(numbers []int) []int {
	seen := make(map[int]struct{}, len(numbers))
	out := make([]int, 0, len(numbers))
	for _, n := range numbers {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}
