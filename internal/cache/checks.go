package cache

import (
	"context"
	"sort"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/store"
)

// Checks caches check statuses per repository, keyed by branch. Fetches
// merge, so statuses of branches not asked for are kept.
type Checks struct {
	core core[string, domain.CheckStatus]
}

// NewChecks returns an empty check status cache.
func NewChecks(deps Deps, opts ...Option) *Checks {
	deps = deps.withDefaults()
	s := applyOptions(DefaultCheckTTL, opts)
	c := &Checks{}
	c.core = core[string, domain.CheckStatus]{
		kind:  KindChecks,
		deps:  deps,
		ttl:   s.ttl,
		mode:  mergeScope,
		table: store.TableCheckStatuses,
		keyOf: func(cs domain.CheckStatus) string { return cs.Branch },
		clone: domain.CheckStatus.Clone,
		less:  func(a, b domain.CheckStatus) bool { return a.Branch < b.Branch },
		toRow: deps.Mapper.CheckStatusToRow,
		fromRow: func(row store.Row, scope domain.Scope) (domain.CheckStatus, bool) {
			repo, err := scope.Repo()
			if err != nil {
				return domain.CheckStatus{}, false
			}
			cs := deps.Mapper.CheckStatusFromRow(row, repo)
			return cs, cs.Branch != ""
		},
	}
	c.core.init()
	return c
}

// Fetch refreshes the statuses of the given branches. Branch SHAs are
// passed through to the remote so it can query the exact head commit.
func (c *Checks) Fetch(ctx context.Context, repo domain.RepoRef, branches []domain.BranchRef, force bool) (FetchResult, error) {
	return c.core.fetch(ctx, domain.RepoScope(repo), force,
		func(ctx context.Context) ([]domain.CheckStatus, error) {
			if len(branches) == 0 {
				return []domain.CheckStatus{}, nil
			}
			byBranch, err := c.core.deps.Remote.GetCheckStatusForBranches(ctx, repo, branches)
			if err != nil {
				return nil, err
			}
			names := make([]string, 0, len(byBranch))
			for name := range byBranch {
				names = append(names, name)
			}
			sort.Strings(names)

			out := make([]domain.CheckStatus, 0, len(byBranch))
			for _, name := range names {
				cs := byBranch[name]
				if cs.Branch == "" {
					cs.Branch = name
				}
				if cs.Repo.IsZero() {
					cs.Repo = repo
				}
				if cs.Branch != name {
					return nil, malformed("check status for %q reports branch %q", name, cs.Branch)
				}
				if cs.UpdatedAt.IsZero() {
					cs.UpdatedAt = c.core.deps.Now().UTC()
				}
				cs.Recompute()
				out = append(out, cs)
			}
			return out, nil
		},
		func(statuses []domain.CheckStatus) error {
			for _, cs := range statuses {
				if cs.Repo != repo {
					return malformed("check status for %q does not belong to %s", cs.Branch, repo)
				}
				if cs.Branch == "" {
					return malformed("check status in %s has no branch", repo)
				}
			}
			return nil
		},
	)
}

// List returns every cached status of a repository ordered by branch.
func (c *Checks) List(repo domain.RepoRef) []domain.CheckStatus {
	return c.core.list(domain.RepoScope(repo))
}

// Get returns one branch's status.
func (c *Checks) Get(repo domain.RepoRef, branch string) (domain.CheckStatus, bool) {
	return c.core.get(domain.RepoScope(repo), branch)
}

// Known returns branch and SHA of every cached status.
func (c *Checks) Known(repo domain.RepoRef) []domain.BranchRef {
	statuses := c.List(repo)
	out := make([]domain.BranchRef, 0, len(statuses))
	for _, cs := range statuses {
		out = append(out, domain.BranchRef{Name: cs.Branch, SHA: cs.SHA})
	}
	return out
}

// IsStale reports whether the repository's statuses need a refresh.
func (c *Checks) IsStale(repo domain.RepoRef) bool { return c.core.isStale(domain.RepoScope(repo)) }

// Meta returns the repository's staleness metadata.
func (c *Checks) Meta(repo domain.RepoRef) Meta { return c.core.metaOf(domain.RepoScope(repo)) }

// Update upserts a status after recomputing its derived fields.
func (c *Checks) Update(cs domain.CheckStatus) {
	cs.Recompute()
	c.core.update(domain.RepoScope(cs.Repo), cs)
}

// Hydrate loads a repository's statuses from the durable store.
func (c *Checks) Hydrate(ctx context.Context, repo domain.RepoRef) error {
	_, err := c.core.hydrate(ctx, domain.RepoScope(repo))
	return err
}

// Clear drops a repository from memory. The durable store is untouched.
func (c *Checks) Clear(repo domain.RepoRef) { c.core.clear(domain.RepoScope(repo)) }

// ClearAll drops every repository from memory.
func (c *Checks) ClearAll() { c.core.clearAll() }

// Subscribe registers an observer and returns its unsubscribe func.
func (c *Checks) Subscribe(fn Observer) func() { return c.core.obs.subscribe(fn) }
