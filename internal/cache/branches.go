package cache

import (
	"context"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/store"
)

// DefaultBranchSource answers which branch of a repository is the default.
// *Repositories implements it.
type DefaultBranchSource interface {
	DefaultBranch(repo domain.RepoRef) string
}

// Branches caches branches per repository. A fetch replaces the set and
// marks the repository's default branch as current.
type Branches struct {
	core     core[string, domain.Branch]
	defaults DefaultBranchSource
}

// NewBranches returns an empty branch cache. defaults may be nil, in which
// case no branch is ever current.
func NewBranches(deps Deps, defaults DefaultBranchSource, opts ...Option) *Branches {
	deps = deps.withDefaults()
	s := applyOptions(DefaultBranchTTL, opts)
	b := &Branches{defaults: defaults}
	b.core = core[string, domain.Branch]{
		kind:  KindBranches,
		deps:  deps,
		ttl:   s.ttl,
		mode:  replaceScope,
		table: store.TableBranches,
		keyOf: func(br domain.Branch) string { return br.Name },
		clone: func(br domain.Branch) domain.Branch { return br },
		less:  lessBranch,
		toRow: deps.Mapper.BranchToRow,
		fromRow: func(row store.Row, scope domain.Scope) (domain.Branch, bool) {
			repo, err := scope.Repo()
			if err != nil {
				return domain.Branch{}, false
			}
			br := deps.Mapper.BranchFromRow(row, repo)
			return br, br.Name != ""
		},
		derive: b.markCurrent,
	}
	b.core.init()
	return b
}

// lessBranch orders the current branch first, then by name.
func lessBranch(a, b domain.Branch) bool {
	if a.Current != b.Current {
		return a.Current
	}
	return a.Name < b.Name
}

func (b *Branches) defaultBranch(repo domain.RepoRef) string {
	if b.defaults == nil {
		return ""
	}
	return b.defaults.DefaultBranch(repo)
}

// markCurrent runs under core.mu. The default branch is read on every change
// so a new default moves the flag instead of adding a second current branch.
func (b *Branches) markCurrent(scope domain.Scope, items map[string]domain.Branch) {
	if len(items) == 0 {
		return
	}
	repo, err := scope.Repo()
	if err != nil {
		return
	}
	def := b.defaultBranch(repo)
	for name, br := range items {
		br.Current = def != "" && name == def
		items[name] = br
	}
}

// Fetch refreshes a repository's branches.
func (b *Branches) Fetch(ctx context.Context, repo domain.RepoRef, force bool) (FetchResult, error) {
	return b.core.fetch(ctx, domain.RepoScope(repo), force,
		func(ctx context.Context) ([]domain.Branch, error) {
			branches, err := b.core.deps.Remote.ListBranches(ctx, repo)
			if err != nil {
				return nil, err
			}
			for i := range branches {
				if branches[i].Repo.IsZero() {
					branches[i].Repo = repo
				}
			}
			domain.MarkCurrent(branches, b.defaultBranch(repo))
			return branches, nil
		},
		func(branches []domain.Branch) error {
			seen := make(map[string]struct{}, len(branches))
			for _, br := range branches {
				if br.Repo != repo {
					return malformed("branch %q does not belong to %s", br.Name, repo)
				}
				if br.Name == "" {
					return malformed("branch in %s has no name", repo)
				}
				if _, dup := seen[br.Name]; dup {
					return malformed("branch %q listed twice in %s", br.Name, repo)
				}
				seen[br.Name] = struct{}{}
			}
			return nil
		},
	)
}

// List returns a repository's branches, current first.
func (b *Branches) List(repo domain.RepoRef) []domain.Branch {
	return b.core.list(domain.RepoScope(repo))
}

// Get returns one branch.
func (b *Branches) Get(repo domain.RepoRef, name string) (domain.Branch, bool) {
	return b.core.get(domain.RepoScope(repo), name)
}

// Known returns name and head SHA of every cached branch, in List order.
func (b *Branches) Known(repo domain.RepoRef) []domain.BranchRef {
	branches := b.List(repo)
	out := make([]domain.BranchRef, 0, len(branches))
	for _, br := range branches {
		out = append(out, domain.BranchRef{Name: br.Name, SHA: br.Commit.SHA})
	}
	return out
}

// IsStale reports whether the repository's branches need a refresh.
func (b *Branches) IsStale(repo domain.RepoRef) bool { return b.core.isStale(domain.RepoScope(repo)) }

// Meta returns the repository's staleness metadata.
func (b *Branches) Meta(repo domain.RepoRef) Meta { return b.core.metaOf(domain.RepoScope(repo)) }

// Update upserts a branch. Current is recomputed across the repository from
// the default branch, so at most one branch is current.
func (b *Branches) Update(br domain.Branch) {
	def := b.defaultBranch(br.Repo)
	br.Current = def != "" && br.Name == def
	b.core.update(domain.RepoScope(br.Repo), br)
}

// Hydrate loads a repository's branches from the durable store.
func (b *Branches) Hydrate(ctx context.Context, repo domain.RepoRef) error {
	_, err := b.core.hydrate(ctx, domain.RepoScope(repo))
	return err
}

// Clear drops a repository from memory. The durable store is untouched.
func (b *Branches) Clear(repo domain.RepoRef) { b.core.clear(domain.RepoScope(repo)) }

// ClearAll drops every repository from memory.
func (b *Branches) ClearAll() { b.core.clearAll() }

// Subscribe registers an observer and returns its unsubscribe func.
func (b *Branches) Subscribe(fn Observer) func() { return b.core.obs.subscribe(fn) }
