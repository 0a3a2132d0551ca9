package cache

import (
	"context"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/store"
)

// RepositoriesScope is the single scope of the repository list.
const RepositoriesScope domain.Scope = "*"

// Repositories caches the signed-in user's repository list. The list is
// replaced on every refresh.
type Repositories struct {
	core core[domain.RepoRef, domain.Repository]
}

// NewRepositories returns an empty repository cache.
func NewRepositories(deps Deps, opts ...Option) *Repositories {
	deps = deps.withDefaults()
	s := applyOptions(DefaultRepositoryTTL, opts)
	r := &Repositories{}
	r.core = core[domain.RepoRef, domain.Repository]{
		kind:    KindRepositories,
		deps:    deps,
		ttl:     s.ttl,
		mode:    replaceScope,
		table:   store.TableRepositories,
		keyOf:   func(r domain.Repository) domain.RepoRef { return r.Ref },
		clone:   func(r domain.Repository) domain.Repository { return r },
		less:    func(a, b domain.Repository) bool { return a.Ref.String() < b.Ref.String() },
		toRow:   deps.Mapper.RepositoryToRow,
		fromRow: func(row store.Row, _ domain.Scope) (domain.Repository, bool) {
			r := deps.Mapper.RepositoryFromRow(row)
			return r, !r.Ref.IsZero()
		},
		selectStmt: func(domain.Scope) store.Statement { return store.SelectAll(store.TableRepositories) },
		deleteStmt: func(domain.Scope) store.Statement { return store.DeleteAll(store.TableRepositories) },
	}
	r.core.init()
	return r
}

// Fetch refreshes the repository list.
func (r *Repositories) Fetch(ctx context.Context, force bool) (FetchResult, error) {
	return r.core.fetch(ctx, RepositoriesScope, force,
		func(ctx context.Context) ([]domain.Repository, error) {
			repos, err := r.core.deps.Remote.ListRepositories(ctx)
			for i := range repos {
				repos[i].Normalize()
			}
			return repos, err
		},
		validateRepositories,
	)
}

func validateRepositories(repos []domain.Repository) error {
	seen := make(map[domain.RepoRef]struct{}, len(repos))
	for i, r := range repos {
		if r.Ref.Owner == "" || r.Ref.Name == "" {
			return malformed("repository %d has no owner/name", i)
		}
		if _, dup := seen[r.Ref]; dup {
			return malformed("repository %s listed twice", r.Ref)
		}
		seen[r.Ref] = struct{}{}
	}
	return nil
}

// List returns every cached repository ordered by owner/name.
func (r *Repositories) List() []domain.Repository {
	return r.core.list(RepositoriesScope)
}

// Get returns one repository.
func (r *Repositories) Get(ref domain.RepoRef) (domain.Repository, bool) {
	return r.core.get(RepositoriesScope, ref)
}

// DefaultBranch returns the repository's default branch, or "" if unknown.
func (r *Repositories) DefaultBranch(ref domain.RepoRef) string {
	repo, ok := r.Get(ref)
	if !ok {
		return ""
	}
	return repo.DefaultBranch
}

// IsStale reports whether the list needs a refresh.
func (r *Repositories) IsStale() bool { return r.core.isStale(RepositoriesScope) }

// Meta returns the list's staleness metadata.
func (r *Repositories) Meta() Meta { return r.core.metaOf(RepositoriesScope) }

// Update upserts one repository.
func (r *Repositories) Update(repo domain.Repository) {
	repo.Normalize()
	r.core.update(RepositoriesScope, repo)
}

// Hydrate loads the list from the durable store.
func (r *Repositories) Hydrate(ctx context.Context) error {
	_, err := r.core.hydrate(ctx, RepositoriesScope)
	return err
}

// Clear drops the list from memory. The durable store is untouched.
func (r *Repositories) Clear() { r.core.clear(RepositoriesScope) }

// ClearAll is Clear; it exists so every cache offers the same teardown.
func (r *Repositories) ClearAll() { r.core.clearAll() }

// Subscribe registers an observer and returns its unsubscribe func.
func (r *Repositories) Subscribe(fn Observer) func() { return r.core.obs.subscribe(fn) }
