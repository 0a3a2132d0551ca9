package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/mapper"
	"github.com/roach88/forgecache/internal/remote"
	"github.com/roach88/forgecache/internal/store"
)

// Default TTLs.
const (
	DefaultRepositoryTTL  = 5 * time.Minute
	DefaultPullRequestTTL = 5 * time.Minute
	DefaultIssueTTL       = 5 * time.Minute
	DefaultBranchTTL      = 5 * time.Minute
	DefaultCheckTTL       = 2 * time.Minute
)

// Deps are the collaborators shared by every cache. Store and Persister may
// be nil, which disables hydration and write-behind respectively.
type Deps struct {
	Remote      remote.Gateway
	Credentials remote.CredentialSource
	Store       Reader
	Persister   *Persister
	Mapper      *mapper.Mapper
	Now         func() time.Time
	Logger      *slog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Mapper == nil {
		d.Mapper = mapper.MustNew(mapper.WithClock(d.Now), mapper.WithLogger(d.Logger))
	}
	return d
}

// credentials returns the signed-in user or ErrNotAuthenticated.
func (d Deps) credentials(ctx context.Context) (remote.Credentials, error) {
	if d.Credentials == nil {
		return remote.Credentials{}, ErrNotAuthenticated
	}
	c, err := d.Credentials.Credentials(ctx)
	if err != nil {
		return remote.Credentials{}, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	}
	if !c.Authenticated() {
		return remote.Credentials{}, ErrNotAuthenticated
	}
	return c, nil
}

// Option configures a cache.
type Option func(*settings)

type settings struct {
	ttl   time.Duration
	state remote.ListState
}

// WithTTL overrides the cache's freshness window.
func WithTTL(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithListState sets the state filter for pull request and issue fetches.
func WithListState(st remote.ListState) Option {
	return func(s *settings) { s.state = st }
}

func applyOptions(ttl time.Duration, opts []Option) settings {
	s := settings{ttl: ttl, state: remote.ListOpen}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// FetchResult says what a Fetch did.
type FetchResult int

const (
	// FetchFailed accompanies a non-nil error.
	FetchFailed FetchResult = iota
	// FetchSkipped means a fetch for the scope was already in flight.
	FetchSkipped
	// FetchCacheHit means the scope was fresh and no call was made.
	FetchCacheHit
	// FetchFetched means the remote was called and its data applied.
	FetchFetched
)

func (r FetchResult) String() string {
	switch r {
	case FetchSkipped:
		return "skipped"
	case FetchCacheHit:
		return "cache-hit"
	case FetchFetched:
		return "fetched"
	default:
		return "failed"
	}
}

// Meta is the staleness metadata of one scope. It lives for the process
// only and is never persisted.
type Meta struct {
	LastFetch time.Time
	Loading   bool
	Err       error
}

// Fetched reports whether the scope was ever fetched successfully.
func (m Meta) Fetched() bool { return !m.LastFetch.IsZero() }

// mergeMode selects how fetched entities combine with the scope's map.
type mergeMode int

const (
	// replaceScope drops entities absent from the response.
	replaceScope mergeMode = iota
	// mergeScope overwrites returned entities and keeps the rest.
	mergeScope
)

// core is the kind-independent cache: scope -> key -> entity plus metadata.
// Every transition happens inside one critical section; remote and durable
// I/O happen outside it.
type core[K comparable, E any] struct {
	kind  Kind
	deps  Deps
	ttl   time.Duration
	mode  mergeMode
	table string

	keyOf   func(E) K
	clone   func(E) E
	less    func(a, b E) bool
	toRow   func(E) store.Row
	fromRow func(store.Row, domain.Scope) (E, bool)

	// selectStmt and deleteStmt default to the repo_id scope of table.
	selectStmt func(domain.Scope) store.Statement
	deleteStmt func(domain.Scope) store.Statement

	// derive runs under the lock after any change to a scope's entities.
	derive func(scope domain.Scope, items map[K]E)

	mu   sync.Mutex
	data map[domain.Scope]map[K]E
	meta map[domain.Scope]Meta
	obs  observers
}

func (c *core[K, E]) init() {
	c.data = map[domain.Scope]map[K]E{}
	c.meta = map[domain.Scope]Meta{}
	if c.selectStmt == nil {
		c.selectStmt = func(s domain.Scope) store.Statement { return store.SelectScope(c.table, string(s)) }
	}
	if c.deleteStmt == nil {
		c.deleteStmt = func(s domain.Scope) store.Statement { return store.DeleteScope(c.table, string(s)) }
	}
}

func (c *core[K, E]) notify(scope domain.Scope) {
	c.obs.notify(Event{Kind: c.kind, Scope: scope})
}

// fetch implements the fetch protocol shared by every cache. load is called
// outside the lock; validate rejects the whole payload.
func (c *core[K, E]) fetch(
	ctx context.Context,
	scope domain.Scope,
	force bool,
	load func(context.Context) ([]E, error),
	validate func([]E) error,
) (FetchResult, error) {
	if _, err := c.deps.credentials(ctx); err != nil {
		return FetchFailed, err
	}

	c.mu.Lock()
	m := c.meta[scope]
	if m.Loading {
		c.mu.Unlock()
		return FetchSkipped, nil
	}
	if !force && m.Fetched() && c.deps.Now().Sub(m.LastFetch) < c.ttl {
		c.mu.Unlock()
		return FetchCacheHit, nil
	}
	m.Loading = true
	c.meta[scope] = m
	c.mu.Unlock()
	c.notify(scope)

	items, err := load(ctx)
	if err == nil && validate != nil {
		err = validate(items)
	}

	c.mu.Lock()
	m = c.meta[scope]
	m.Loading = false
	if err != nil {
		m.Err = err
		c.meta[scope] = m
		c.mu.Unlock()
		c.deps.Logger.Debug("fetch failed", "kind", c.kind, "scope", scope, "error", err)
		c.notify(scope)
		return FetchFailed, fmt.Errorf("fetch %s %s: %w", c.kind, scope, err)
	}

	current := c.data[scope]
	if c.mode == replaceScope || current == nil {
		current = make(map[K]E, len(items))
	}
	for _, e := range items {
		current[c.keyOf(e)] = c.clone(e)
	}
	c.data[scope] = current
	if c.derive != nil {
		c.derive(scope, current)
	}
	m.LastFetch = c.deps.Now()
	m.Err = nil
	c.meta[scope] = m
	c.mu.Unlock()

	c.persist(scope, items, c.mode == replaceScope)
	c.notify(scope)
	return FetchFetched, nil
}

// persist mirrors entities to the durable store. With replace, the scope's
// rows are deleted first in the same transaction.
func (c *core[K, E]) persist(scope domain.Scope, items []E, replace bool) {
	if c.deps.Persister == nil || c.toRow == nil {
		return
	}
	stmts := make([]store.Statement, 0, len(items)+1)
	if replace {
		stmts = append(stmts, c.deleteStmt(scope))
	}
	for _, e := range items {
		stmts = append(stmts, store.Upsert(c.table, c.toRow(e)))
	}
	c.deps.Persister.Enqueue(Job{Kind: c.kind, Scope: string(scope), Statements: stmts})
}

func (c *core[K, E]) isStale(scope domain.Scope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.meta[scope]
	return !m.Fetched() || c.deps.Now().Sub(m.LastFetch) >= c.ttl
}

func (c *core[K, E]) get(scope domain.Scope, key K) (E, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.data[scope][key]
	if !ok {
		var zero E
		return zero, false
	}
	return c.clone(e), true
}

// list returns a sorted deep copy of the scope.
func (c *core[K, E]) list(scope domain.Scope) []E {
	c.mu.Lock()
	out := make([]E, 0, len(c.data[scope]))
	for _, e := range c.data[scope] {
		out = append(out, c.clone(e))
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return c.less(out[i], out[j]) })
	return out
}

// update upserts entities into a scope, mirrors them and notifies once.
func (c *core[K, E]) update(scope domain.Scope, items ...E) {
	if len(items) == 0 {
		return
	}
	c.mu.Lock()
	current := c.data[scope]
	if current == nil {
		current = map[K]E{}
		c.data[scope] = current
	}
	for _, e := range items {
		current[c.keyOf(e)] = c.clone(e)
	}
	if c.derive != nil {
		c.derive(scope, current)
	}
	c.mu.Unlock()

	c.persist(scope, items, false)
	c.notify(scope)
}

func (c *core[K, E]) metaOf(scope domain.Scope) Meta {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta[scope]
}

func (c *core[K, E]) clear(scope domain.Scope) {
	c.mu.Lock()
	delete(c.data, scope)
	delete(c.meta, scope)
	if c.derive != nil {
		c.derive(scope, nil)
	}
	c.mu.Unlock()
	c.notify(scope)
}

func (c *core[K, E]) clearAll() {
	c.mu.Lock()
	scopes := make(map[domain.Scope]struct{}, len(c.data)+len(c.meta))
	for s := range c.data {
		scopes[s] = struct{}{}
	}
	for s := range c.meta {
		scopes[s] = struct{}{}
	}
	c.data = map[domain.Scope]map[K]E{}
	c.meta = map[domain.Scope]Meta{}
	if c.derive != nil {
		for s := range scopes {
			c.derive(s, nil)
		}
	}
	c.mu.Unlock()

	ordered := make([]string, 0, len(scopes))
	for s := range scopes {
		ordered = append(ordered, string(s))
	}
	sort.Strings(ordered)
	for _, s := range ordered {
		c.notify(domain.Scope(s))
	}
}

// hydrate loads a scope from the durable store without touching lastFetch,
// so the data renders immediately but the scope is still stale. A scope that
// already holds data is left alone. Failures are logged and returned.
func (c *core[K, E]) hydrate(ctx context.Context, scope domain.Scope) (int, error) {
	if c.deps.Store == nil || c.fromRow == nil {
		return 0, nil
	}
	st := c.selectStmt(scope)
	res := c.deps.Store.Query(ctx, st.SQL, st.Args...)
	if !res.Success {
		c.deps.Logger.Warn("hydrate failed", "kind", c.kind, "scope", scope, "error", res.Err)
		return 0, fmt.Errorf("hydrate %s %s: %w", c.kind, scope, res.Err)
	}

	loaded := make(map[K]E, len(res.Data))
	for _, row := range res.Data {
		e, ok := c.fromRow(row, scope)
		if !ok {
			continue
		}
		loaded[c.keyOf(e)] = e
	}

	c.mu.Lock()
	if len(c.data[scope]) > 0 || len(loaded) == 0 {
		c.mu.Unlock()
		return 0, nil
	}
	c.data[scope] = loaded
	if c.derive != nil {
		c.derive(scope, loaded)
	}
	c.mu.Unlock()

	c.notify(scope)
	return len(loaded), nil
}

// mutation is one entity's part in an optimistic mutation.
type mutation[E any] struct {
	snapshot   E
	optimistic E
}

// mutate runs the optimistic protocol for the entities at keys: snapshot,
// local transition, remote call, then reconcile or restore. call receives the
// optimistic entities in key order and returns the authoritative ones.
func (c *core[K, E]) mutate(
	ctx context.Context,
	scope domain.Scope,
	keys []K,
	op remote.Op,
	local func(E) E,
	call func(context.Context, []E) ([]E, error),
) ([]E, error) {
	if _, err := c.deps.credentials(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	muts := make([]mutation[E], 0, len(keys))
	for _, k := range keys {
		e, ok := c.data[scope][k]
		if !ok {
			c.mu.Unlock()
			return nil, fmt.Errorf("%s %s %v: %w", op, scope, k, ErrNotCached)
		}
		muts = append(muts, mutation[E]{snapshot: c.clone(e), optimistic: local(c.clone(e))})
	}
	c.mu.Unlock()

	optimistic := make([]E, len(muts))
	for i, m := range muts {
		optimistic[i] = m.optimistic
	}
	c.update(scope, optimistic...)

	result, err := call(ctx, optimistic)
	if err != nil {
		snapshots := make([]E, len(muts))
		for i, m := range muts {
			snapshots[i] = m.snapshot
		}
		c.update(scope, snapshots...)
		msg := remote.HumanMessage(op, err)
		c.deps.Logger.Info("mutation rolled back", "kind", c.kind, "scope", scope, "op", op, "error", err)
		return nil, &MutationError{Op: op, Message: msg, Err: err}
	}

	c.update(scope, result...)
	return result, nil
}
