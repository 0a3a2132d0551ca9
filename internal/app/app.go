// Package app is the composition root. Every service is built once by New
// and handed out by reference; nothing in the module reaches for a global.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/roach88/forgecache/internal/cache"
	"github.com/roach88/forgecache/internal/config"
	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/mapper"
	"github.com/roach88/forgecache/internal/orchestrator"
	"github.com/roach88/forgecache/internal/remote"
	"github.com/roach88/forgecache/internal/remote/fixture"
	"github.com/roach88/forgecache/internal/remote/ghcli"
	"github.com/roach88/forgecache/internal/store"
)

// credentialTTL bounds how long an authenticated lookup is reused. gh needs
// two subprocesses per lookup.
const credentialTTL = time.Minute

// App holds the wired services.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store       *store.Store
	Persister   *cache.Persister
	Remote      remote.Gateway
	Credentials remote.CredentialSource

	Repositories *cache.Repositories
	PullRequests *cache.PullRequests
	Issues       *cache.Issues
	Branches     *cache.Branches
	Checks       *cache.Checks
	Scheduler    *cache.Scheduler
	Orchestrator *orchestrator.Orchestrator

	stopPersister context.CancelFunc
	persisterDone chan struct{}
	closeOnce     sync.Once
	closeErr      error
}

// Option customises New.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
	remote remote.Gateway
	runIDs orchestrator.RunIDGenerator
	ticker func(time.Duration) cache.Ticker
}

// WithLogger sets the logger handed to every service.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithRemote bypasses remote.kind and uses g. g is also the credential
// source when it implements remote.CredentialSource.
func WithRemote(g remote.Gateway) Option {
	return func(o *options) { o.remote = g }
}

// WithRunIDGenerator replaces the orchestrator's run id generator.
func WithRunIDGenerator(g orchestrator.RunIDGenerator) Option {
	return func(o *options) { o.runIDs = g }
}

// WithTicker replaces the scheduler's ticker factory.
func WithTicker(f func(time.Duration) cache.Ticker) Option {
	return func(o *options) { o.ticker = f }
}

// New opens the store, starts the write-behind persister and builds the
// caches, scheduler and orchestrator. The last sync time is restored from the
// store. Call Close to release everything.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	o := options{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	gw, creds, err := buildRemote(cfg, o)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:        cfg,
		Logger:        o.logger,
		Store:         st,
		Remote:        gw,
		Credentials:   creds,
		persisterDone: make(chan struct{}),
	}

	a.Persister = cache.NewPersister(st, cache.WithPersisterLogger(o.logger))
	runCtx, cancel := context.WithCancel(context.Background())
	a.stopPersister = cancel
	go func() {
		defer close(a.persisterDone)
		_ = a.Persister.Run(runCtx)
	}()

	deps := cache.Deps{
		Remote:      gw,
		Credentials: creds,
		Store:       st,
		Persister:   a.Persister,
		Mapper:      mapper.MustNew(mapper.WithClock(o.now), mapper.WithLogger(o.logger)),
		Now:         o.now,
		Logger:      o.logger,
	}
	a.Repositories = cache.NewRepositories(deps, cache.WithTTL(cfg.Cache.RepositoryTTL))
	a.PullRequests = cache.NewPullRequests(deps,
		cache.WithTTL(cfg.Cache.PullRequestTTL),
		cache.WithListState(cfg.PullRequests.State),
	)
	a.Issues = cache.NewIssues(deps, cache.WithTTL(cfg.Cache.IssueTTL))
	a.Branches = cache.NewBranches(deps, a.Repositories, cache.WithTTL(cfg.Cache.BranchTTL))
	a.Checks = cache.NewChecks(deps, cache.WithTTL(cfg.Cache.CheckTTL))

	schedOpts := []cache.SchedulerOption{
		cache.WithInterval(cfg.Refresh.CheckInterval),
		cache.WithSchedulerLogger(o.logger),
	}
	if o.ticker != nil {
		schedOpts = append(schedOpts, cache.WithTicker(o.ticker))
	}
	a.Scheduler = cache.NewScheduler(a.Checks, a.Branches, schedOpts...)

	orchOpts := []orchestrator.Option{
		orchestrator.WithSyncStateStore(st),
		orchestrator.WithClock(o.now),
		orchestrator.WithLogger(o.logger),
		orchestrator.WithAutoSyncAfter(cfg.Sync.AutoSyncAfter),
		orchestrator.WithStatusHold(cfg.Sync.StatusHold),
	}
	if o.runIDs != nil {
		orchOpts = append(orchOpts, orchestrator.WithRunIDGenerator(o.runIDs))
	}
	a.Orchestrator = orchestrator.New(a.Repositories, a.PullRequests, orchOpts...)

	if err := a.Orchestrator.Load(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}

	o.logger.Debug("app ready",
		"database", cfg.Database.Path,
		"remote", cfg.Remote.Kind,
		"config_file", cfg.File,
	)
	return a, nil
}

func buildRemote(cfg *config.Config, o options) (remote.Gateway, remote.CredentialSource, error) {
	env := remote.EnvCredentials{TokenEnv: cfg.Auth.TokenEnv, Login: cfg.Auth.Login}

	if o.remote != nil {
		if src, ok := o.remote.(remote.CredentialSource); ok {
			return o.remote, remote.FirstOf{src, env}, nil
		}
		return o.remote, env, nil
	}

	switch cfg.Remote.Kind {
	case config.RemoteFixture:
		gw, err := fixture.Load(cfg.Remote.Fixture, fixture.WithClock(o.now))
		if err != nil {
			return nil, nil, err
		}
		// The fixture login wins so mutations act as the fixture's user.
		return gw, remote.FirstOf{gw, env}, nil
	default:
		gw := ghcli.New(
			ghcli.WithRunner(ghcli.ExecRunner{Bin: cfg.Remote.Binary}),
			ghcli.WithTimeout(cfg.Remote.Timeout),
			ghcli.WithClock(o.now),
			ghcli.WithLogger(o.logger),
		)
		src := &memoCredentials{src: gw, ttl: credentialTTL, now: o.now}
		return gw, remote.FirstOf{env, src}, nil
	}
}

// Hydrate loads every cache from the durable store: the repository list
// first, then each listed repository. Hydrated data is stale until fetched.
// Failures are collected, not fatal.
func (a *App) Hydrate(ctx context.Context) error {
	if err := a.Repositories.Hydrate(ctx); err != nil {
		return fmt.Errorf("hydrate repositories: %w", err)
	}
	var errs []error
	for _, r := range a.Repositories.List() {
		if err := a.HydrateRepo(ctx, r.Ref); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// HydrateRepo loads one repository's pull requests, issues, branches and
// checks. Scopes already in memory are left alone.
func (a *App) HydrateRepo(ctx context.Context, repo domain.RepoRef) error {
	var errs []error
	for _, h := range []struct {
		kind cache.Kind
		fn   func(context.Context, domain.RepoRef) error
	}{
		{cache.KindPullRequests, a.PullRequests.Hydrate},
		{cache.KindIssues, a.Issues.Hydrate},
		{cache.KindBranches, a.Branches.Hydrate},
		{cache.KindChecks, a.Checks.Hydrate},
	} {
		if err := h.fn(ctx, repo); err != nil {
			errs = append(errs, fmt.Errorf("hydrate %s %s: %w", h.kind, repo, err))
		}
	}
	return errors.Join(errs...)
}

// ClearCache drops every cache from memory after stopping the background
// refresh, as on sign-out. The database is left alone; see PurgeStore.
func (a *App) ClearCache() {
	a.Scheduler.StopAll()
	a.Repositories.ClearAll()
	a.PullRequests.ClearAll()
	a.Issues.ClearAll()
	a.Branches.ClearAll()
	a.Checks.ClearAll()
	a.Logger.Debug("caches cleared")
}

// purgeTables are emptied by PurgeStore. sync_state goes too, so the next
// start counts as never synced.
var purgeTables = []string{
	store.TableRepositories,
	store.TablePullRequests,
	store.TableIssues,
	store.TableBranches,
	store.TableCheckStatuses,
	store.TableSyncState,
}

// PurgeStore clears memory and then deletes every persisted row in one
// transaction. Pending write-behind batches are flushed first so none land
// after the delete.
func (a *App) PurgeStore(ctx context.Context) (int64, error) {
	a.ClearCache()
	if err := a.Persister.Flush(ctx); err != nil {
		return 0, fmt.Errorf("flush persister: %w", err)
	}
	stmts := make([]store.Statement, 0, len(purgeTables))
	for _, t := range purgeTables {
		stmts = append(stmts, store.DeleteAll(t))
	}
	res := a.Store.ExecuteBatch(ctx, stmts)
	if !res.Success {
		return 0, fmt.Errorf("purge store: %w", res.Err)
	}
	a.Logger.Debug("store purged", "rows", res.RowsAffected)
	return res.RowsAffected, nil
}

// Close stops the scheduler and the orchestrator's hold timer, drains the
// write-behind queue and closes the store. It is safe to call twice.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.Scheduler.StopAll()
		if a.Orchestrator != nil {
			a.Orchestrator.Close()
		}

		var errs []error
		if err := a.Persister.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush persister: %w", err))
		}
		a.Persister.Close()
		select {
		case <-a.persisterDone:
		case <-ctx.Done():
			a.stopPersister()
			<-a.persisterDone
		}
		a.stopPersister()

		if err := a.Store.Close(); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

// memoCredentials reuses an authenticated result for ttl. Signed-out results
// and errors are not remembered.
type memoCredentials struct {
	src remote.CredentialSource
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	creds   remote.Credentials
	expires time.Time
}

func (m *memoCredentials) Credentials(ctx context.Context) (remote.Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds.Authenticated() && m.now().Before(m.expires) {
		return m.creds, nil
	}
	c, err := m.src.Credentials(ctx)
	if err != nil || !c.Authenticated() {
		return c, err
	}
	m.creds, m.expires = c, m.now().Add(m.ttl)
	return c, nil
}
