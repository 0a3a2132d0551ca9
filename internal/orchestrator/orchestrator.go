package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/forgecache/internal/cache"
	"github.com/roach88/forgecache/internal/domain"
	"github.com/roach88/forgecache/internal/store"
)

// Defaults.
const (
	DefaultAutoSyncAfter = 5 * time.Minute
	DefaultStatusHold    = 3 * time.Second
)

// Progress checkpoints, in percent.
const (
	progressRepositories = 20
	progressDone         = 100
)

// State is the orchestrator's phase.
type State string

const (
	StateIdle           State = "idle"
	StateRunning        State = "running"
	StateSuccess        State = "success"
	StatePartialFailure State = "partial-failure"
)

// RepoError is one repository's failure within a run. A failure of the
// repository list itself has a zero Repo.
type RepoError struct {
	Repo domain.RepoRef
	Err  error
}

func (e RepoError) Error() string {
	if e.Repo.IsZero() {
		return fmt.Sprintf("repositories: %v", e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Repo, e.Err)
}

func (e RepoError) Unwrap() error { return e.Err }

// Status is a snapshot of the orchestrator.
type Status struct {
	State    State
	Progress int
	RunID    string
	Synced   int
	Total    int
	Errors   []RepoError
	Message  string
	LastSync time.Time
}

func (s Status) clone() Status {
	out := s
	out.Errors = append([]RepoError(nil), s.Errors...)
	return out
}

// Repositories is the part of *cache.Repositories a sync needs.
type Repositories interface {
	Fetch(ctx context.Context, force bool) (cache.FetchResult, error)
	List() []domain.Repository
}

// PullRequests is the part of *cache.PullRequests a sync needs.
type PullRequests interface {
	Fetch(ctx context.Context, repo domain.RepoRef, force bool) (cache.FetchResult, error)
}

// SyncStateStore persists the last sync time. *store.Store implements it.
type SyncStateStore interface {
	ReadSyncState(ctx context.Context, key string) (string, bool, error)
	WriteSyncState(ctx context.Context, key, value string) error
}

// Timer is the part of *time.Timer used to clear the status message.
type Timer interface {
	Stop() bool
}

// Observer receives a status snapshot after every change.
type Observer func(Status)

// Orchestrator runs syncs and tracks their status.
//
// Thread-safety: every method is safe for concurrent use. Observers run on
// the goroutine that made the change, outside the lock.
type Orchestrator struct {
	repos         Repositories
	prs           PullRequests
	state         SyncStateStore
	now           func() time.Time
	runIDs        RunIDGenerator
	afterFunc     func(time.Duration, func()) Timer
	logger        *slog.Logger
	autoSyncAfter time.Duration
	statusHold    time.Duration

	mu        sync.Mutex
	status    Status
	holdTimer Timer
	holdSeq   int
	observers []observerEntry
	nextObsID int
}

type observerEntry struct {
	id int
	fn Observer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSyncStateStore persists the last sync time.
func WithSyncStateStore(s SyncStateStore) Option {
	return func(o *Orchestrator) { o.state = s }
}

// WithClock sets the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRunIDGenerator replaces the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(o *Orchestrator) { o.runIDs = g }
}

// WithAfterFunc replaces time.AfterFunc for the status message hold.
func WithAfterFunc(f func(time.Duration, func()) Timer) Option {
	return func(o *Orchestrator) { o.afterFunc = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithAutoSyncAfter sets the age after which ShouldAutoSync reports true.
func WithAutoSyncAfter(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.autoSyncAfter = d
		}
	}
}

// WithStatusHold sets how long the end-of-run message stays visible.
func WithStatusHold(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.statusHold = d
		}
	}
}

// New creates an idle orchestrator over the repository and pull request caches.
func New(repos Repositories, prs PullRequests, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		repos:         repos,
		prs:           prs,
		now:           time.Now,
		runIDs:        UUIDv7Generator{},
		afterFunc:     func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) },
		logger:        slog.Default(),
		autoSyncAfter: DefaultAutoSyncAfter,
		statusHold:    DefaultStatusHold,
		status:        Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Load restores the last sync time from the durable store. A missing or
// unreadable value leaves the orchestrator as if it never synced.
func (o *Orchestrator) Load(ctx context.Context) error {
	if o.state == nil {
		return nil
	}
	raw, ok, err := o.state.ReadSyncState(ctx, store.SyncStateLastSync)
	if err != nil {
		return fmt.Errorf("load last sync time: %w", err)
	}
	if !ok {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		o.logger.Warn("ignoring malformed last sync time", "value", raw, "error", err)
		return nil
	}
	o.mu.Lock()
	o.status.LastSync = t
	o.mu.Unlock()
	return nil
}

// Status returns the current status.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status.clone()
}

// LastSync returns the end time of the last run, or the zero time.
func (o *Orchestrator) LastSync() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status.LastSync
}

// ShouldAutoSync reports whether the last sync is missing or at least the
// auto-sync age old.
func (o *Orchestrator) ShouldAutoSync() bool {
	last := o.LastSync()
	return last.IsZero() || o.now().Sub(last) >= o.autoSyncAfter
}

// Subscribe registers an observer and returns its unsubscribe func.
func (o *Orchestrator) Subscribe(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextObsID++
	id := o.nextObsID
	o.observers = append(o.observers, observerEntry{id: id, fn: fn})
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, e := range o.observers {
			if e.id == id {
				o.observers = append(o.observers[:i:i], o.observers[i+1:]...)
				return
			}
		}
	}
}

// set applies change under the lock and notifies observers afterwards.
func (o *Orchestrator) set(change func(*Status)) {
	o.mu.Lock()
	change(&o.status)
	snap := o.status.clone()
	fns := make([]Observer, len(o.observers))
	for i, e := range o.observers {
		fns[i] = e.fn
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Run performs one sync and returns the final status. Repository failures
// are reported in Status.Errors, not as an error.
func (o *Orchestrator) Run(ctx context.Context) Status {
	runID := o.runIDs.Generate()
	logger := o.logger.With("run_id", runID)
	logger.Info("sync started")

	o.cancelHold()
	o.set(func(s *Status) {
		*s = Status{State: StateRunning, RunID: runID, LastSync: s.LastSync}
	})

	if _, err := o.repos.Fetch(ctx, true); err != nil {
		logger.Warn("repository list refresh failed", "error", err)
		o.finish(ctx, logger, []RepoError{{Err: err}}, 0, 0)
		return o.Status()
	}
	o.set(func(s *Status) { s.Progress = progressRepositories })

	repos := o.repos.List()
	var failures []RepoError
	synced := 0
	for i, r := range repos {
		if err := ctx.Err(); err != nil {
			failures = append(failures, RepoError{Err: err})
			break
		}
		if _, err := o.prs.Fetch(ctx, r.Ref, true); err != nil {
			logger.Warn("repository sync failed", "repo", r.Ref, "error", err)
			failures = append(failures, RepoError{Repo: r.Ref, Err: err})
		} else {
			synced++
		}
		progress := progressRepositories + (progressDone-progressRepositories)*(i+1)/len(repos)
		o.set(func(s *Status) { s.Progress = progress })
	}

	o.finish(ctx, logger, failures, synced, len(repos))
	return o.Status()
}

func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, failures []RepoError, synced, total int) {
	now := o.now().UTC()
	if o.state != nil {
		// A cancelled run still finished; record it.
		if err := o.state.WriteSyncState(context.WithoutCancel(ctx), store.SyncStateLastSync, now.Format(time.RFC3339Nano)); err != nil {
			logger.Warn("failed to persist last sync time", "error", err)
		}
	}

	state := StateSuccess
	if len(failures) > 0 {
		state = StatePartialFailure
	}
	msg := message(failures, synced, total)

	var seq int
	o.set(func(s *Status) {
		s.State = state
		s.Progress = progressDone
		s.Synced = synced
		s.Total = total
		s.Errors = failures
		s.Message = msg
		s.LastSync = now
		o.holdSeq++
		seq = o.holdSeq
	})
	logger.Info("sync finished", "state", state, "synced", synced, "total", total, "failed", len(failures))

	timer := o.afterFunc(o.statusHold, func() { o.clearMessage(seq) })
	o.mu.Lock()
	if o.holdSeq == seq {
		o.holdTimer = timer
	} else {
		timer.Stop()
	}
	o.mu.Unlock()
}

// clearMessage returns to idle unless a newer run has taken over.
func (o *Orchestrator) clearMessage(seq int) {
	o.mu.Lock()
	current := o.holdSeq == seq && o.status.State != StateRunning
	o.mu.Unlock()
	if !current {
		return
	}
	o.set(func(s *Status) {
		if o.holdSeq != seq || s.State == StateRunning {
			return
		}
		s.State = StateIdle
		s.Message = ""
		o.holdTimer = nil
	})
}

func (o *Orchestrator) cancelHold() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.holdSeq++
	if o.holdTimer != nil {
		o.holdTimer.Stop()
		o.holdTimer = nil
	}
}

// Close stops the pending status hold timer.
func (o *Orchestrator) Close() {
	o.cancelHold()
}

func message(failures []RepoError, synced, total int) string {
	for _, f := range failures {
		if f.Repo.IsZero() && !errors.Is(f.Err, context.Canceled) && !errors.Is(f.Err, context.DeadlineExceeded) {
			return "Sync failed: could not refresh the repository list"
		}
	}
	if len(failures) == 0 {
		return fmt.Sprintf("Synced %d %s", total, plural(total, "repository", "repositories"))
	}
	return fmt.Sprintf("Synced %d of %d %s, %d failed", synced, total,
		plural(total, "repository", "repositories"), total-synced)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
