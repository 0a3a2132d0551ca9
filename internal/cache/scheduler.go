package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/forgecache/internal/domain"
)

// DefaultCheckInterval is how often the scheduler refreshes check statuses.
const DefaultCheckInterval = 30 * time.Second

// Ticker is the part of *time.Ticker the scheduler uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct{ t *time.Ticker }

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

// NewTimeTicker wraps time.NewTicker.
func NewTimeTicker(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }

// BranchSource lists the branches the scheduler should refresh.
// *Branches implements it.
type BranchSource interface {
	Known(repo domain.RepoRef) []domain.BranchRef
}

// Scheduler runs one periodic check refresh per repository. Every task is
// cancellable and StopAll waits for all of them to exit.
type Scheduler struct {
	checks    *Checks
	branches  BranchSource
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	logger    *slog.Logger

	mu    sync.Mutex
	tasks map[domain.RepoRef]*task
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithInterval sets the refresh period.
func WithInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithTicker replaces the ticker factory.
func WithTicker(f func(time.Duration) Ticker) SchedulerOption {
	return func(s *Scheduler) { s.newTicker = f }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler returns a scheduler refreshing checks for the branches
// reported by branches. When branches has nothing for a repository the
// branches already present in the check cache are used.
func NewScheduler(checks *Checks, branches BranchSource, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		checks:    checks,
		branches:  branches,
		interval:  DefaultCheckInterval,
		newTicker: NewTimeTicker,
		logger:    slog.Default(),
		tasks:     map[domain.RepoRef]*task{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins refreshing repo. An existing task for repo is stopped first.
// The task stops when ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context, repo domain.RepoRef) {
	ctx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	for {
		old, ok := s.tasks[repo]
		if !ok {
			break
		}
		delete(s.tasks, repo)
		s.mu.Unlock()
		old.stop()
		s.mu.Lock()
	}
	s.tasks[repo] = t
	s.mu.Unlock()

	s.logger.Debug("scheduler started", "repo", repo, "interval", s.interval)
	go s.loop(ctx, repo, s.newTicker(s.interval), t)
}

func (s *Scheduler) loop(ctx context.Context, repo domain.RepoRef, ticker Ticker, t *task) {
	defer close(t.done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.tick(ctx, repo)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, repo domain.RepoRef) {
	var known []domain.BranchRef
	if s.branches != nil {
		known = s.branches.Known(repo)
	}
	if len(known) == 0 {
		known = s.checks.Known(repo)
	}
	if len(known) == 0 {
		return
	}
	res, err := s.checks.Fetch(ctx, repo, known, true)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Warn("scheduled check refresh failed", "repo", repo, "error", err)
		}
		return
	}
	s.logger.Debug("scheduled check refresh", "repo", repo, "branches", len(known), "result", res)
}

func (t *task) stop() {
	t.cancel()
	<-t.done
}

// Stop ends the task for repo and waits for it to exit. Stopping an unknown
// repository is a no-op.
func (s *Scheduler) Stop(repo domain.RepoRef) {
	s.mu.Lock()
	t, ok := s.tasks[repo]
	if ok {
		delete(s.tasks, repo)
	}
	s.mu.Unlock()
	if ok {
		t.stop()
		s.logger.Debug("scheduler stopped", "repo", repo)
	}
}

// StopAll ends every task and waits for all of them to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = map[domain.RepoRef]*task{}
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
	for _, t := range tasks {
		<-t.done
	}
}

// Running returns the repositories with an active task, sorted.
func (s *Scheduler) Running() []domain.RepoRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.RepoRef, 0, len(s.tasks))
	for repo := range s.tasks {
		out = append(out, repo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
