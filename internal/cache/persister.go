package cache

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/forgecache/internal/store"
)

// Writer applies statement batches atomically. *store.Store implements it.
type Writer interface {
	ExecuteBatch(ctx context.Context, stmts []store.Statement) store.ExecResult
}

// Reader runs queries. *store.Store implements it.
type Reader interface {
	Query(ctx context.Context, query string, args ...any) store.QueryResult
}

// Job is one unit of write-behind work: every statement applies in a single
// transaction, so a replaced scope is never observed half-written.
type Job struct {
	Kind       Kind
	Scope      string
	Statements []store.Statement

	// barrier is closed once every job queued before it has been written.
	barrier chan struct{}
}

// Persister is the single writer to the durable store. Caches enqueue jobs
// and return immediately; one goroutine running Run applies them in FIFO
// order. Failures are logged and dropped: the durable store is a mirror and
// the next successful fetch rewrites the scope.
//
// The queue is unbounded so an enqueue never blocks a cache.
type Persister struct {
	w      Writer
	logger *slog.Logger

	mu     sync.Mutex
	jobs   []Job
	closed bool
	signal chan struct{} // buffered, size 1; closed on Close
}

// PersisterOption configures a Persister.
type PersisterOption func(*Persister)

// WithPersisterLogger sets the logger for write failures.
func WithPersisterLogger(l *slog.Logger) PersisterOption {
	return func(p *Persister) { p.logger = l }
}

// NewPersister returns a persister writing to w. Call Run (usually in its
// own goroutine) to start draining.
func NewPersister(w Writer, opts ...PersisterOption) *Persister {
	p := &Persister{
		w:      w,
		logger: slog.Default(),
		jobs:   make([]Job, 0, 16),
		signal: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enqueue adds a job. It returns false once the persister is closed.
// Safe on a nil *Persister, which drops everything.
func (p *Persister) Enqueue(j Job) bool {
	if p == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}
	p.jobs = append(p.jobs, j)

	select {
	case p.signal <- struct{}{}:
	default:
	}
	return true
}

func (p *Persister) tryDequeue() (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.jobs) == 0 {
		return Job{}, false
	}
	j := p.jobs[0]
	p.jobs[0] = Job{}
	if len(p.jobs) == 1 {
		p.jobs = p.jobs[:0]
	} else {
		p.jobs = p.jobs[1:]
	}
	return j, true
}

// Len returns the number of queued jobs.
func (p *Persister) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Run drains the queue until ctx is cancelled or the persister is closed
// and empty. Jobs queued before Close are still written.
func (p *Persister) Run(ctx context.Context) error {
	p.logger.Debug("persister starting")
	for {
		if j, ok := p.tryDequeue(); ok {
			p.apply(ctx, j)
			continue
		}

		select {
		case <-ctx.Done():
			p.logger.Debug("persister stopping: context cancelled")
			p.Close()
			return ctx.Err()
		case <-p.signal:
			if p.isClosed() && p.Len() == 0 {
				p.logger.Debug("persister stopping: queue closed")
				return nil
			}
		}
	}
}

func (p *Persister) apply(ctx context.Context, j Job) {
	if j.barrier != nil {
		close(j.barrier)
		return
	}
	if len(j.Statements) == 0 {
		return
	}
	res := p.w.ExecuteBatch(ctx, j.Statements)
	if !res.Success {
		p.logger.Warn("persist failed",
			"kind", j.Kind,
			"scope", j.Scope,
			"statements", len(j.Statements),
			"error", res.Err,
		)
	}
}

// Flush blocks until every job enqueued before the call has been applied,
// or ctx is done. A closed persister returns immediately.
func (p *Persister) Flush(ctx context.Context) error {
	if p == nil {
		return nil
	}
	done := make(chan struct{})
	if !p.Enqueue(Job{barrier: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting jobs and wakes Run so it can finish draining.
func (p *Persister) Close() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.signal)
}

func (p *Persister) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
