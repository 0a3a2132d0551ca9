package testutil

import (
	"sync"
	"time"
)

// FakeClock is a settable wall clock for tests.
//
// Now never moves on its own; tests call Advance or Set. Pass clock.Now
// wherever a func() time.Time is accepted.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock creates a clock reading start. A zero start defaults to
// 2025-01-01T00:00:00Z so timestamps in golden files stay stable.
func NewFakeClock(start time.Time) *FakeClock {
	if start.IsZero() {
		start = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d and returns the new time.
func (c *FakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// ManualTicker is a ticker that fires only when told to.
type ManualTicker struct {
	ch      chan time.Time
	mu      sync.Mutex
	stopped bool
}

// NewManualTicker returns a ticker with an unbuffered channel.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time)}
}

// C returns the tick channel.
func (t *ManualTicker) C() <-chan time.Time { return t.ch }

// Stop marks the ticker stopped. Later Tick calls are dropped.
func (t *ManualTicker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Stopped reports whether Stop was called.
func (t *ManualTicker) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Tick delivers one tick and blocks until the receiver has taken it. It
// returns false if the ticker is stopped. Do not Tick a ticker nobody reads.
func (t *ManualTicker) Tick(at time.Time) bool {
	if t.Stopped() {
		return false
	}
	t.ch <- at
	return true
}
