package cache

import (
	"sync"

	"github.com/roach88/forgecache/internal/domain"
)

// Kind names an entity cache.
type Kind string

const (
	KindRepositories Kind = "repositories"
	KindPullRequests Kind = "pull_requests"
	KindIssues       Kind = "issues"
	KindBranches     Kind = "branches"
	KindChecks       Kind = "checks"
)

// Event tells observers which scope of which cache changed. Observers re-read
// through the cache's accessors.
type Event struct {
	Kind  Kind
	Scope domain.Scope
}

// Observer receives change events. It runs on the goroutine that made the
// change, outside any cache lock, so it may call back into the cache.
type Observer func(Event)

type observerEntry struct {
	id int
	fn Observer
}

type observers struct {
	mu      sync.Mutex
	nextID  int
	entries []observerEntry
}

// subscribe registers fn and returns a func that removes it. The returned
// func is safe to call more than once.
func (o *observers) subscribe(fn Observer) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextID++
	id := o.nextID
	o.entries = append(o.entries, observerEntry{id: id, fn: fn})
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, e := range o.entries {
			if e.id == id {
				o.entries = append(o.entries[:i:i], o.entries[i+1:]...)
				return
			}
		}
	}
}

// notify calls every observer in subscription order.
func (o *observers) notify(ev Event) {
	o.mu.Lock()
	fns := make([]Observer, len(o.entries))
	for i, e := range o.entries {
		fns[i] = e.fn
	}
	o.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
