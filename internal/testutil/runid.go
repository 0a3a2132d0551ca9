package testutil

import (
	"fmt"
	"sync"
)

// SequentialRunIDs generates predictable run ids for orchestrator tests:
// "run-0001", "run-0002", ...
//
// Thread-safety: Generate is safe for concurrent use.
type SequentialRunIDs struct {
	mu  sync.Mutex
	seq int
}

// NewSequentialRunIDs creates a generator whose first id is "run-0001".
func NewSequentialRunIDs() *SequentialRunIDs {
	return &SequentialRunIDs{}
}

// Generate returns the next run id.
func (g *SequentialRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("run-%04d", g.seq)
}
