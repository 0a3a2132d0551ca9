package orchestrator

import "github.com/google/uuid"

// RunIDGenerator produces the id that tags one sync run in logs and status.
// Implemented by UUIDv7Generator (production) and testutil.SequentialRunIDs
// (tests).
type RunIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 run ids, so ids from
// successive runs sort in start order.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Falls back to a random UUIDv4 if the clock-based generator fails.
func (UUIDv7Generator) Generate() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
