package cache

import (
	"errors"
	"fmt"

	"github.com/roach88/forgecache/internal/remote"
)

var (
	// ErrNotAuthenticated is returned before any state changes when no
	// credentials are available.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrMalformedResponse is returned when a remote payload fails
	// validation; nothing from it is applied.
	ErrMalformedResponse = errors.New("malformed remote response")

	// ErrNotCached is returned when mutating an entity that is not in memory.
	ErrNotCached = errors.New("entity not cached")
)

// MutationError reports a failed optimistic mutation after rollback.
type MutationError struct {
	// Op is the attempted mutation.
	Op remote.Op
	// Message is a human-readable explanation for a status line.
	Message string
	// Err is the underlying remote error.
	Err error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *MutationError) Unwrap() error { return e.Err }

// IsMutationError reports whether err is or wraps a *MutationError.
func IsMutationError(err error) bool {
	var me *MutationError
	return errors.As(err, &me)
}

// IsNotAuthenticated reports whether err is or wraps ErrNotAuthenticated.
func IsNotAuthenticated(err error) bool {
	return errors.Is(err, ErrNotAuthenticated)
}

// IsMalformedResponse reports whether err is or wraps ErrMalformedResponse.
func IsMalformedResponse(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}
