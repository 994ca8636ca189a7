package backend

import (
	"errors"
	"fmt"
	"time"
)

// Pool errors, checkable with errors.Is(). Both ErrPoolExhausted and
// ErrBackendUnreachable are transient and per-candidate: the session router
// responds by trying the next candidate in the chain.
var (
	// ErrUnknownTarget is returned when acquiring a backend name that is
	// not in the configured target table.
	ErrUnknownTarget = errors.New("unknown backend target")

	// ErrPoolExhausted is returned when no session slot frees up within
	// the acquire deadline.
	ErrPoolExhausted = errors.New("backend pool exhausted")

	// ErrBackendUnreachable is returned when dialing fails or the target
	// is in its backoff window.
	ErrBackendUnreachable = errors.New("backend unreachable")

	// ErrPoolClosed is returned when acquiring from a closed pool.
	ErrPoolClosed = errors.New("backend pool closed")
)

// UnreachableError wraps ErrBackendUnreachable with the target and, when the
// target is backing off, the time of the next allowed attempt.
type UnreachableError struct {
	// Target is the backend target name.
	Target string

	// RetryAt is when the backoff window ends (zero if the failure was a
	// fresh dial error).
	RetryAt time.Time

	// Cause is the underlying dial error (if any).
	Cause error
}

// Error implements the error interface.
func (e *UnreachableError) Error() string {
	if !e.RetryAt.IsZero() {
		return fmt.Sprintf("backend %q unreachable: backing off until %s",
			e.Target, e.RetryAt.Format(time.RFC3339))
	}
	if e.Cause != nil {
		return fmt.Sprintf("backend %q unreachable: %v", e.Target, e.Cause)
	}
	return fmt.Sprintf("backend %q unreachable", e.Target)
}

// Is implements error matching for errors.Is().
func (e *UnreachableError) Is(target error) bool {
	return target == ErrBackendUnreachable
}

// Unwrap returns the underlying dial error.
func (e *UnreachableError) Unwrap() error {
	return e.Cause
}
