package proxy

import (
	"errors"
	"fmt"
)

// Session-level errors, checkable with errors.Is().
var (
	// ErrNoRoute is returned when no routing rule matches the session's
	// attributes. This is a configuration error, not a transient fault.
	ErrNoRoute = errors.New("no routing rule matched session attributes")

	// ErrAllCandidatesFailed is returned when every backend in the
	// candidate chain was exhausted or unreachable.
	ErrAllCandidatesFailed = errors.New("all backend candidates failed")

	// ErrMissingOpen is returned when the client's first event is not an
	// audio-start.
	ErrMissingOpen = errors.New("session did not open with audio-start")

	// ErrIdleTimeout is returned when a relay direction saw no traffic
	// within the idle timeout.
	ErrIdleTimeout = errors.New("session idle timeout")
)

// Error codes carried in the terminal error event's data, so clients can
// distinguish failure classes mechanically.
const (
	CodeProtocolError      = "protocol_error"
	CodeNoRoute            = "no_route"
	CodeBackendUnavailable = "backend_unavailable"
	CodeBackendError       = "backend_error"
	CodeIdleTimeout        = "idle_timeout"
)

// BackendProtocolError reports malformed data from a backend after the
// session was already started. Fatal to the session with no fallback, since
// audio may already have been consumed.
type BackendProtocolError struct {
	// Backend is the target that misbehaved.
	Backend string

	// Cause is the underlying framing or transport error.
	Cause error
}

// Error implements the error interface.
func (e *BackendProtocolError) Error() string {
	return fmt.Sprintf("backend %q protocol error: %v", e.Backend, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *BackendProtocolError) Unwrap() error {
	return e.Cause
}
