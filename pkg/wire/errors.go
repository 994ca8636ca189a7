package wire

import (
	"errors"
	"fmt"
)

// FramingError reports malformed or oversized wire data. It is always fatal
// to the session that produced it and never to the process.
type FramingError struct {
	// Reason describes what was wrong with the frame.
	Reason string

	// Cause is the underlying error (if any).
	Cause error
}

// Error implements the error interface.
func (e *FramingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("framing error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("framing error: %s", e.Reason)
}

// Unwrap returns the underlying error for error chain support.
func (e *FramingError) Unwrap() error {
	return e.Cause
}

// IsFraming reports whether err is (or wraps) a *FramingError.
func IsFraming(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}

func framingErr(cause error, format string, args ...any) error {
	return &FramingError{Reason: fmt.Sprintf(format, args...), Cause: cause}
}
