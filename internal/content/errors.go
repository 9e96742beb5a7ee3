package content

import (
	"errors"
	"fmt"
)

// Sentinel errors callers branch on with errors.Is.
var (
	// ErrInvalidInput rejects malformed caller input before any connector or
	// task work begins.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnsupportedPlatform rejects a platform no connector is registered for.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrUnsupportedOperation rejects an operation the resolved connector
	// does not implement. Never retried automatically.
	ErrUnsupportedOperation = errors.New("operation not supported by platform")
	// ErrSessionClosed rejects use of a session after teardown.
	ErrSessionClosed = errors.New("session is closed")
)

// SessionError wraps a provider-side session failure. It aborts the whole
// operation; per-URL extraction failures never become SessionErrors.
type SessionError struct {
	Op  string
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// NewSessionError builds a SessionError for the named lifecycle operation.
func NewSessionError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}
