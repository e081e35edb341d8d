package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures for callers and operators.
type ErrorKind string

const (
	// ErrSourceUnavailable: telemetry source call failed or timed out.
	// Recovered locally; the poll cycle is skipped and the loop continues.
	ErrSourceUnavailable ErrorKind = "SOURCE_UNAVAILABLE"
	// ErrConflictingCanonical: the fingerprint-uniqueness invariant was
	// observed violated. Surfaced via reconciliation reporting.
	ErrConflictingCanonical ErrorKind = "CONFLICTING_CANONICAL"
	// ErrInvalidClassification: classification referenced a nonexistent
	// canonical query or group.
	ErrInvalidClassification ErrorKind = "INVALID_CLASSIFICATION"
	// ErrStoreWriteFailure: persistence failed for a single row. The row
	// is retried next cycle because the source re-reports it.
	ErrStoreWriteFailure ErrorKind = "STORE_WRITE_FAILURE"
	// ErrSessionStateConflict: start on an already-running target, or
	// stop on a non-running one.
	ErrSessionStateConflict ErrorKind = "SESSION_STATE_CONFLICT"
)

// EngineError is a typed failure carrying its taxonomy kind and a
// human-readable message. All control-surface operations return one of
// these on failure rather than exposing partial state as success.
type EngineError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError builds a typed failure wrapping an optional cause.
func NewEngineError(kind ErrorKind, err error, format string, args ...interface{}) *EngineError {
	return &EngineError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the taxonomy kind of err, or "" if err carries none.
func KindOf(err error) ErrorKind {
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ""
}

// IsKind reports whether err is an EngineError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
