package pipeline

import (
	"errors"
	"fmt"
)

// StateConflictError signals that the same hash was recorded twice with
// different source content. That is a hashing bug upstream and must stop the
// run rather than be silently ignored.
type StateConflictError struct {
	Stage    string
	Hash     string
	Existing string
	Incoming string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("state conflict in stage %s: hash %s already recorded for different content (existing digest %.12s, incoming %.12s)",
		e.Stage, e.Hash, e.Existing, e.Incoming)
}

// SystemicError wraps a failure of the external dependency itself (service
// unreachable, repeated rate limiting). It aborts the batch and propagates to
// the process exit code.
type SystemicError struct {
	Stage string
	Err   error
}

func (e *SystemicError) Error() string {
	return fmt.Sprintf("stage %s: external dependency unavailable: %v", e.Stage, e.Err)
}

func (e *SystemicError) Unwrap() error { return e.Err }

// IsSystemic reports whether err is a SystemicError.
func IsSystemic(err error) bool {
	var se *SystemicError
	return errors.As(err, &se)
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks an external-call failure as retryable. Exhausting retries
// demotes the item to the log-skip-continue policy.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable via Transient.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
