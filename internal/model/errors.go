package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the session manager, repositories and handlers.
var (
	// ErrNotFound means no session exists for the given token.
	ErrNotFound = errors.New("session not found")

	// ErrExpired means the session is past its TTL or already terminal.
	ErrExpired = errors.New("session expired or consumed")

	// ErrConflict means a state transition or insert lost to a concurrent
	// operation, or an invariant (one non-terminal session per user, one
	// binding per account) would be violated.
	ErrConflict = errors.New("conflicting session or binding")

	// ErrTokenCollision means a freshly generated token already exists.
	// Callers retry token generation.
	ErrTokenCollision = errors.New("token collision")

	// ErrProofInvalid means the supplied verification proof did not match
	// the expected challenge. The session stays PENDING.
	ErrProofInvalid = errors.New("invalid verification proof")

	// ErrRateLimited means the message was rejected by the relay's
	// duplicate/pacing rules before entering the queue.
	ErrRateLimited = errors.New("message rate-limited")
)

// PersistenceError wraps an Identity Store write failure. The session is
// left in a recoverable, non-terminal state so the operation can be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err is (or wraps) a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
