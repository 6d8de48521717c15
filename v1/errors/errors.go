package errors

import "errors"

var (
	// ErrEmptyName is returned when a lock is requested with an empty name.
	ErrEmptyName = errors.New("empty lock name")
	// ErrContended signals that the row or key is currently held by another
	// holder. Engines translate it into their acquisition mode's normal
	// control path; it never escapes TryLock as an error.
	ErrContended = errors.New("lock contended")
	// ErrLeaseLost is returned when the lease renewer found the key gone
	// while the lock was still locally believed held.
	ErrLeaseLost = errors.New("lock lease lost")
	// ErrTimeout is returned when a single store operation exceeds its
	// configured timeout.
	ErrTimeout = errors.New("timeout")
	// ErrConnectionClosed is returned when the backend client is closed.
	ErrConnectionClosed = errors.New("connection closed")
)
