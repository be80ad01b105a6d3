package remote

import "errors"

// Sentinel errors surfaced by the remote store. Anything else coming out of a
// Store call is a network-class failure.
var (
	// ErrConflict is a unique-constraint violation: the row already exists.
	// Expected and recoverable for idempotent retries.
	ErrConflict = errors.New("remote: already exists")
	// ErrUnauthorized is the backend's row-scoping rejection; never retried
	// automatically.
	ErrUnauthorized = errors.New("remote: unauthorized")
	// ErrNotFound marks a missing row.
	ErrNotFound = errors.New("remote: not found")
)

// IsConflict reports whether err is a unique-constraint violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsUnauthorized reports whether err is an authorization rejection.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
