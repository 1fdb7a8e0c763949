package locker

// errors.go re-exports the engine's error surface so callers can match
// failures without importing the engine package directly.

import "github.com/lockbase/advlock/locker/engine"

var (
	// ErrEmptyResource is returned when a lock is requested for an empty resource name.
	ErrEmptyResource = engine.ErrEmptyResource

	// ErrTimeoutOutOfRange is returned when the acquire timeout cannot be
	// represented as a non-negative 32-bit millisecond count.
	ErrTimeoutOutOfRange = engine.ErrTimeoutOutOfRange

	// ErrConnNotOpen is returned when the provider hands out a connection
	// that is not open.
	ErrConnNotOpen = engine.ErrConnNotOpen
)

// TimeoutError is returned when the acquisition budget elapsed without a grant.
type TimeoutError = engine.TimeoutError

// CallError is returned when an acquire call fails fatally.
type CallError = engine.CallError

// ReleaseError is returned when the release call reported failure. The
// connection has been reclaimed regardless by the time the caller sees it.
type ReleaseError = engine.ReleaseError
