package engine

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyResource is returned when a lock is requested for an empty resource name.
	ErrEmptyResource = errors.New("resource name cannot be empty")
	// ErrTimeoutOutOfRange is returned when the acquire timeout cannot be
	// represented as a non-negative 32-bit millisecond count.
	ErrTimeoutOutOfRange = errors.New("timeout must fit a non-negative 32-bit millisecond count")
	// ErrConnNotOpen is returned when the provider hands out a connection that
	// is not open. Locking over a half-open connection would silently drop the
	// lock with the session.
	ErrConnNotOpen = errors.New("lock connection is not open")
)

// TimeoutError is returned when the acquisition budget is exhausted without a
// grant. Under contention this is the expected failure mode.
type TimeoutError struct {
	Resource string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("could not acquire lock on %q within %s", e.Resource, e.Timeout)
}

// CallError is returned when an acquire call fails fatally, either because
// the service rejected the call (Code.Fatal) or because the call itself
// errored in transit (Err carries the cause).
type CallError struct {
	Resource string
	Code     ResultCode
	Err      error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("advisory lock call for %q failed: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("advisory lock call for %q rejected: %s", e.Resource, e.Code)
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// ReleaseError is returned when the release call reported failure. The
// connection has been reclaimed regardless by the time the caller sees it.
type ReleaseError struct {
	Resource string
	Code     ResultCode
	Err      error
}

func (e *ReleaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to release lock on %q: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("failed to release lock on %q: %s", e.Resource, e.Code)
}

func (e *ReleaseError) Unwrap() error {
	return e.Err
}
