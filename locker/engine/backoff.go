package engine

import (
	"context"
	"math/rand"
	"time"
)

// DefaultMaxBackoff caps the sleep between two acquire attempts.
const DefaultMaxBackoff = 5 * time.Second

// Backoff returns the sleep duration before retrying attempt n (1-based):
// a uniformly random duration in [n*n, (n+1)*(n+1)) milliseconds, capped at max.
func Backoff(attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if max <= 0 {
		max = DefaultMaxBackoff
	}
	lo := attempt * attempt
	hi := (attempt + 1) * (attempt + 1)
	d := time.Duration(lo+rand.Intn(hi-lo)) * time.Millisecond
	if d > max {
		d = max
	}
	return d
}

// sleep suspends the calling goroutine for d, waking early when ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
