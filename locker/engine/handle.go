package engine

import (
	"context"

	"go.uber.org/atomic"
)

// Handle is one logical hold on a resource. Reentrant acquisitions hand out
// distinct handles sharing the same underlying hold; the lock is only given
// back once every handle has been released.
type Handle struct {
	core *Core
	hold *hold

	completed atomic.Bool
}

// Resource returns the locked resource name.
func (h *Handle) Resource() string {
	return h.hold.resource
}

// Owner returns the owner token the lock is held under.
func (h *Handle) Owner() string {
	return h.hold.owner
}

// Degraded reports whether the connection heartbeat has failed since the lock
// was granted. A degraded hold may have silently lost its session-scoped
// lock; the lock itself keeps working locally, but its exclusivity is no
// longer guaranteed.
func (h *Handle) Degraded() bool {
	return h.hold.degraded.Load()
}

// Release gives this handle's hold back. Releasing a handle twice is a no-op.
// When this was the owner's last hold on the resource the external lock is
// released and the connection returns to its provider; the connection is
// reclaimed even when the release call fails, and only then is the failure
// reported.
func (h *Handle) Release(ctx context.Context) error {
	if !h.completed.CompareAndSwap(false, true) {
		return nil
	}
	if last := h.core.holds.exit(h.hold.owner, h.hold.resource); !last {
		return nil
	}
	return h.core.teardown(ctx, h.hold)
}
