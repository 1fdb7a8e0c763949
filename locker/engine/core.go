package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lockbase/advlock/internal"
	"github.com/lockbase/advlock/internal/metrics"
)

// Config tunes the lock protocol. The zero value picks the defaults.
type Config struct {
	// HeartbeatInterval is how often dedicated connections are probed.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout bounds a single probe.
	HeartbeatTimeout time.Duration
	// MaxBackoff caps the sleep between acquire attempts.
	MaxBackoff time.Duration
}

func (c Config) withDefaults() Config {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

// Core drives the lock protocol against one Provider: bounded acquisition
// with jittered backoff, per-owner reentrancy, connection heartbeats and
// synchronized teardown.
type Core struct {
	provider Provider
	cfg      Config
	holds    *holdTable
}

func NewCore(provider Provider, cfg Config) (*Core, error) {
	if provider == nil {
		return nil, errors.New("provider cannot be nil")
	}
	return &Core{
		provider: provider,
		cfg:      cfg.withDefaults(),
		holds:    newHoldTable(),
	}, nil
}

// Acquire obtains an exclusive session-scoped lock on resource for owner,
// retrying with backoff until timeout elapses. When the owner already holds
// the resource the existing hold is reused without any network call.
func (c *Core) Acquire(ctx context.Context, owner, resource string, timeout time.Duration) (*Handle, error) {
	if resource == "" {
		return nil, ErrEmptyResource
	}
	// The per-call lock timeout is handed to the backend as a 32-bit
	// millisecond count, so the budget must be representable in it too.
	if timeout < 0 || timeout.Milliseconds() > math.MaxInt32 {
		return nil, ErrTimeoutOutOfRange
	}

	h, first := c.holds.enter(owner, resource)
	if !first {
		return &Handle{core: c, hold: h}, nil
	}

	if err := c.acquire(ctx, h, timeout); err != nil {
		c.holds.exit(owner, resource)
		return nil, err
	}
	if !h.managed {
		h.hb = startHeartbeat(h, c.cfg.HeartbeatInterval, c.cfg.HeartbeatTimeout)
	}
	return &Handle{core: c, hold: h}, nil
}

// acquire opens a connection and runs the retry loop, leaving the connection
// on the hold when the lock was granted. On failure the connection has
// already been returned to the provider.
func (c *Core) acquire(ctx context.Context, h *hold, timeout time.Duration) error {
	conn, err := c.provider.Open(ctx)
	if err != nil {
		return fmt.Errorf("open lock connection: %w", err)
	}
	if !conn.IsOpen() {
		c.reclaim(conn, h.resource)
		return ErrConnNotOpen
	}

	if err := c.lockLoop(ctx, conn, h.resource, timeout); err != nil {
		c.reclaim(conn, h.resource)
		return err
	}
	h.conn = conn
	h.managed = c.provider.IsManaged(conn)
	return nil
}

// lockLoop issues zero-wait acquire calls until one is granted, a fatal
// verdict arrives, or the budget runs out. Retryable verdicts sleep for the
// attempt's backoff before trying again.
func (c *Core) lockLoop(ctx context.Context, conn Conn, resource string, timeout time.Duration) error {
	start := time.Now()
	for attempt := 1; time.Since(start) < timeout; attempt++ {
		code, err := conn.TryAcquire(ctx, resource, ModeExclusive, ScopeSession, 0)
		if err != nil {
			metrics.AcquireAttempts.WithLabelValues("error").Inc()
			return &CallError{Resource: resource, Code: code, Err: err}
		}
		switch {
		case code.Granted():
			metrics.AcquireAttempts.WithLabelValues("granted").Inc()
			metrics.LocksGranted.Inc()
			return nil
		case code.Fatal():
			metrics.AcquireAttempts.WithLabelValues("fatal").Inc()
			return &CallError{Resource: resource, Code: code}
		}
		metrics.AcquireAttempts.WithLabelValues("denied").Inc()
		if err := sleep(ctx, Backoff(attempt, c.cfg.MaxBackoff)); err != nil {
			return err
		}
	}
	metrics.LockTimeouts.Inc()
	return &TimeoutError{Resource: resource, Timeout: timeout}
}

// teardown runs the last-release path for a hold: stop the heartbeat, release
// the lock if the session is still there, and give the connection back. The
// connection is reclaimed no matter how the release call fares.
func (c *Core) teardown(ctx context.Context, h *hold) error {
	if h.hb != nil {
		h.hb.stop()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	defer c.reclaim(h.conn, h.resource)

	if !h.conn.IsOpen() {
		// The session is gone and took its locks with it. Calling release on
		// a dead session is meaningless.
		metrics.Releases.WithLabelValues("skipped").Inc()
		return nil
	}
	code, err := h.conn.Release(ctx, h.resource, ScopeSession)
	if err != nil {
		metrics.Releases.WithLabelValues("failed").Inc()
		return &ReleaseError{Resource: h.resource, Code: code, Err: err}
	}
	if !code.Granted() {
		metrics.Releases.WithLabelValues("failed").Inc()
		return &ReleaseError{Resource: h.resource, Code: code}
	}
	metrics.Releases.WithLabelValues("ok").Inc()
	return nil
}

func (c *Core) reclaim(conn Conn, resource string) {
	if err := c.provider.Release(conn); err != nil {
		internal.GetLogger().Printf("Failed to return lock connection for %q: %v", resource, err)
	}
}

// ActiveHolds reports how many (owner, resource) holds are currently live.
func (c *Core) ActiveHolds() int {
	return c.holds.size()
}
