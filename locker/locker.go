// Package locker turns an external store's session-scoped advisory locks
// into a reentrant, timeout-bounded distributed mutex. It drives a
// client-side protocol over pluggable lock service providers: bounded
// acquisition with jittered backoff, per-owner reentrancy, heartbeats that
// keep dedicated connections alive, and teardown that reclaims the
// connection no matter how the release call fares.
package locker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lockbase/advlock/internal"
	"github.com/lockbase/advlock/locker/engine"
)

// Lock is one hold on a resource. Release it exactly once; extra releases
// are no-ops.
type Lock = engine.Handle

// Option tweaks a Locker at construction time.
type Option func(*engine.Config)

// WithHeartbeatInterval sets how often dedicated lock connections are probed
// to keep idle-connection policies from reclaiming them. Defaults to one minute.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(cfg *engine.Config) {
		cfg.HeartbeatInterval = d
	}
}

// WithHeartbeatTimeout bounds a single heartbeat probe.
func WithHeartbeatTimeout(d time.Duration) Option {
	return func(cfg *engine.Config) {
		cfg.HeartbeatTimeout = d
	}
}

// WithMaxBackoff caps the sleep between two acquire attempts. Defaults to 5s.
func WithMaxBackoff(d time.Duration) Option {
	return func(cfg *engine.Config) {
		cfg.MaxBackoff = d
	}
}

// Logging is the minimal logger the module writes through.
type Logging = internal.Logging

// SetLogger replaces the module-wide logger.
func SetLogger(l Logging) {
	internal.SetLogger(l)
}

// Locker acquires and releases distributed locks through one provider.
type Locker struct {
	core *engine.Core
}

// New is used to create a Locker on top of a lock service provider.
func New(provider engine.Provider, opts ...Option) (*Locker, error) {
	var cfg engine.Config
	for _, opt := range opts {
		opt(&cfg)
	}
	core, err := engine.NewCore(provider, cfg)
	if err != nil {
		return nil, err
	}
	return &Locker{core: core}, nil
}

// Acquire obtains an exclusive lock on resource, retrying with backoff until
// timeout elapses. The owner token from WithOwner scopes reentrancy; without
// one, every call is an independent holder. Contention surfaces as
// *TimeoutError, fatal service verdicts as *CallError.
func (l *Locker) Acquire(ctx context.Context, resource string, timeout time.Duration) (*Lock, error) {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		owner = uuid.NewString()
	}
	return l.core.Acquire(ctx, owner, resource, timeout)
}

// WithLock runs fn while holding an exclusive lock on resource. The lock is
// released however fn exits; a release failure is only surfaced when fn
// itself succeeded.
func (l *Locker) WithLock(ctx context.Context, resource string, timeout time.Duration, fn func(ctx context.Context) error) error {
	lock, err := l.Acquire(ctx, resource, timeout)
	if err != nil {
		return err
	}
	fnErr := fn(ctx)
	if err := lock.Release(ctx); err != nil {
		if fnErr != nil {
			internal.GetLogger().Printf("Failed to release lock on %q: %v", resource, err)
			return fnErr
		}
		return err
	}
	return fnErr
}

// ActiveHolds reports how many (owner, resource) holds are currently live.
func (l *Locker) ActiveHolds() int {
	return l.core.ActiveHolds()
}
