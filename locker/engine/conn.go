package engine

import (
	"context"
	"time"
)

// Mode selects how the advisory lock is held. The core only ever asks for
// exclusive locks; the type exists so dialects can speak the full protocol.
type Mode string

// Scope binds a lock's lifetime to a server-side unit. Session scope ties the
// lock to the connection's session: when the session dies, the lock falls.
type Scope string

const (
	ModeExclusive Mode  = "Exclusive"
	ScopeSession  Scope = "Session"
)

// Conn is one session against the advisory lock service. All calls for a
// given hold must go through the same Conn, since session-scoped locks live
// and die with their session.
type Conn interface {
	// TryAcquire issues a single acquire call and returns the service's
	// numeric verdict. wait bounds how long the server may block the call;
	// the core always passes zero so each attempt returns promptly.
	TryAcquire(ctx context.Context, resource string, mode Mode, scope Scope, wait time.Duration) (ResultCode, error)

	// Release gives the lock on resource back. A negative code means the
	// release failed.
	Release(ctx context.Context, resource string, scope Scope) (ResultCode, error)

	// Ping issues a trivial no-op call to keep the session from being
	// reclaimed by idle-connection policies.
	Ping(ctx context.Context) error

	// IsOpen reports whether the session is still usable.
	IsOpen() bool
}

// Provider supplies and reclaims lock service sessions.
type Provider interface {
	// Open hands out a session ready for use.
	Open(ctx context.Context) (Conn, error)

	// Release returns a session obtained from Open. For pooled providers this
	// closes or recycles the session; shared providers leave it untouched.
	Release(conn Conn) error

	// IsManaged reports whether the provider already guarantees the session's
	// liveness. Holds on managed sessions do not run a heartbeat.
	IsManaged(conn Conn) bool
}
