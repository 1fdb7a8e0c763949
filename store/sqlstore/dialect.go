package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/lockbase/advlock/locker/engine"
)

// Dialect adapts the advisory lock calls to one SQL engine. Calls always run
// on the *sql.Conn that owns the lock session, never on the pool, because
// session-scoped locks are invisible from other connections.
type Dialect interface {
	Name() string

	// TryAcquire issues one acquire call and maps the backend's verdict onto
	// the shared result codes. wait bounds server-side blocking.
	TryAcquire(ctx context.Context, conn *sql.Conn, resource string, mode engine.Mode, scope engine.Scope, wait time.Duration) (engine.ResultCode, error)

	// Release gives the lock back on the same session.
	Release(ctx context.Context, conn *sql.Conn, resource string, scope engine.Scope) (engine.ResultCode, error)

	// Ping issues a trivial query that keeps the session warm.
	Ping(ctx context.Context, conn *sql.Conn) error
}
