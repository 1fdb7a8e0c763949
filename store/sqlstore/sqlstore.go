// Package sqlstore backs the lock engine with a SQL database's advisory
// locks. A Provider leases a dedicated *sql.Conn per hold, since
// session-scoped locks must be taken, kept and released on one and the same
// connection; a SharedProvider wraps a single caller-owned connection whose
// liveness the caller guarantees.
package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"time"

	"go.uber.org/atomic"

	"github.com/lockbase/advlock/locker/engine"
)

// Provider leases one dedicated connection from db per hold and closes it on
// reclamation. IsManaged reports false: nothing refreshes an idle leased
// connection, so holds on it run the heartbeat.
type Provider struct {
	db      *sql.DB
	dialect Dialect
}

func NewProvider(db *sql.DB, dialect Dialect) (*Provider, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db cannot be nil")
	}
	if dialect == nil {
		return nil, errors.New("sqlstore: dialect cannot be nil")
	}
	return &Provider{db: db, dialect: dialect}, nil
}

func (p *Provider) Open(ctx context.Context) (engine.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	return &sessionConn{conn: conn, dialect: p.dialect}, nil
}

func (p *Provider) Release(conn engine.Conn) error {
	sess, ok := conn.(*sessionConn)
	if !ok {
		return errors.New("sqlstore: foreign connection")
	}
	if err := sess.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}

func (p *Provider) IsManaged(engine.Conn) bool {
	return false
}

// SharedProvider hands out one caller-owned connection and never closes it.
// The caller keeps the connection alive, so holds on it skip the heartbeat.
// When the underlying session breaks, later acquisitions fail fast instead of
// locking over a dead session.
type SharedProvider struct {
	sess *sessionConn
}

func NewSharedProvider(conn *sql.Conn, dialect Dialect) (*SharedProvider, error) {
	if conn == nil {
		return nil, errors.New("sqlstore: conn cannot be nil")
	}
	if dialect == nil {
		return nil, errors.New("sqlstore: dialect cannot be nil")
	}
	return &SharedProvider{sess: &sessionConn{conn: conn, dialect: dialect}}, nil
}

func (p *SharedProvider) Open(context.Context) (engine.Conn, error) {
	return p.sess, nil
}

func (p *SharedProvider) Release(engine.Conn) error {
	return nil
}

func (p *SharedProvider) IsManaged(engine.Conn) bool {
	return true
}

// sessionConn binds a lock session to one *sql.Conn. Once a call fails with
// a connection-level error the session is flagged closed for good: its
// server-side locks are gone with the session, so pretending it is usable
// would hand out locks nobody holds.
type sessionConn struct {
	conn    *sql.Conn
	dialect Dialect
	closed  atomic.Bool
}

func (c *sessionConn) TryAcquire(ctx context.Context, resource string, mode engine.Mode, scope engine.Scope, wait time.Duration) (engine.ResultCode, error) {
	if c.closed.Load() {
		return 0, sql.ErrConnDone
	}
	code, err := c.dialect.TryAcquire(ctx, c.conn, resource, mode, scope, wait)
	c.observe(err)
	return code, err
}

func (c *sessionConn) Release(ctx context.Context, resource string, scope engine.Scope) (engine.ResultCode, error) {
	if c.closed.Load() {
		return 0, sql.ErrConnDone
	}
	code, err := c.dialect.Release(ctx, c.conn, resource, scope)
	c.observe(err)
	return code, err
}

func (c *sessionConn) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return sql.ErrConnDone
	}
	err := c.dialect.Ping(ctx, c.conn)
	c.observe(err)
	return err
}

func (c *sessionConn) IsOpen() bool {
	return !c.closed.Load()
}

func (c *sessionConn) observe(err error) {
	if err != nil && isConnBroken(err) {
		c.closed.Store(true)
	}
}

// isConnBroken reports whether err means the session itself is gone rather
// than the single call having failed.
func isConnBroken(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
