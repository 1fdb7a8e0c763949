package sqlstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/lockbase/advlock/locker/engine"
)

func TestAdvisoryKeyIsStable(t *testing.T) {
	require.Equal(t, AdvisoryKey("orders"), AdvisoryKey("orders"))

	seen := map[int64]string{}
	for _, resource := range []string{"orders", "invoices", "orders:eu", "orders:us", ""} {
		key := AdvisoryKey(resource)
		other, dup := seen[key]
		require.False(t, dup, "%q and %q collide on %d", resource, other, key)
		seen[key] = resource
	}
}

func TestClassifyPgError(t *testing.T) {
	for _, tt := range []struct {
		sqlstate string
		want     engine.ResultCode
	}{
		{"40P01", engine.CodeDeadlockVictim},
		{"57014", engine.CodeCanceled},
		{"55P03", engine.CodeTimedOut},
		{"22023", engine.CodeParameterError},
		{"42883", engine.CodeParameterError},
	} {
		code, ok := classifyPgError(&pgconn.PgError{Code: tt.sqlstate})
		require.True(t, ok, "SQLSTATE %s should classify", tt.sqlstate)
		require.Equal(t, tt.want, code)
	}

	// Unknown states and non-pg errors stay transport errors.
	_, ok := classifyPgError(&pgconn.PgError{Code: "23505"})
	require.False(t, ok)
	_, ok = classifyPgError(errors.New("connection refused"))
	require.False(t, ok)

	// Classification sees through wrapping.
	wrapped := fmt.Errorf("query advisory lock: %w", &pgconn.PgError{Code: "40P01"})
	code, ok := classifyPgError(wrapped)
	require.True(t, ok)
	require.Equal(t, engine.CodeDeadlockVictim, code)
}

func TestIsConnBroken(t *testing.T) {
	for _, err := range []error{
		driver.ErrBadConn,
		sql.ErrConnDone,
		io.EOF,
		io.ErrUnexpectedEOF,
		net.ErrClosed,
		&net.OpError{Op: "read", Err: errors.New("connection reset by peer")},
		fmt.Errorf("exec: %w", driver.ErrBadConn),
	} {
		require.True(t, isConnBroken(err), "%v should mark the session broken", err)
	}

	for _, err := range []error{
		errors.New("syntax error at or near"),
		&pgconn.PgError{Code: "42601"},
	} {
		require.False(t, isConnBroken(err), "%v is a per-call failure, not a dead session", err)
	}
}

func TestSessionConnObserve(t *testing.T) {
	c := &sessionConn{dialect: Postgres{}}
	c.observe(nil)
	require.True(t, c.IsOpen())
	c.observe(errors.New("syntax error"))
	require.True(t, c.IsOpen(), "per-call failures must not kill the session")
	c.observe(driver.ErrBadConn)
	require.False(t, c.IsOpen())
}

func TestSessionConnClosedFailsFast(t *testing.T) {
	ctx := context.Background()
	c := &sessionConn{dialect: Postgres{}}
	c.closed.Store(true)

	// A closed session never touches the wire again.
	_, err := c.TryAcquire(ctx, "orders", engine.ModeExclusive, engine.ScopeSession, 0)
	require.ErrorIs(t, err, sql.ErrConnDone)
	_, err = c.Release(ctx, "orders", engine.ScopeSession)
	require.ErrorIs(t, err, sql.ErrConnDone)
	require.ErrorIs(t, c.Ping(ctx), sql.ErrConnDone)
	require.False(t, c.IsOpen())
}

type nopConnector struct{}

func (nopConnector) Connect(context.Context) (driver.Conn, error) {
	return nil, errors.New("not dialable")
}

func (nopConnector) Driver() driver.Driver { return nil }

func TestProviderValidation(t *testing.T) {
	db := sql.OpenDB(nopConnector{})
	defer db.Close()

	_, err := NewProvider(nil, Postgres{})
	require.Error(t, err)
	_, err = NewProvider(db, nil)
	require.Error(t, err)

	p, err := NewProvider(db, Postgres{})
	require.NoError(t, err)
	require.False(t, p.IsManaged(nil))

	_, err = NewSharedProvider(nil, Postgres{})
	require.Error(t, err)
}

func TestSharedProviderIsManaged(t *testing.T) {
	ctx := context.Background()
	p := &SharedProvider{sess: &sessionConn{dialect: SQLServer{}}}
	require.True(t, p.IsManaged(nil))

	// Open always hands out the one shared session.
	first, err := p.Open(ctx)
	require.NoError(t, err)
	second, err := p.Open(ctx)
	require.NoError(t, err)
	require.Same(t, first, second)
	require.NoError(t, p.Release(first), "the caller owns the connection, reclamation is a no-op")
}

func TestDialectNames(t *testing.T) {
	require.Equal(t, "postgres", Postgres{}.Name())
	require.Equal(t, "sqlserver", SQLServer{}.Name())
}
