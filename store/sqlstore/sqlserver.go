package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/lockbase/advlock/locker/engine"
)

// SQLServer speaks sp_getapplock/sp_releaseapplock. The stored procedures
// already use the module's result code convention, so verdicts pass through
// untranslated. Pair it with the github.com/microsoft/go-mssqldb driver.
type SQLServer struct{}

const (
	sqlServerTryAcquire = `DECLARE @result int;
EXEC @result = sp_getapplock @Resource = @p1, @LockMode = @p2, @LockOwner = @p3, @LockTimeout = @p4;
SELECT @result;`

	sqlServerRelease = `DECLARE @result int;
EXEC @result = sp_releaseapplock @Resource = @p1, @LockOwner = @p2;
SELECT @result;`

	sqlServerPing = `SELECT 1;`
)

func (SQLServer) Name() string { return "sqlserver" }

func (SQLServer) TryAcquire(ctx context.Context, conn *sql.Conn, resource string, mode engine.Mode, scope engine.Scope, wait time.Duration) (engine.ResultCode, error) {
	var code int32
	err := conn.QueryRowContext(ctx, sqlServerTryAcquire,
		resource, string(mode), string(scope), int32(wait.Milliseconds())).Scan(&code)
	if err != nil {
		return 0, err
	}
	return engine.ResultCode(code), nil
}

func (SQLServer) Release(ctx context.Context, conn *sql.Conn, resource string, scope engine.Scope) (engine.ResultCode, error) {
	var code int32
	err := conn.QueryRowContext(ctx, sqlServerRelease, resource, string(scope)).Scan(&code)
	if err != nil {
		return 0, err
	}
	return engine.ResultCode(code), nil
}

func (SQLServer) Ping(ctx context.Context, conn *sql.Conn) error {
	var one int
	return conn.QueryRowContext(ctx, sqlServerPing).Scan(&one)
}
