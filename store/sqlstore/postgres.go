package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lockbase/advlock/locker/engine"
)

// Postgres speaks pg_try_advisory_lock/pg_advisory_unlock. Resource names are
// folded to the bigint key space via FNV-1a. PostgreSQL advisory locks are
// session-scoped and stack within a session, which matches the shared-session
// semantics the engine expects. Pair it with the pgx stdlib driver.
type Postgres struct{}

const (
	postgresTryAcquire = `SELECT pg_try_advisory_lock($1)`
	postgresRelease    = `SELECT pg_advisory_unlock($1)`
	postgresPing       = `SELECT 1`
)

func (Postgres) Name() string { return "postgres" }

// AdvisoryKey maps a resource name onto PostgreSQL's bigint lock key space.
func AdvisoryKey(resource string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(resource))
	return int64(h.Sum64())
}

func (Postgres) TryAcquire(ctx context.Context, conn *sql.Conn, resource string, _ engine.Mode, _ engine.Scope, _ time.Duration) (engine.ResultCode, error) {
	var granted bool
	err := conn.QueryRowContext(ctx, postgresTryAcquire, AdvisoryKey(resource)).Scan(&granted)
	if err != nil {
		if code, ok := classifyPgError(err); ok {
			return code, nil
		}
		return 0, err
	}
	if !granted {
		return engine.CodeTimedOut, nil
	}
	return engine.CodeGranted, nil
}

func (Postgres) Release(ctx context.Context, conn *sql.Conn, resource string, _ engine.Scope) (engine.ResultCode, error) {
	var released bool
	err := conn.QueryRowContext(ctx, postgresRelease, AdvisoryKey(resource)).Scan(&released)
	if err != nil {
		if code, ok := classifyPgError(err); ok {
			return code, nil
		}
		return 0, err
	}
	if !released {
		// The session did not hold the lock.
		return engine.CodeParameterError, nil
	}
	return engine.CodeGranted, nil
}

func (Postgres) Ping(ctx context.Context, conn *sql.Conn) error {
	var one int
	return conn.QueryRowContext(ctx, postgresPing).Scan(&one)
}

// classifyPgError folds server-reported SQLSTATEs onto the shared result
// codes so the retry loop sees deadlocks and cancellations as verdicts rather
// than transport failures. Anything unrecognized stays an error.
func classifyPgError(err error) (engine.ResultCode, bool) {
	pgErr, ok := asPgError(err)
	if !ok {
		return 0, false
	}
	switch pgErr.Code {
	case "40P01": // deadlock_detected
		return engine.CodeDeadlockVictim, true
	case "57014": // query_canceled
		return engine.CodeCanceled, true
	case "55P03": // lock_not_available
		return engine.CodeTimedOut, true
	}
	// Data and syntax errors mean the call itself is broken.
	if strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "42") {
		return engine.CodeParameterError, true
	}
	return 0, false
}

func asPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
