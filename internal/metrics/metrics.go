package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AcquireAttempts counts individual calls to the advisory lock service,
	// labelled by outcome (granted, denied, fatal, error).
	AcquireAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advlock_acquire_attempts_total",
			Help: "Total number of advisory lock acquire calls issued.",
		},
		[]string{"outcome"},
	)

	// LocksGranted counts successful lock acquisitions (one per hold, not per attempt).
	LocksGranted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advlock_locks_granted_total",
			Help: "Total number of locks granted.",
		},
	)

	// LockTimeouts counts acquisitions that exhausted their budget without a grant.
	LockTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advlock_lock_timeouts_total",
			Help: "Total number of lock acquisitions that timed out.",
		},
	)

	// HeartbeatFailures counts failed connection keepalive probes. A non-zero
	// value means a held lock may no longer be protected by its session.
	HeartbeatFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advlock_heartbeat_failures_total",
			Help: "Total number of failed lock connection heartbeats.",
		},
	)

	// Releases counts lock releases, labelled by result (ok, failed, skipped).
	// A skipped release means the connection was already gone and the
	// session-scoped lock fell with it.
	Releases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advlock_releases_total",
			Help: "Total number of lock releases.",
		},
		[]string{"result"},
	)
)
