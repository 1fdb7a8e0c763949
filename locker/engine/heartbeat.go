package engine

import (
	"context"
	"sync"
	"time"

	"github.com/lockbase/advlock/internal"
	"github.com/lockbase/advlock/internal/metrics"
)

const (
	// DefaultHeartbeatInterval is how often a dedicated lock connection is
	// probed to keep idle-connection policies from reclaiming it.
	DefaultHeartbeatInterval = time.Minute

	defaultHeartbeatTimeout = 10 * time.Second
)

// heartbeat keeps a hold's dedicated connection alive. It never runs for
// managed connections. A failed probe flips the hold to degraded and the
// heartbeat falls silent: the session may already be gone, so the lock's
// exclusivity can no longer be vouched for, and it is the caller's own
// failure handling that will notice when the work touches the backend again.
type heartbeat struct {
	hold     *hold
	interval time.Duration
	timeout  time.Duration

	wg         sync.WaitGroup
	shutdownCh chan struct{}
}

func startHeartbeat(h *hold, interval, timeout time.Duration) *heartbeat {
	hb := &heartbeat{
		hold:       h,
		interval:   interval,
		timeout:    timeout,
		shutdownCh: make(chan struct{}),
	}
	hb.wg.Add(1)
	go hb.run()
	return hb
}

func (hb *heartbeat) run() {
	defer hb.wg.Done()

	ticker := time.NewTicker(hb.interval)
	defer ticker.Stop()

	for {
		select {
		case <-hb.shutdownCh:
			return
		case <-ticker.C:
			hb.tick()
		}
	}
}

func (hb *heartbeat) tick() {
	hb.hold.mu.Lock()
	defer hb.hold.mu.Unlock()

	if hb.hold.degraded.Load() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), hb.timeout)
	defer cancel()
	if err := hb.hold.conn.Ping(ctx); err != nil {
		hb.hold.degraded.Store(true)
		metrics.HeartbeatFailures.Inc()
		internal.GetLogger().Printf("Heartbeat for lock on %q failed, exclusivity can no longer be guaranteed: %v",
			hb.hold.resource, err)
	}
}

// stop cancels the periodic task and waits out any in-flight tick.
func (hb *heartbeat) stop() {
	close(hb.shutdownCh)
	hb.wg.Wait()
}
