package engine

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
)

type holdKey struct {
	owner    string
	resource string
}

// hold is the shared state behind all handles one owner has on one resource.
// It owns the connection and, for dedicated connections, the heartbeat.
type hold struct {
	owner    string
	resource string

	// count is only mutated inside the table's per-key Compute callbacks.
	count int

	conn    Conn
	managed bool
	hb      *heartbeat

	// mu serializes heartbeat ticks against teardown so a tick can never
	// touch the connection mid-reclamation.
	mu       sync.Mutex
	degraded atomic.Bool
}

// holdTable tracks reentrant holds per (owner, resource). Owners only ever
// touch their own entries, so there is no cross-owner contention beyond the
// map structure itself.
type holdTable struct {
	m *xsync.MapOf[holdKey, *hold]
}

func newHoldTable() *holdTable {
	return &holdTable{m: xsync.NewMapOf[holdKey, *hold]()}
}

// enter registers one more hold for (owner, resource). first is true when
// this is the owner's first hold on the resource, in which case the caller
// must run the acquire protocol and, on failure, roll the entry back with exit.
func (t *holdTable) enter(owner, resource string) (h *hold, first bool) {
	t.m.Compute(holdKey{owner, resource}, func(cur *hold, loaded bool) (*hold, bool) {
		if !loaded {
			h = &hold{owner: owner, resource: resource, count: 1}
			first = true
			return h, false
		}
		cur.count++
		h = cur
		return cur, false
	})
	return h, first
}

// exit drops one hold for (owner, resource). last is true when the count
// reached zero: the entry is gone and the caller must run the full teardown.
func (t *holdTable) exit(owner, resource string) (last bool) {
	t.m.Compute(holdKey{owner, resource}, func(cur *hold, loaded bool) (*hold, bool) {
		if !loaded {
			return cur, true
		}
		cur.count--
		if cur.count <= 0 {
			last = true
			return cur, true
		}
		return cur, false
	})
	return last
}

// size reports the number of live (owner, resource) entries.
func (t *holdTable) size() int {
	return t.m.Size()
}
