// Package memstore provides an in-process advisory lock service speaking the
// same grant/release code contract as the networked stores. It backs local
// single-process coordination and hermetic tests.
package memstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"github.com/lockbase/advlock/locker/engine"
)

// ErrSessionClosed is returned for calls on a session that was already
// returned to the store.
var ErrSessionClosed = errors.New("memstore: session is closed")

type entry struct {
	holder *session
	depth  int
}

// Store is a single-holder advisory lock table. Sessions obtained from Open
// play the role of connections: locks are session-scoped and fall with the
// session that took them.
type Store struct {
	mu    sync.Mutex
	locks map[string]*entry
}

func New() *Store {
	return &Store{locks: make(map[string]*entry)}
}

// Open hands out a fresh session.
func (s *Store) Open(_ context.Context) (engine.Conn, error) {
	return &session{
		store: s,
		id:    uuid.NewString(),
		held:  make(map[string]struct{}),
	}, nil
}

// Release closes the session, dropping every lock it still holds.
func (s *Store) Release(conn engine.Conn) error {
	sess, ok := conn.(*session)
	if !ok {
		return errors.New("memstore: foreign connection")
	}
	sess.close()
	return nil
}

// IsManaged always reports false: nothing keeps these sessions alive, so
// holds on them run the regular heartbeat.
func (s *Store) IsManaged(engine.Conn) bool {
	return false
}

// dropSession releases everything the session holds.
func (s *Store) dropSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for resource := range sess.held {
		if e := s.locks[resource]; e != nil && e.holder == sess {
			delete(s.locks, resource)
		}
		delete(sess.held, resource)
	}
}

type session struct {
	store  *Store
	id     string
	closed atomic.Bool

	// held is guarded by store.mu.
	held map[string]struct{}
}

func (c *session) TryAcquire(_ context.Context, resource string, _ engine.Mode, _ engine.Scope, _ time.Duration) (engine.ResultCode, error) {
	if c.closed.Load() {
		return 0, ErrSessionClosed
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	e := c.store.locks[resource]
	switch {
	case e == nil:
		c.store.locks[resource] = &entry{holder: c, depth: 1}
		c.held[resource] = struct{}{}
		return engine.CodeGranted, nil
	case e.holder == c:
		// Session scope: the same session may take the lock again and owes a
		// matching number of releases.
		e.depth++
		return engine.CodeGranted, nil
	default:
		return engine.CodeTimedOut, nil
	}
}

func (c *session) Release(_ context.Context, resource string, _ engine.Scope) (engine.ResultCode, error) {
	if c.closed.Load() {
		return 0, ErrSessionClosed
	}
	c.store.mu.Lock()
	defer c.store.mu.Unlock()

	e := c.store.locks[resource]
	if e == nil || e.holder != c {
		return engine.CodeParameterError, nil
	}
	e.depth--
	if e.depth <= 0 {
		delete(c.store.locks, resource)
		delete(c.held, resource)
	}
	return engine.CodeGranted, nil
}

func (c *session) Ping(_ context.Context) error {
	if c.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

func (c *session) IsOpen() bool {
	return !c.closed.Load()
}

func (c *session) close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.store.dropSession(c)
}
