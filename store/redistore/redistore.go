// Package redistore backs the lock engine with Redis via bsm/redislock.
// Redis has no server-side sessions, so each lock is a token-fenced key with
// a TTL and the hold's heartbeat doubles as the lease watchdog: every probe
// refreshes the TTLs of the session's locks. Keep the heartbeat interval
// comfortably below the TTL.
package redistore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"

	"github.com/lockbase/advlock/internal"
	"github.com/lockbase/advlock/locker/engine"
)

const (
	// DefaultTTL is the per-lock lease when none is configured.
	DefaultTTL = 30 * time.Second
	// DefaultPrefix namespaces lock keys.
	DefaultPrefix = "advlock:"

	closeTimeout = 3 * time.Second
)

// ErrSessionClosed is returned for calls on a session that was already
// returned to the provider.
var ErrSessionClosed = errors.New("redistore: session is closed")

// Options tunes the provider. The zero value picks the defaults.
type Options struct {
	TTL    time.Duration
	Prefix string
}

// Provider hands out token-fenced lock sessions. IsManaged reports false so
// the engine's heartbeat runs and keeps the leases refreshed.
type Provider struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
	prefix string
}

func NewProvider(client *redis.Client, opts *Options) (*Provider, error) {
	if client == nil {
		return nil, errors.New("redistore: client cannot be nil")
	}
	p := &Provider{
		client: client,
		locker: redislock.New(client),
		ttl:    DefaultTTL,
		prefix: DefaultPrefix,
	}
	if opts != nil {
		if opts.TTL > 0 {
			p.ttl = opts.TTL
		}
		if opts.Prefix != "" {
			p.prefix = opts.Prefix
		}
	}
	return p, nil
}

func (p *Provider) Open(context.Context) (engine.Conn, error) {
	return &session{
		client: p.client,
		locker: p.locker,
		token:  uuid.NewString(),
		ttl:    p.ttl,
		prefix: p.prefix,
		held:   make(map[string]*heldLock),
	}, nil
}

func (p *Provider) Release(conn engine.Conn) error {
	sess, ok := conn.(*session)
	if !ok {
		return errors.New("redistore: foreign connection")
	}
	sess.close()
	return nil
}

func (p *Provider) IsManaged(engine.Conn) bool {
	return false
}

type heldLock struct {
	lock  *redislock.Lock
	depth int
}

// session plays the connection role: a token identifying this holder plus the
// set of locks taken under it.
type session struct {
	client *redis.Client
	locker *redislock.Client
	token  string
	ttl    time.Duration
	prefix string

	mu     sync.Mutex
	held   map[string]*heldLock
	closed atomic.Bool
}

func (s *session) TryAcquire(ctx context.Context, resource string, _ engine.Mode, _ engine.Scope, _ time.Duration) (engine.ResultCode, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if hl := s.held[resource]; hl != nil {
		// Same session, same resource: stack instead of re-obtaining.
		hl.depth++
		return engine.CodeGranted, nil
	}
	lock, err := s.locker.Obtain(ctx, s.prefix+resource, s.ttl, &redislock.Options{
		Token: s.token,
		// No retry strategy to achieve a non-blocking lock
		RetryStrategy: redislock.NoRetry(),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return engine.CodeTimedOut, nil
		}
		return 0, err
	}
	s.held[resource] = &heldLock{lock: lock, depth: 1}
	return engine.CodeGranted, nil
}

func (s *session) Release(ctx context.Context, resource string, _ engine.Scope) (engine.ResultCode, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	hl := s.held[resource]
	if hl == nil {
		return engine.CodeParameterError, nil
	}
	hl.depth--
	if hl.depth > 0 {
		return engine.CodeGranted, nil
	}
	delete(s.held, resource)
	if err := hl.lock.Release(ctx); err != nil {
		if errors.Is(err, redislock.ErrLockNotHeld) {
			// The lease expired under us and somebody else may hold the key now.
			return engine.CodeParameterError, nil
		}
		return 0, err
	}
	return engine.CodeGranted, nil
}

// Ping refreshes the leases of every held lock and probes the server. A
// refresh failure is reported as a heartbeat failure since the lock may
// already belong to someone else.
func (s *session) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for resource, hl := range s.held {
		if err := hl.lock.Refresh(ctx, s.ttl, nil); err != nil {
			return fmt.Errorf("refresh lease for %q: %w", resource, err)
		}
	}
	return s.client.Ping(ctx).Err()
}

func (s *session) IsOpen() bool {
	return !s.closed.Load()
}

func (s *session) close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.held) == 0 {
		return
	}
	// Best-effort: anything left over falls back to its TTL.
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	for resource, hl := range s.held {
		if err := hl.lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			internal.GetLogger().Printf("Failed to release leftover lock on %q: %v", resource, err)
		}
		delete(s.held, resource)
	}
}
