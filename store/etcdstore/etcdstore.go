// Package etcdstore backs the lock engine with etcd's lease-fenced mutexes.
// A connection maps to a concurrency.Session whose lease etcd's client
// already keeps alive, so the provider reports managed connections and the
// engine never starts a heartbeat for them.
package etcdstore

import (
	"context"
	"errors"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/lockbase/advlock/locker/engine"
)

const (
	// DefaultSessionTTL is the lease TTL in seconds when none is configured.
	DefaultSessionTTL = 30
	// DefaultPrefix roots all lock keys.
	DefaultPrefix = "/advlock/"
)

// ErrSessionExpired is returned for calls on a session whose lease is gone.
var ErrSessionExpired = errors.New("etcdstore: session lease expired")

// Options tunes the provider. The zero value picks the defaults.
type Options struct {
	SessionTTL int
	Prefix     string
}

type Provider struct {
	client *clientv3.Client
	ttl    int
	prefix string
}

func NewProvider(client *clientv3.Client, opts *Options) (*Provider, error) {
	if client == nil {
		return nil, errors.New("etcdstore: client cannot be nil")
	}
	p := &Provider{
		client: client,
		ttl:    DefaultSessionTTL,
		prefix: DefaultPrefix,
	}
	if opts != nil {
		if opts.SessionTTL > 0 {
			p.ttl = opts.SessionTTL
		}
		if opts.Prefix != "" {
			p.prefix = opts.Prefix
		}
	}
	return p, nil
}

func (p *Provider) Open(_ context.Context) (engine.Conn, error) {
	sess, err := concurrency.NewSession(p.client, concurrency.WithTTL(p.ttl))
	if err != nil {
		return nil, err
	}
	return &session{
		sess:   sess,
		prefix: p.prefix,
		held:   make(map[string]*heldMutex),
	}, nil
}

// Release closes the session. Revoking the lease drops every mutex still
// held under it on the server side.
func (p *Provider) Release(conn engine.Conn) error {
	sess, ok := conn.(*session)
	if !ok {
		return errors.New("etcdstore: foreign connection")
	}
	return sess.sess.Close()
}

// IsManaged always reports true: the etcd client keeps the session lease
// alive on its own.
func (p *Provider) IsManaged(engine.Conn) bool {
	return true
}

type heldMutex struct {
	mutex *concurrency.Mutex
	depth int
}

type session struct {
	sess   *concurrency.Session
	prefix string

	mu   sync.Mutex
	held map[string]*heldMutex
}

func (s *session) TryAcquire(ctx context.Context, resource string, _ engine.Mode, _ engine.Scope, _ time.Duration) (engine.ResultCode, error) {
	if !s.IsOpen() {
		return 0, ErrSessionExpired
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if hm := s.held[resource]; hm != nil {
		// etcd mutexes do not stack even within a session, so reentrant
		// session-scope grants are counted here.
		hm.depth++
		return engine.CodeGranted, nil
	}
	m := concurrency.NewMutex(s.sess, s.prefix+resource)
	if err := m.TryLock(ctx); err != nil {
		if errors.Is(err, concurrency.ErrLocked) {
			return engine.CodeTimedOut, nil
		}
		return 0, err
	}
	s.held[resource] = &heldMutex{mutex: m, depth: 1}
	return engine.CodeGranted, nil
}

func (s *session) Release(ctx context.Context, resource string, _ engine.Scope) (engine.ResultCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hm := s.held[resource]
	if hm == nil {
		return engine.CodeParameterError, nil
	}
	hm.depth--
	if hm.depth > 0 {
		return engine.CodeGranted, nil
	}
	delete(s.held, resource)
	if err := hm.mutex.Unlock(ctx); err != nil {
		return 0, err
	}
	return engine.CodeGranted, nil
}

func (s *session) Ping(_ context.Context) error {
	if !s.IsOpen() {
		return ErrSessionExpired
	}
	return nil
}

func (s *session) IsOpen() bool {
	select {
	case <-s.sess.Done():
		return false
	default:
		return true
	}
}
