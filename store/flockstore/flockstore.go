// Package flockstore backs the lock engine with OS-level file locks for
// cross-process coordination on a single host. Locks live as flock(2) handles
// under a directory; when the owning process dies the OS drops them, which
// gives the same crash behavior as a server-side session. File locks need no
// keepalive, so the provider reports managed connections.
package flockstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/atomic"

	"github.com/lockbase/advlock/locker/engine"
)

// ErrSessionClosed is returned for calls on a session that was already
// returned to the provider.
var ErrSessionClosed = errors.New("flockstore: session is closed")

type Provider struct {
	dir string
}

// NewProvider roots lock files under dir, creating it when missing.
func NewProvider(dir string) (*Provider, error) {
	if dir == "" {
		return nil, errors.New("flockstore: dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("flockstore: create lock dir: %w", err)
	}
	return &Provider{dir: dir}, nil
}

func (p *Provider) Open(_ context.Context) (engine.Conn, error) {
	return &session{
		dir:  p.dir,
		held: make(map[string]*heldFile),
	}, nil
}

func (p *Provider) Release(conn engine.Conn) error {
	sess, ok := conn.(*session)
	if !ok {
		return errors.New("flockstore: foreign connection")
	}
	return sess.close()
}

// IsManaged always reports true: a file lock cannot be reclaimed for idleness.
func (p *Provider) IsManaged(engine.Conn) bool {
	return true
}

type heldFile struct {
	fl    *flock.Flock
	depth int
}

type session struct {
	dir    string
	closed atomic.Bool

	mu   sync.Mutex
	held map[string]*heldFile
}

func (s *session) TryAcquire(_ context.Context, resource string, _ engine.Mode, _ engine.Scope, _ time.Duration) (engine.ResultCode, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if hf := s.held[resource]; hf != nil {
		hf.depth++
		return engine.CodeGranted, nil
	}
	fl := flock.New(filepath.Join(s.dir, lockFileName(resource)))
	locked, err := fl.TryLock()
	if err != nil {
		return 0, err
	}
	if !locked {
		return engine.CodeTimedOut, nil
	}
	s.held[resource] = &heldFile{fl: fl, depth: 1}
	return engine.CodeGranted, nil
}

func (s *session) Release(_ context.Context, resource string, _ engine.Scope) (engine.ResultCode, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	hf := s.held[resource]
	if hf == nil {
		return engine.CodeParameterError, nil
	}
	hf.depth--
	if hf.depth > 0 {
		return engine.CodeGranted, nil
	}
	delete(s.held, resource)
	if err := hf.fl.Unlock(); err != nil {
		return 0, err
	}
	return engine.CodeGranted, nil
}

func (s *session) Ping(_ context.Context) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	return nil
}

func (s *session) IsOpen() bool {
	return !s.closed.Load()
}

func (s *session) close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for resource, hf := range s.held {
		if err := hf.fl.Unlock(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("unlock %q: %w", resource, err)
		}
		delete(s.held, resource)
	}
	return firstErr
}

// lockFileName derives a stable file name from a resource name. The readable
// part is sanitized for the filesystem and a hash suffix keeps distinct
// resources from colliding on it.
func lockFileName(resource string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, resource)
	const maxReadable = 64
	if len(safe) > maxReadable {
		safe = safe[:maxReadable]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(resource))
	return fmt.Sprintf("%s-%08x.lock", safe, h.Sum32())
}
