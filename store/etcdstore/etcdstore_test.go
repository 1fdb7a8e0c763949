package etcdstore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/lockbase/advlock/locker/engine"
)

func TestProviderValidation(t *testing.T) {
	_, err := NewProvider(nil, nil)
	require.Error(t, err)
}

func TestProviderDefaults(t *testing.T) {
	p, err := NewProvider(&clientv3.Client{}, nil)
	require.NoError(t, err)
	require.Equal(t, DefaultSessionTTL, p.ttl)
	require.Equal(t, DefaultPrefix, p.prefix)
	require.True(t, p.IsManaged(nil), "etcd keeps session leases alive on its own")

	p, err = NewProvider(&clientv3.Client{}, &Options{SessionTTL: 5, Prefix: "/jobs/"})
	require.NoError(t, err)
	require.Equal(t, 5, p.ttl)
	require.Equal(t, "/jobs/", p.prefix)
}

// The integration test needs a reachable etcd and is skipped without one:
//
//	ADVLOCK_TEST_ETCD_ENDPOINTS=localhost:2379 go test ./store/etcdstore

func TestEtcdIntegration(t *testing.T) {
	endpoints := os.Getenv("ADVLOCK_TEST_ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ADVLOCK_TEST_ETCD_ENDPOINTS is not set")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   strings.Split(endpoints, ","),
		DialTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	p, err := NewProvider(client, &Options{SessionTTL: 5})
	require.NoError(t, err)

	holder, err := p.Open(ctx)
	require.NoError(t, err)
	rival, err := p.Open(ctx)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, p.Release(holder))
		require.NoError(t, p.Release(rival))
	}()

	resource := fmt.Sprintf("it-%d", time.Now().UnixNano())

	code, err := holder.TryAcquire(ctx, resource, engine.ModeExclusive, engine.ScopeSession, 0)
	require.NoError(t, err)
	require.True(t, code.Granted())

	code, err = rival.TryAcquire(ctx, resource, engine.ModeExclusive, engine.ScopeSession, 0)
	require.NoError(t, err)
	require.Equal(t, engine.CodeTimedOut, code)

	// Reentrant grants stack client-side and owe matching releases.
	code, err = holder.TryAcquire(ctx, resource, engine.ModeExclusive, engine.ScopeSession, 0)
	require.NoError(t, err)
	require.True(t, code.Granted())

	code, err = holder.Release(ctx, resource, engine.ScopeSession)
	require.NoError(t, err)
	require.True(t, code.Granted())

	code, err = rival.TryAcquire(ctx, resource, engine.ModeExclusive, engine.ScopeSession, 0)
	require.NoError(t, err)
	require.Equal(t, engine.CodeTimedOut, code)

	code, err = holder.Release(ctx, resource, engine.ScopeSession)
	require.NoError(t, err)
	require.True(t, code.Granted())

	code, err = rival.TryAcquire(ctx, resource, engine.ModeExclusive, engine.ScopeSession, 0)
	require.NoError(t, err)
	require.True(t, code.Granted())
	code, err = rival.Release(ctx, resource, engine.ScopeSession)
	require.NoError(t, err)
	require.True(t, code.Granted())

	code, err = holder.Release(ctx, resource, engine.ScopeSession)
	require.NoError(t, err)
	require.Equal(t, engine.CodeParameterError, code, "nothing held anymore")

	require.NoError(t, holder.Ping(ctx))
	require.True(t, holder.IsOpen())
}
