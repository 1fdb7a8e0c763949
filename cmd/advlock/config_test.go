package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/lockbase/advlock/store/flockstore"
	"github.com/lockbase/advlock/store/memstore"
	"github.com/lockbase/advlock/store/redistore"
	"github.com/lockbase/advlock/store/sqlstore"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadRunConfig(t *testing.T) {
	resetViper(t)
	viper.Set("store", "redis")
	viper.Set("resource", "orders")
	viper.Set("timeout", "30s")
	viper.Set("owner", "worker-1")
	viper.Set("redis-addr", "localhost:6379")
	viper.Set("ttl", "45s")

	cfg, err := loadRunConfig()
	require.NoError(t, err)
	require.Equal(t, "redis", cfg.Store)
	require.Equal(t, "orders", cfg.Resource)
	require.Equal(t, 30*time.Second, cfg.Timeout)
	require.Equal(t, "worker-1", cfg.Owner)
	require.Equal(t, "localhost:6379", cfg.RedisAddr)
	require.Equal(t, 45*time.Second, cfg.TTL)
}

func TestLoadRunConfigEndpointList(t *testing.T) {
	resetViper(t)
	viper.Set("store", "etcd")
	viper.Set("resource", "orders")
	viper.Set("etcd-endpoints", "a:2379,b:2379")

	cfg, err := loadRunConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"a:2379", "b:2379"}, cfg.EtcdEndpoints)
}

func TestLoadRunConfigRequiresResource(t *testing.T) {
	resetViper(t)
	viper.Set("store", "mem")

	_, err := loadRunConfig()
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid configuration")
}

func TestLoadRunConfigRejectsUnknownStore(t *testing.T) {
	resetViper(t)
	viper.Set("store", "consul")
	viper.Set("resource", "orders")

	_, err := loadRunConfig()
	require.Error(t, err)
}

func TestCheckStoreArgs(t *testing.T) {
	for _, tt := range []struct {
		name    string
		cfg     runConfig
		wantErr string
	}{
		{"mem needs nothing", runConfig{Store: "mem"}, ""},
		{"redis without addr", runConfig{Store: "redis"}, "--redis-addr"},
		{"redis with addr", runConfig{Store: "redis", RedisAddr: "localhost:6379"}, ""},
		{"postgres without dsn", runConfig{Store: "postgres"}, "--dsn"},
		{"sqlserver without dsn", runConfig{Store: "sqlserver"}, "--dsn"},
		{"postgres with dsn", runConfig{Store: "postgres", DSN: "postgres://localhost"}, ""},
		{"etcd without endpoints", runConfig{Store: "etcd"}, "--etcd-endpoints"},
		{"etcd with endpoints", runConfig{Store: "etcd", EtcdEndpoints: []string{"a:2379"}}, ""},
		{"flock without dir", runConfig{Store: "flock"}, "--lock-dir"},
		{"flock with dir", runConfig{Store: "flock", LockDir: "/tmp/locks"}, ""},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.checkStoreArgs()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBuildProvider(t *testing.T) {
	mem, cleanup, err := buildProvider(&runConfig{Store: "mem"})
	require.NoError(t, err)
	require.IsType(t, &memstore.Store{}, mem)
	require.NoError(t, cleanup())

	dir := filepath.Join(t.TempDir(), "locks")
	fl, cleanup, err := buildProvider(&runConfig{Store: "flock", LockDir: dir})
	require.NoError(t, err)
	require.IsType(t, &flockstore.Provider{}, fl)
	require.NoError(t, cleanup())
	require.DirExists(t, dir)

	// Clients for the networked stores connect lazily, so wiring them needs
	// no live server.
	rd, cleanup, err := buildProvider(&runConfig{Store: "redis", RedisAddr: "localhost:6379"})
	require.NoError(t, err)
	require.IsType(t, &redistore.Provider{}, rd)
	require.NoError(t, cleanup())

	pg, cleanup, err := buildProvider(&runConfig{Store: "postgres", DSN: "postgres://localhost:5432/postgres"})
	require.NoError(t, err)
	require.IsType(t, &sqlstore.Provider{}, pg)
	require.NoError(t, cleanup())

	_, _, err = buildProvider(&runConfig{Store: "consul"})
	require.Error(t, err)
}

func TestDialectFor(t *testing.T) {
	require.IsType(t, sqlstore.Postgres{}, dialectFor("postgres"))
	require.IsType(t, sqlstore.SQLServer{}, dialectFor("sqlserver"))
}
