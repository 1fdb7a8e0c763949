package main

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/lockbase/advlock/locker/engine"
	"github.com/lockbase/advlock/store/etcdstore"
	"github.com/lockbase/advlock/store/flockstore"
	"github.com/lockbase/advlock/store/memstore"
	"github.com/lockbase/advlock/store/redistore"
	"github.com/lockbase/advlock/store/sqlstore"

	// SQL drivers for the postgres and sqlserver stores.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/microsoft/go-mssqldb"
)

// runConfig collects everything the run command needs. Values come from
// flags, ADVLOCK_* environment variables and .env files, in that order of
// precedence.
type runConfig struct {
	Store    string        `mapstructure:"store" validate:"required,oneof=mem redis postgres sqlserver etcd flock"`
	Resource string        `mapstructure:"resource" validate:"required"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"min=0"`
	Owner    string        `mapstructure:"owner"`

	Heartbeat  time.Duration `mapstructure:"heartbeat" validate:"min=0"`
	MaxBackoff time.Duration `mapstructure:"max-backoff" validate:"min=0"`
	TTL        time.Duration `mapstructure:"ttl" validate:"min=0"`

	RedisAddr     string   `mapstructure:"redis-addr"`
	DSN           string   `mapstructure:"dsn"`
	EtcdEndpoints []string `mapstructure:"etcd-endpoints"`
	LockDir       string   `mapstructure:"lock-dir"`

	MetricsAddr string `mapstructure:"metrics-addr"`
}

var validate = validator.New()

func loadRunConfig() (*runConfig, error) {
	var cfg runConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.checkStoreArgs(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// checkStoreArgs enforces the per-store connection settings that validator
// tags cannot express.
func (c *runConfig) checkStoreArgs() error {
	switch c.Store {
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("--redis-addr is required for the redis store")
		}
	case "postgres", "sqlserver":
		if c.DSN == "" {
			return fmt.Errorf("--dsn is required for the %s store", c.Store)
		}
	case "etcd":
		if len(c.EtcdEndpoints) == 0 {
			return errors.New("--etcd-endpoints is required for the etcd store")
		}
	case "flock":
		if c.LockDir == "" {
			return errors.New("--lock-dir is required for the flock store")
		}
	}
	return nil
}

// buildProvider wires the configured store. The returned cleanup tears down
// whatever client the provider sits on.
func buildProvider(cfg *runConfig) (engine.Provider, func() error, error) {
	nopCleanup := func() error { return nil }

	switch cfg.Store {
	case "mem":
		return memstore.New(), nopCleanup, nil

	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		var opts *redistore.Options
		if cfg.TTL > 0 {
			opts = &redistore.Options{TTL: cfg.TTL}
		}
		provider, err := redistore.NewProvider(client, opts)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return provider, client.Close, nil

	case "postgres", "sqlserver":
		driver, dialect := "pgx", dialectFor(cfg.Store)
		if cfg.Store == "sqlserver" {
			driver = "sqlserver"
		}
		db, err := sql.Open(driver, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		provider, err := sqlstore.NewProvider(db, dialect)
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return provider, db.Close, nil

	case "etcd":
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   cfg.EtcdEndpoints,
			DialTimeout: 5 * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		var opts *etcdstore.Options
		if cfg.TTL > 0 {
			opts = &etcdstore.Options{SessionTTL: int(cfg.TTL.Seconds())}
		}
		provider, err := etcdstore.NewProvider(client, opts)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return provider, client.Close, nil

	case "flock":
		provider, err := flockstore.NewProvider(cfg.LockDir)
		if err != nil {
			return nil, nil, err
		}
		return provider, nopCleanup, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func dialectFor(store string) sqlstore.Dialect {
	if store == "sqlserver" {
		return sqlstore.SQLServer{}
	}
	return sqlstore.Postgres{}
}
