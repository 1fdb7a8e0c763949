package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lockbase/advlock/internal"
	"github.com/lockbase/advlock/locker"
)

// exitLockTimeout distinguishes "somebody else holds the lock" from child
// process failures.
const exitLockTimeout = 3

var (
	rootCmd = &cobra.Command{
		Use:   "advlock",
		Short: "distributed advisory locks",
		Long: `advlock acquires session-scoped advisory locks on a shared store
(redis, postgres, sqlserver, etcd, a lock directory) so that concurrent
jobs on different hosts do not step on each other.`,
	}

	runCmd = &cobra.Command{
		Use:   "run -- <command> [args...]",
		Short: "Run a command while holding a lock",
		Long: `Acquire an exclusive lock on --resource, run the command, release
the lock. The exit code mirrors the command; a lock that could not be
acquired within --timeout exits ` + fmt.Sprint(exitLockTimeout) + `.`,
		Args:              cobra.MinimumNArgs(1),
		PersistentPreRunE: bindFlags,
		RunE:              runLocked,
		SilenceUsage:      true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.String("store", "mem", "lock store backend (mem, redis, postgres, sqlserver, etcd, flock)")
	f.String("resource", "", "resource name to lock")
	f.Duration("timeout", 15*time.Second, "how long to keep trying for the lock")
	f.String("owner", "", "explicit owner token (reentrant acquisitions share it)")
	f.Duration("heartbeat", 0, "connection heartbeat interval (default 1m)")
	f.Duration("max-backoff", 0, "cap on the sleep between acquire attempts (default 5s)")
	f.Duration("ttl", 0, "lock lease for lease-based stores (redis, etcd)")
	f.String("redis-addr", "", "redis address for --store=redis")
	f.String("dsn", "", "database DSN for --store=postgres or --store=sqlserver")
	f.StringSlice("etcd-endpoints", nil, "etcd endpoints for --store=etcd")
	f.String("lock-dir", "", "lock file directory for --store=flock")
	f.String("metrics-addr", "", "serve prometheus metrics on this address while running")
}

func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("advlock")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func bindFlags(cmd *cobra.Command, _ []string) error {
	return viper.BindPFlags(cmd.Flags())
}

func runLocked(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr)
	}

	code, err := acquireAndRun(ctx, cfg, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "advlock: %v\n", err)
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

func acquireAndRun(ctx context.Context, cfg *runConfig, argv []string) (int, error) {
	provider, cleanup, err := buildProvider(cfg)
	if err != nil {
		return 1, err
	}
	defer func() {
		if err := cleanup(); err != nil {
			internal.GetLogger().Printf("Failed to close %s store: %v", cfg.Store, err)
		}
	}()

	var opts []locker.Option
	if cfg.Heartbeat > 0 {
		opts = append(opts, locker.WithHeartbeatInterval(cfg.Heartbeat))
	}
	if cfg.MaxBackoff > 0 {
		opts = append(opts, locker.WithMaxBackoff(cfg.MaxBackoff))
	}
	lkr, err := locker.New(provider, opts...)
	if err != nil {
		return 1, err
	}

	if cfg.Owner != "" {
		ctx = locker.WithOwner(ctx, cfg.Owner)
	}
	lock, err := lkr.Acquire(ctx, cfg.Resource, cfg.Timeout)
	if err != nil {
		var timeoutErr *locker.TimeoutError
		if errors.As(err, &timeoutErr) {
			return exitLockTimeout, err
		}
		return 1, err
	}
	defer func() {
		if err := lock.Release(context.Background()); err != nil {
			internal.GetLogger().Printf("Failed to release lock on %q: %v", cfg.Resource, err)
		}
	}()

	return runChild(ctx, argv)
}

func runChild(ctx context.Context, argv []string) (int, error) {
	child := exec.CommandContext(ctx, argv[0], argv[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	if err := child.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return 1, err
	}
	return 0, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			internal.GetLogger().Printf("Metrics listener on %s stopped: %v", addr, err)
		}
	}()
}
