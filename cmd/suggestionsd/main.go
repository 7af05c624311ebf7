// suggestionsd is the suggestions service daemon: a driver pool and session
// manager behind the HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MichaelGodsHand/suggestions/internal/config"
	"github.com/MichaelGodsHand/suggestions/internal/driver"
	"github.com/MichaelGodsHand/suggestions/internal/logging"
	"github.com/MichaelGodsHand/suggestions/internal/metrics"
	"github.com/MichaelGodsHand/suggestions/internal/server"
	"github.com/MichaelGodsHand/suggestions/internal/tasks"
)

func main() {
	configPath := flag.String("config", "", "path to config file (yaml)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "suggestionsd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics.Init()

	chrome := driver.NewChrome(cfg.Browser, logger)
	defer chrome.Close()

	pool := driver.NewPool(chrome.NewSession, driver.PoolConfig{
		MaxSessions:   cfg.Pool.MaxSessions,
		LeaseTimeout:  cfg.Pool.LeaseTimeout,
		IdleTTL:       cfg.Pool.IdleTTL,
		ProbeTimeout:  cfg.Pool.ProbeTimeout,
		CreateTimeout: cfg.Pool.CreateTimeout,
		ResetCookies:  cfg.Pool.ResetCookies,
	}, logger)

	exec := tasks.NewExecutor(pool, tasks.ExecutorConfig{
		DefaultTimeout:    cfg.Tasks.DefaultTimeout,
		DefaultMaxRetries: cfg.Tasks.DefaultMaxRetries,
	}, logger)

	mgr := tasks.NewManager(pool, exec, tasks.ManagerConfig{
		DrainTimeout: cfg.Pool.DrainTimeout,
	}, logger)

	srv := server.New(cfg, mgr, logger)
	mgr.Start()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pool.DrainTimeout+10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		return mgr.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
