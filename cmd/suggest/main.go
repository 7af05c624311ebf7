// suggest runs one autocomplete query through the real browser path and
// prints the result, without the HTTP layer. Useful for smoke-testing a
// container image's Chrome installation.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/MichaelGodsHand/suggestions/internal/config"
	"github.com/MichaelGodsHand/suggestions/internal/driver"
	"github.com/MichaelGodsHand/suggestions/internal/logging"
	"github.com/MichaelGodsHand/suggestions/internal/metrics"
	"github.com/MichaelGodsHand/suggestions/internal/suggest"
	"github.com/MichaelGodsHand/suggestions/internal/tasks"
)

func main() {
	query := flag.String("query", "", "search query (required)")
	limit := flag.Int("limit", suggest.DefaultLimit, "maximum number of suggestions")
	configPath := flag.String("config", "", "path to config file (yaml)")
	timeout := flag.Duration("timeout", 90*time.Second, "overall deadline")
	flag.Parse()

	if *query == "" {
		fmt.Fprintln(os.Stderr, "usage: suggest -query <term> [-limit n]")
		os.Exit(2)
	}
	if err := run(*query, *limit, *configPath, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "suggest: %v\n", err)
		os.Exit(1)
	}
}

func run(query string, limit int, configPath string, timeout time.Duration) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, true)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	metrics.Init()

	chrome := driver.NewChrome(cfg.Browser, logger)
	defer chrome.Close()

	pool := driver.NewPool(chrome.NewSession, driver.PoolConfig{
		MaxSessions:  1,
		LeaseTimeout: cfg.Pool.LeaseTimeout,
		ResetCookies: false,
	}, logger)

	exec := tasks.NewExecutor(pool, tasks.ExecutorConfig{
		DefaultTimeout:    cfg.Tasks.DefaultTimeout,
		DefaultMaxRetries: cfg.Tasks.DefaultMaxRetries,
	}, logger)
	mgr := tasks.NewManager(pool, exec, tasks.ManagerConfig{DrainTimeout: 5 * time.Second}, logger)
	mgr.Start()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := mgr.Submit(ctx, suggest.BuildTask(query, limit))
	if err != nil {
		return err
	}

	out := map[string]any{
		"query":       query,
		"suggestions": suggest.Suggestions(query, res),
		"handle_id":   res.Meta.HandleID,
		"duration":    res.Meta.Duration.String(),
		"retries":     res.Meta.Retries,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return mgr.Shutdown(shutdownCtx)
}
