// Package tasks contains the task executor and the session manager that
// fronts the driver pool.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MichaelGodsHand/suggestions/internal/automation"
	"github.com/MichaelGodsHand/suggestions/internal/driver"
)

// ExecutorConfig carries the per-task defaults applied when a task leaves
// them unset.
type ExecutorConfig struct {
	DefaultTimeout    time.Duration
	DefaultMaxRetries int
}

// Executor runs one task against a leased session, enforcing the timeout and
// the retry-on-crash policy. The one property everything else leans on:
// every successful lease is released exactly once, whatever happens.
type Executor struct {
	pool   *driver.Pool
	cfg    ExecutorConfig
	logger *zap.Logger
}

func NewExecutor(pool *driver.Pool, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 60 * time.Second
	}
	if cfg.DefaultMaxRetries < 0 {
		cfg.DefaultMaxRetries = 0
	}
	return &Executor{pool: pool, cfg: cfg, logger: logger}
}

// Run executes the task, retrying crash-class failures on a fresh session up
// to the task's retry budget (zero means the configured default, negative
// disables retries). Timeouts and action failures surface on the first
// occurrence: retrying either would re-run side effects for the same outcome.
func (e *Executor) Run(ctx context.Context, task *automation.Task) (*automation.Result, error) {
	budget := task.MaxRetries
	if budget == 0 {
		budget = e.cfg.DefaultMaxRetries
	}
	if budget < 0 {
		budget = 0
	}

	var lastErr error
	for attempt := 0; attempt <= budget; attempt++ {
		res, err := e.attempt(ctx, task)
		if err == nil {
			res.Meta.Retries = attempt
			return res, nil
		}
		lastErr = err
		if !automation.Retryable(err) {
			return nil, err
		}
		if attempt < budget {
			e.logger.Warn("session crashed, retrying on a fresh session",
				zap.String("task_id", task.ID.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}
	return nil, lastErr
}

func (e *Executor) attempt(ctx context.Context, task *automation.Task) (res *automation.Result, err error) {
	lease, leaseErr := e.pool.Lease(ctx)
	if leaseErr != nil {
		return nil, leaseErr
	}
	defer lease.Release()

	// A panicking action must not leak the lease, and leaves the tab in an
	// unknown state, so treat it as a crash.
	defer func() {
		if r := recover(); r != nil {
			lease.MarkCrashed()
			res = nil
			err = fmt.Errorf("%w: panic during execution: %v", automation.ErrCrashed, r)
		}
	}()

	timeout := task.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err = lease.Session().Execute(execCtx, task)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		// A session must never return (nil, nil); treat it as a session bug,
		// not a crash, so the retry budget and the session survive.
		if res == nil {
			return nil, fmt.Errorf("session %s returned no result", lease.Session().ID())
		}
		res.Meta.HandleID = lease.Session().ID()
		res.Meta.Duration = elapsed
		return res, nil
	case automation.Retryable(err):
		lease.MarkCrashed()
		return nil, err
	case isTimeout(err):
		lease.MarkSuspect()
		return nil, err
	default:
		return nil, err
	}
}

func isTimeout(err error) bool {
	return errors.Is(err, automation.ErrTimeout)
}
