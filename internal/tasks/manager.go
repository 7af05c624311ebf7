package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/MichaelGodsHand/suggestions/internal/automation"
	"github.com/MichaelGodsHand/suggestions/internal/driver"
	"github.com/MichaelGodsHand/suggestions/internal/metrics"
)

// State is the manager lifecycle phase.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Health is the manager's externally visible condition.
type Health struct {
	State string        `json:"state"`
	Pool  driver.Status `json:"pool"`
}

// ManagerConfig bounds shutdown draining.
type ManagerConfig struct {
	DrainTimeout time.Duration
}

// Manager is the public entry point for task submission. It owns the pool's
// lifecycle and rejects work outside the Ready state.
type Manager struct {
	pool   *driver.Pool
	exec   *Executor
	cfg    ManagerConfig
	logger *zap.Logger

	state atomic.Int32

	// admit serializes task admission against the transition to Draining, so
	// a task observed as Ready is always counted before Shutdown starts
	// waiting on inflight.
	admit    sync.Mutex
	inflight sync.WaitGroup
}

func NewManager(pool *driver.Pool, exec *Executor, cfg ManagerConfig, logger *zap.Logger) *Manager {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 30 * time.Second
	}
	m := &Manager{pool: pool, exec: exec, cfg: cfg, logger: logger}
	m.state.Store(int32(StateStarting))
	return m
}

// Start moves the manager to Ready. Kept separate from construction so the
// surrounding process can finish wiring (HTTP listeners, signal handlers)
// before accepting work.
func (m *Manager) Start() {
	if m.state.CompareAndSwap(int32(StateStarting), int32(StateReady)) {
		m.logger.Info("session manager ready")
	}
}

// Submit runs one task to completion and returns its result or a typed
// error. Only accepted in the Ready state.
func (m *Manager) Submit(ctx context.Context, task *automation.Task) (*automation.Result, error) {
	if len(task.Actions) == 0 && task.URL == "" {
		return nil, &automation.ActionError{Step: 0, Type: "", Err: errors.New("task has no URL and no actions")}
	}

	m.admit.Lock()
	if state := State(m.state.Load()); state != StateReady {
		m.admit.Unlock()
		return nil, fmt.Errorf("%w: state %s", automation.ErrNotReady, state)
	}
	m.inflight.Add(1)
	m.admit.Unlock()
	defer m.inflight.Done()

	start := time.Now()
	res, err := m.exec.Run(ctx, task)
	elapsed := time.Since(start)

	outcome := classifyOutcome(err)
	metrics.ObserveTask(outcome, elapsed)

	if err != nil {
		m.logger.Warn("task failed",
			zap.String("task_id", task.ID.String()),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, err
	}

	m.logger.Info("task completed",
		zap.String("task_id", task.ID.String()),
		zap.String("handle_id", res.Meta.HandleID),
		zap.Int("retries", res.Meta.Retries),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

func classifyOutcome(err error) string {
	var actionErr *automation.ActionError
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, automation.ErrTimeout):
		return "timeout"
	case errors.Is(err, automation.ErrCrashed):
		return "crashed"
	case errors.Is(err, automation.ErrPoolExhausted):
		return "exhausted"
	case errors.Is(err, automation.ErrPoolClosed):
		return "closed"
	case errors.As(err, &actionErr):
		return "action_failed"
	default:
		return "error"
	}
}

// HealthCheck reports the manager state and pool accounting for liveness and
// readiness endpoints.
func (m *Manager) HealthCheck() Health {
	return Health{
		State: State(m.state.Load()).String(),
		Pool:  m.pool.Status(),
	}
}

// Ready reports whether Submit is currently accepted.
func (m *Manager) Ready() bool {
	return State(m.state.Load()) == StateReady
}

// Shutdown drains in-flight tasks for up to the drain window (bounded also
// by ctx) and then shuts the pool down. Subsequent Submits fail with
// ErrNotReady. Idempotent.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.admit.Lock()
	draining := m.state.CompareAndSwap(int32(StateReady), int32(StateDraining)) ||
		// Allow shutting down a manager that never started.
		m.state.CompareAndSwap(int32(StateStarting), int32(StateDraining))
	m.admit.Unlock()
	if !draining {
		return nil
	}
	m.logger.Info("session manager draining")

	drainCtx, cancel := context.WithTimeout(ctx, m.cfg.DrainTimeout)
	defer cancel()

	drained := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-drainCtx.Done():
		err = fmt.Errorf("drain window elapsed with tasks in flight: %w", drainCtx.Err())
		m.logger.Warn("shutdown proceeding with tasks in flight")
	}

	m.pool.Shutdown()
	m.state.Store(int32(StateStopped))
	m.logger.Info("session manager stopped")
	return err
}
