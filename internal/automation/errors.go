package automation

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure classes the caller is expected to branch
// on. Wrap with fmt.Errorf("...: %w", ...) and test with errors.Is.
var (
	// ErrPoolExhausted means no session became available within the lease
	// timeout. The caller may retry with backoff.
	ErrPoolExhausted = errors.New("driver pool exhausted")

	// ErrPoolClosed means the pool has been shut down.
	ErrPoolClosed = errors.New("driver pool closed")

	// ErrCrashed means the underlying browser session became unresponsive.
	// The executor retries this class once on a fresh session.
	ErrCrashed = errors.New("driver session crashed")

	// ErrTimeout means the task exceeded its time budget. Never retried.
	ErrTimeout = errors.New("task timed out")

	// ErrNotReady means Submit was called outside the Ready state.
	ErrNotReady = errors.New("session manager not ready")
)

// ActionError reports a failure of one specific script step. Never retried:
// a selector or logic problem will recur identically.
type ActionError struct {
	Step int
	Type ActionType
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %d (%s) failed: %v", e.Step, e.Type, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Retryable reports whether the executor may re-attempt the task on a fresh
// session. Only crash-class failures qualify; timeouts and action failures
// would either recur or double-execute side effects.
func Retryable(err error) bool {
	return errors.Is(err, ErrCrashed)
}
