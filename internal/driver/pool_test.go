package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/MichaelGodsHand/suggestions/internal/automation"
)

// fakeSession satisfies Session without a browser. It tracks concurrent use
// so tests can assert lease exclusivity.
type fakeSession struct {
	id        string
	executeFn func(ctx context.Context, task *automation.Task) (*automation.Result, error)
	healthyFn func(ctx context.Context) bool
	resetErr  error

	mu        sync.Mutex
	busy      bool
	closed    bool
	execCount int
	overlaps  int
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Execute(ctx context.Context, task *automation.Task) (*automation.Result, error) {
	f.mu.Lock()
	if f.busy {
		f.overlaps++
	}
	f.busy = true
	f.execCount++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.busy = false
		f.mu.Unlock()
	}()
	if f.executeFn != nil {
		return f.executeFn(ctx, task)
	}
	return &automation.Result{}, nil
}

func (f *fakeSession) Healthy(ctx context.Context) bool {
	if f.healthyFn != nil {
		return f.healthyFn(ctx)
	}
	return true
}

func (f *fakeSession) Reset(ctx context.Context) error { return f.resetErr }

func (f *fakeSession) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSession) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeFactory builds fakeSessions and remembers them.
type fakeFactory struct {
	mu      sync.Mutex
	made    []*fakeSession
	mutate  func(*fakeSession)
	failErr error
}

func (ff *fakeFactory) new(ctx context.Context) (Session, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.failErr != nil {
		return nil, ff.failErr
	}
	s := &fakeSession{id: fmt.Sprintf("fake-%d", len(ff.made))}
	if ff.mutate != nil {
		ff.mutate(s)
	}
	ff.made = append(ff.made, s)
	return s, nil
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.made)
}

func newTestPool(t *testing.T, ff *fakeFactory, cfg PoolConfig) *Pool {
	t.Helper()
	p := NewPool(ff.new, cfg, zaptest.NewLogger(t))
	t.Cleanup(p.Shutdown)
	return p
}

func TestPool_LeaseCreatesLazilyUpToCapacity(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, ff, PoolConfig{MaxSessions: 2, LeaseTimeout: 50 * time.Millisecond})

	l1, err := p.Lease(context.Background())
	require.NoError(t, err)
	l2, err := p.Lease(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, ff.count())

	// At capacity with nothing idle: the third lease times out.
	_, err = p.Lease(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, automation.ErrPoolExhausted)
	assert.Equal(t, 2, ff.count(), "exhaustion must not create sessions past capacity")

	l1.Release()
	l2.Release()

	// Released sessions are reused, not recreated.
	l3, err := p.Lease(context.Background())
	require.NoError(t, err)
	defer l3.Release()
	assert.Equal(t, 2, ff.count())
}

func TestPool_WaiterGetsReleasedSession(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, ff, PoolConfig{MaxSessions: 1, LeaseTimeout: time.Second})

	l1, err := p.Lease(context.Background())
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		l2, err := p.Lease(context.Background())
		if err == nil {
			l2.Release()
		}
		got <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter block
	l1.Release()

	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released session")
	}
}

func TestPool_ReleaseIsExactlyOnce(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, ff, PoolConfig{MaxSessions: 1})

	l, err := p.Lease(context.Background())
	require.NoError(t, err)
	l.Release()
	l.Release()
	l.Release()

	st := p.Status()
	assert.Equal(t, 1, st.Idle)
	assert.Equal(t, 0, st.Busy)
	assert.EqualValues(t, 1, st.Served, "repeated Release must count one served task")
}

func TestPool_CrashedSessionRemovedAndReplaced(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, ff, PoolConfig{MaxSessions: 1, LeaseTimeout: time.Second})

	l, err := p.Lease(context.Background())
	require.NoError(t, err)
	crashed := l.Session().(*fakeSession)
	l.MarkCrashed()
	l.Release()

	assert.True(t, crashed.isClosed(), "crashed session must be closed")

	// Replacement arrives asynchronously and restores capacity.
	require.Eventually(t, func() bool {
		return p.Status().Idle == 1
	}, time.Second, 5*time.Millisecond, "pool never warmed back up")
	assert.Equal(t, 2, ff.count())

	l2, err := p.Lease(context.Background())
	require.NoError(t, err)
	defer l2.Release()
	assert.NotEqual(t, crashed.ID(), l2.Session().ID(), "crashed session must never be leased again")
}

func TestPool_SuspectHealthySessionReturnsToIdle(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, ff, PoolConfig{MaxSessions: 1, LeaseTimeout: time.Second})

	l, err := p.Lease(context.Background())
	require.NoError(t, err)
	id := l.Session().ID()
	l.MarkSuspect()
	l.Release()

	require.Eventually(t, func() bool {
		return p.Status().Idle == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, ff.count(), "healthy suspect must be kept, not replaced")

	l2, err := p.Lease(context.Background())
	require.NoError(t, err)
	defer l2.Release()
	assert.Equal(t, id, l2.Session().ID())
}

func TestPool_SuspectUnhealthySessionDiscarded(t *testing.T) {
	ff := &fakeFactory{mutate: func(s *fakeSession) {
		s.healthyFn = func(context.Context) bool { return false }
	}}
	p := newTestPool(t, ff, PoolConfig{MaxSessions: 1, LeaseTimeout: time.Second})

	l, err := p.Lease(context.Background())
	require.NoError(t, err)
	first := l.Session().(*fakeSession)
	l.MarkSuspect()
	l.Release()

	require.Eventually(t, func() bool {
		return first.isClosed() && p.Status().Idle == 1
	}, time.Second, 5*time.Millisecond, "unhealthy suspect should be replaced")
	assert.GreaterOrEqual(t, ff.count(), 2)
	assert.EqualValues(t, 1, p.Status().Crashes)
}

func TestPool_ResetFailureDiscardsSession(t *testing.T) {
	ff := &fakeFactory{mutate: func(s *fakeSession) {
		s.resetErr = errors.New("devtools gone")
	}}
	p := newTestPool(t, ff, PoolConfig{MaxSessions: 1, LeaseTimeout: time.Second, ResetCookies: true})

	l, err := p.Lease(context.Background())
	require.NoError(t, err)
	first := l.Session().(*fakeSession)
	l.Release()

	require.Eventually(t, func() bool {
		return first.isClosed()
	}, time.Second, 5*time.Millisecond)
}

func TestPool_IdleTTLExpiresStaleSessions(t *testing.T) {
	ff := &fakeFactory{}
	p := newTestPool(t, ff, PoolConfig{MaxSessions: 1, LeaseTimeout: time.Second, IdleTTL: 20 * time.Millisecond})

	l, err := p.Lease(context.Background())
	require.NoError(t, err)
	first := l.Session().(*fakeSession)
	l.Release()

	time.Sleep(60 * time.Millisecond)

	l2, err := p.Lease(context.Background())
	require.NoError(t, err)
	defer l2.Release()
	assert.True(t, first.isClosed(), "stale session should have been closed")
	assert.NotEqual(t, first.ID(), l2.Session().ID())
}

func TestPool_ShutdownFailsSubsequentLeases(t *testing.T) {
	ff := &fakeFactory{}
	p := NewPool(ff.new, PoolConfig{MaxSessions: 2}, zaptest.NewLogger(t))

	l, err := p.Lease(context.Background())
	require.NoError(t, err)
	l.Release()

	p.Shutdown()
	p.Shutdown() // idempotent

	_, err = p.Lease(context.Background())
	assert.ErrorIs(t, err, automation.ErrPoolClosed)
	assert.True(t, ff.made[0].isClosed())
	assert.True(t, p.Status().Closed)
}

func TestPool_ShutdownUnblocksWaiters(t *testing.T) {
	ff := &fakeFactory{}
	p := NewPool(ff.new, PoolConfig{MaxSessions: 1, LeaseTimeout: 5 * time.Second}, zaptest.NewLogger(t))

	l, err := p.Lease(context.Background())
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		_, err := p.Lease(context.Background())
		got <- err
	}()
	time.Sleep(20 * time.Millisecond)

	p.Shutdown()
	select {
	case err := <-got:
		assert.ErrorIs(t, err, automation.ErrPoolClosed)
	case <-time.After(time.Second):
		t.Fatal("waiter not unblocked by shutdown")
	}
	l.Release() // released into a closed pool: just closed
	assert.True(t, l.Session().(*fakeSession).isClosed())
}

func TestPool_FactoryFailureDoesNotLeakCapacity(t *testing.T) {
	ff := &fakeFactory{failErr: errors.New("chrome exploded")}
	p := newTestPool(t, ff, PoolConfig{MaxSessions: 1, LeaseTimeout: 50 * time.Millisecond})

	_, err := p.Lease(context.Background())
	require.Error(t, err)

	// The failed creation must have returned its slot.
	ff.mu.Lock()
	ff.failErr = nil
	ff.mu.Unlock()
	l, err := p.Lease(context.Background())
	require.NoError(t, err)
	l.Release()
}

func TestPool_ConcurrentStressNeverDoubleLeases(t *testing.T) {
	const capacity = 3
	const callers = 30

	ff := &fakeFactory{}
	p := newTestPool(t, ff, PoolConfig{MaxSessions: capacity, LeaseTimeout: 5 * time.Second})

	var inFlight atomic.Int32
	var peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l, err := p.Lease(context.Background())
			if err != nil {
				t.Errorf("lease failed: %v", err)
				return
			}
			defer l.Release()

			n := inFlight.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			_, _ = l.Session().Execute(context.Background(), &automation.Task{})
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(capacity), "more leases in flight than capacity")
	assert.LessOrEqual(t, ff.count(), capacity)
	for _, s := range ff.made {
		assert.Zero(t, s.overlaps, "session %s executed for two callers at once", s.ID())
	}

	st := p.Status()
	assert.Equal(t, 0, st.Busy)
	assert.Equal(t, ff.count(), st.Idle, "every lease must be matched by a release")
	assert.EqualValues(t, callers, st.Served)
}
