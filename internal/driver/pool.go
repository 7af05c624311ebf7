package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/MichaelGodsHand/suggestions/internal/automation"
	"github.com/MichaelGodsHand/suggestions/internal/metrics"
)

// PoolConfig bounds the pool. MaxSessions is a hard cap on live browser
// sessions; the pool never grows past it regardless of demand.
type PoolConfig struct {
	MaxSessions   int
	LeaseTimeout  time.Duration
	IdleTTL       time.Duration
	ProbeTimeout  time.Duration
	CreateTimeout time.Duration
	ResetCookies  bool
}

func (c *PoolConfig) applyDefaults() {
	if c.MaxSessions <= 0 {
		c.MaxSessions = 1
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 3 * time.Second
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = 30 * time.Second
	}
}

// Pool owns a bounded set of browser sessions and hands them out one lease
// at a time. Sessions are created lazily, retired when they crash or sit
// idle past the TTL, and replaced in the background after a crash so the
// pool stays warm.
type Pool struct {
	factory Factory
	cfg     PoolConfig
	logger  *zap.Logger

	mu      sync.Mutex
	created int // sessions alive or being created
	leased  int
	closed  bool

	crashes      uint64
	totalCreated uint64
	served       uint64

	idle chan *pooled
	done chan struct{}
}

type pooled struct {
	sess      Session
	createdAt time.Time
	lastUsed  time.Time
	tasks     int
}

// Status is a point-in-time snapshot for health reporting.
type Status struct {
	Capacity int    `json:"capacity"`
	Idle     int    `json:"idle"`
	Busy     int    `json:"busy"`
	Crashes  uint64 `json:"crashes"`
	Created  uint64 `json:"created"`
	Served   uint64 `json:"served"`
	Closed   bool   `json:"closed"`
}

// NewPool builds a pool around the given session factory and starts the idle
// reaper when an IdleTTL is configured.
func NewPool(factory Factory, cfg PoolConfig, logger *zap.Logger) *Pool {
	cfg.applyDefaults()
	p := &Pool{
		factory: factory,
		cfg:     cfg,
		logger:  logger,
		idle:    make(chan *pooled, cfg.MaxSessions),
		done:    make(chan struct{}),
	}
	if cfg.IdleTTL > 0 {
		go p.reapLoop()
	}
	return p
}

// Lease acquires an exclusive session: an idle one when available, a fresh
// one below capacity, otherwise it waits for a release until the lease
// timeout elapses (ErrPoolExhausted) or the pool closes (ErrPoolClosed).
func (p *Pool) Lease(ctx context.Context) (*Lease, error) {
	start := time.Now()
	if p.cfg.LeaseTimeout > 0 {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.cfg.LeaseTimeout)
			defer cancel()
		}
	}

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, automation.ErrPoolClosed
		}

		select {
		case e := <-p.idle:
			if p.stale(e) {
				p.created--
				p.mu.Unlock()
				p.logger.Debug("discarding stale idle session",
					zap.String("session_id", e.sess.ID()),
					zap.Time("last_used", e.lastUsed))
				e.sess.Close()
				continue
			}
			p.leased++
			p.publishGauges()
			p.mu.Unlock()
			metrics.ObserveLeaseWait(time.Since(start))
			return p.newLease(e), nil
		default:
		}

		if p.created < p.cfg.MaxSessions {
			p.created++
			p.mu.Unlock()
			e, err := p.spawn(ctx)
			if err != nil {
				p.mu.Lock()
				p.created--
				p.mu.Unlock()
				return nil, err
			}
			p.mu.Lock()
			if p.closed {
				p.created--
				p.mu.Unlock()
				e.sess.Close()
				return nil, automation.ErrPoolClosed
			}
			p.leased++
			p.totalCreated++
			p.publishGauges()
			p.mu.Unlock()
			metrics.ObserveLeaseWait(time.Since(start))
			return p.newLease(e), nil
		}
		p.mu.Unlock()

		select {
		case e := <-p.idle:
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				e.sess.Close()
				return nil, automation.ErrPoolClosed
			}
			if p.stale(e) {
				p.created--
				p.mu.Unlock()
				e.sess.Close()
				continue
			}
			p.leased++
			p.publishGauges()
			p.mu.Unlock()
			metrics.ObserveLeaseWait(time.Since(start))
			return p.newLease(e), nil
		case <-p.done:
			return nil, automation.ErrPoolClosed
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: waited %s", automation.ErrPoolExhausted, time.Since(start).Round(time.Millisecond))
			}
			return nil, ctx.Err()
		}
	}
}

func (p *Pool) spawn(ctx context.Context) (*pooled, error) {
	sess, err := p.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	metrics.IncSessionCreated()
	now := time.Now()
	return &pooled{sess: sess, createdAt: now, lastUsed: now}, nil
}

// stale must be called with p.mu held only for accounting consistency; it
// reads the entry alone.
func (p *Pool) stale(e *pooled) bool {
	return p.cfg.IdleTTL > 0 && time.Since(e.lastUsed) > p.cfg.IdleTTL
}

// release takes back a leased session. Exactly one of the dispositions
// applies: crashed sessions are discarded and replaced in the background,
// suspect ones (timed-out task) are health-probed off the caller's path,
// healthy ones go back to idle, optionally after a cookie reset.
func (p *Pool) release(e *pooled, crashed, suspect bool) {
	p.mu.Lock()
	p.leased--
	e.tasks++
	p.served++

	if p.closed {
		p.created--
		p.publishGauges()
		p.mu.Unlock()
		e.sess.Close()
		return
	}

	switch {
	case crashed:
		p.created--
		p.crashes++
		p.publishGauges()
		p.mu.Unlock()
		metrics.IncSessionCrash()
		p.logger.Warn("discarding crashed session",
			zap.String("session_id", e.sess.ID()),
			zap.Int("tasks_served", e.tasks))
		e.sess.Close()
		go p.replace()
	case suspect || p.cfg.ResetCookies:
		p.publishGauges()
		p.mu.Unlock()
		go p.recycle(e, suspect)
	default:
		e.lastUsed = time.Now()
		p.idle <- e
		p.publishGauges()
		p.mu.Unlock()
	}
}

// recycle verifies and/or resets a session off the releasing caller's path,
// then parks it back in idle or discards it.
func (p *Pool) recycle(e *pooled, probe bool) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProbeTimeout)
	defer cancel()

	if probe && !e.sess.Healthy(ctx) {
		p.logger.Warn("session failed post-timeout health probe",
			zap.String("session_id", e.sess.ID()))
		p.discard(e)
		return
	}
	if p.cfg.ResetCookies {
		if err := e.sess.Reset(ctx); err != nil {
			p.logger.Warn("session reset failed, discarding",
				zap.String("session_id", e.sess.ID()), zap.Error(err))
			p.discard(e)
			return
		}
	}

	p.mu.Lock()
	if p.closed {
		p.created--
		p.mu.Unlock()
		e.sess.Close()
		return
	}
	e.lastUsed = time.Now()
	p.idle <- e
	p.publishGauges()
	p.mu.Unlock()
}

// discard removes a session from the pool's accounting and schedules a warm
// replacement.
func (p *Pool) discard(e *pooled) {
	p.mu.Lock()
	p.created--
	p.crashes++
	p.publishGauges()
	closed := p.closed
	p.mu.Unlock()
	metrics.IncSessionCrash()
	e.sess.Close()
	if !closed {
		go p.replace()
	}
}

// replace creates one session in the background to keep the pool warm after
// a crash. Failure is logged, not surfaced: the next lease will try again.
func (p *Pool) replace() {
	p.mu.Lock()
	if p.closed || p.created >= p.cfg.MaxSessions {
		p.mu.Unlock()
		return
	}
	p.created++
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CreateTimeout)
	defer cancel()
	e, err := p.spawn(ctx)
	if err != nil {
		p.mu.Lock()
		p.created--
		p.mu.Unlock()
		p.logger.Warn("replacement session creation failed", zap.Error(err))
		return
	}

	p.mu.Lock()
	if p.closed {
		p.created--
		p.mu.Unlock()
		e.sess.Close()
		return
	}
	p.totalCreated++
	p.idle <- e
	p.publishGauges()
	p.mu.Unlock()
	p.logger.Debug("replacement session ready", zap.String("session_id", e.sess.ID()))
}

func (p *Pool) reapLoop() {
	interval := p.cfg.IdleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.reap()
		}
	}
}

// reap closes idle sessions past the TTL. Entries are drained and re-parked
// under the lock so waiters never observe a half-reaped pool.
func (p *Pool) reap() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var keep, drop []*pooled
drain:
	for {
		select {
		case e := <-p.idle:
			if p.stale(e) {
				p.created--
				drop = append(drop, e)
			} else {
				keep = append(keep, e)
			}
		default:
			break drain
		}
	}
	for _, e := range keep {
		p.idle <- e
	}
	p.publishGauges()
	p.mu.Unlock()

	for _, e := range drop {
		p.logger.Debug("reaped stale session",
			zap.String("session_id", e.sess.ID()),
			zap.Int("tasks_served", e.tasks))
		e.sess.Close()
	}
}

// Status reports the pool's current accounting.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Capacity: p.cfg.MaxSessions,
		Idle:     len(p.idle),
		Busy:     p.leased,
		Crashes:  p.crashes,
		Created:  p.totalCreated,
		Served:   p.served,
		Closed:   p.closed,
	}
}

// Shutdown closes all idle sessions and fails subsequent leases with
// ErrPoolClosed. Sessions still leased are closed when released.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)

	var drained []*pooled
drain:
	for {
		select {
		case e := <-p.idle:
			p.created--
			drained = append(drained, e)
		default:
			break drain
		}
	}
	p.publishGauges()
	p.mu.Unlock()

	for _, e := range drained {
		e.sess.Close()
	}
	p.logger.Info("driver pool shut down", zap.Int("closed_sessions", len(drained)))
}

// publishGauges must be called with p.mu held.
func (p *Pool) publishGauges() {
	metrics.SetPoolSessions(len(p.idle), p.leased)
}

func (p *Pool) newLease(e *pooled) *Lease {
	return &Lease{pool: p, entry: e}
}

// Lease is a temporary exclusive grant of one session. Release is safe to
// call multiple times; only the first call returns the session to the pool.
type Lease struct {
	pool  *Pool
	entry *pooled

	mu      sync.Mutex
	crashed bool
	suspect bool
	once    sync.Once
}

// Session returns the leased session. Valid until Release.
func (l *Lease) Session() Session { return l.entry.sess }

// MarkCrashed flags the session for removal on release.
func (l *Lease) MarkCrashed() {
	l.mu.Lock()
	l.crashed = true
	l.mu.Unlock()
}

// MarkSuspect flags the session for a health probe on release. Used after a
// task timeout, where a slow page and a dead browser look the same to the
// caller.
func (l *Lease) MarkSuspect() {
	l.mu.Lock()
	l.suspect = true
	l.mu.Unlock()
}

// Release returns the session to the pool. Exactly once, on every exit path.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.mu.Lock()
		crashed, suspect := l.crashed, l.suspect
		l.mu.Unlock()
		l.pool.release(l.entry, crashed, suspect)
	})
}
