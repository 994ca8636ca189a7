package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"kestrel-hq/kestrel/pkg/wire"
)

// Dialer opens a transport to a backend address. Swappable in tests.
type Dialer func(ctx context.Context, address string) (net.Conn, error)

// Config tunes pool behavior. Zero values fall back to the defaults below.
type Config struct {
	// AcquireTimeout bounds how long Acquire waits for a free slot when
	// the caller's context carries no earlier deadline.
	AcquireTimeout time.Duration

	// DialTimeout bounds a single dial attempt.
	DialTimeout time.Duration

	// IdleConnTTL is how long a recycled connection may sit idle before
	// the pruner closes it.
	IdleConnTTL time.Duration

	// BackoffBase is the first backoff interval after a failure.
	BackoffBase time.Duration

	// BackoffMax caps the backoff interval growth.
	BackoffMax time.Duration

	// Limits are the wire framing limits applied to backend connections.
	Limits wire.Limits
}

// Pool defaults.
const (
	DefaultAcquireTimeout = 5 * time.Second
	DefaultDialTimeout    = 3 * time.Second
	DefaultIdleConnTTL    = 2 * time.Minute
	DefaultBackoffBase    = 500 * time.Millisecond
	DefaultBackoffMax     = 30 * time.Second
	DefaultMaxSessions    = 4
)

func (c Config) withDefaults() Config {
	if c.AcquireTimeout <= 0 {
		c.AcquireTimeout = DefaultAcquireTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.IdleConnTTL <= 0 {
		c.IdleConnTTL = DefaultIdleConnTTL
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	return c
}

// targetPool is the per-target slice of the pool: a slot semaphore sized to
// the target's max sessions, the idle connection list, and the health state.
type targetPool struct {
	target Target
	slots  chan struct{}
	health *healthState

	mu     sync.Mutex
	idle   []*Conn
	leased int
}

// Pool owns one targetPool per configured backend target.
type Pool struct {
	cfg     Config
	dial    Dialer
	logger  *slog.Logger
	targets map[string]*targetPool

	mu     sync.Mutex
	closed bool
}

// NewPool builds a pool over the configured targets. Target names must be
// unique; a target with MaxSessions <= 0 gets DefaultMaxSessions.
func NewPool(targets []Target, cfg Config, logger *slog.Logger) (*Pool, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("no backend targets configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()

	p := &Pool{
		cfg:     cfg,
		logger:  logger,
		targets: make(map[string]*targetPool, len(targets)),
		dial: func(ctx context.Context, address string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", address)
		},
	}

	for _, t := range targets {
		if t.Name == "" {
			return nil, fmt.Errorf("backend target with empty name")
		}
		if t.Address == "" {
			return nil, fmt.Errorf("backend target %q has no address", t.Name)
		}
		if _, dup := p.targets[t.Name]; dup {
			return nil, fmt.Errorf("duplicate backend target %q", t.Name)
		}
		max := t.MaxSessions
		if max <= 0 {
			max = DefaultMaxSessions
		}
		slots := make(chan struct{}, max)
		for i := 0; i < max; i++ {
			slots <- struct{}{}
		}
		p.targets[t.Name] = &targetPool{
			target: t,
			slots:  slots,
			health: newHealthState(cfg.BackoffBase, cfg.BackoffMax),
		}
	}
	return p, nil
}

// SetDialer replaces the TCP dialer. Test hook; call before serving traffic.
func (p *Pool) SetDialer(d Dialer) {
	p.dial = d
}

// Targets returns the configured target names as a membership set, for rule
// validation.
func (p *Pool) Targets() map[string]bool {
	names := make(map[string]bool, len(p.targets))
	for name := range p.targets {
		names[name] = true
	}
	return names
}

// Acquire leases a connection to the named target. It fails fast with an
// *UnreachableError while the target is backing off, waits for a session slot
// (bounded by ctx or AcquireTimeout, whichever is sooner), and then reuses an
// idle connection or dials a fresh one. A dial failure records a health
// failure and returns the slot.
func (p *Pool) Acquire(ctx context.Context, target string) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	tp, ok := p.targets[target]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}

	now := time.Now()
	if !tp.health.available(now) {
		snap := tp.health.snapshot(now)
		return nil, &UnreachableError{Target: target, RetryAt: snap.RetryAt}
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	select {
	case <-tp.slots:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %q: %v", ErrPoolExhausted, target, ctx.Err())
	}

	// Slot held from here; every failure path must return it.
	if conn := tp.takeIdle(now, p.cfg.IdleConnTTL); conn != nil {
		tp.noteLeased(1)
		return conn, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.DialTimeout)
	defer cancel()
	nc, err := p.dial(dialCtx, tp.target.Address)
	if err != nil {
		tp.slots <- struct{}{}
		tp.health.recordFailure(time.Now())
		p.logger.Warn("backend dial failed",
			"backend", target,
			"address", tp.target.Address,
			"error", err,
		)
		return nil, &UnreachableError{Target: target, Cause: err}
	}

	tp.noteLeased(1)
	return newConn(target, nc, p.cfg.Limits), nil
}

// Release returns a leased connection. A clean outcome recycles the
// connection into the idle list and resets the target's backoff; an error
// outcome closes it, and a backend-error outcome additionally counts against
// the target's health so a backend that accepts dials but misbehaves after
// handoff still enters backoff. The session slot is returned on all paths.
// Release is required on every session exit path.
func (p *Pool) Release(conn *Conn, outcome Outcome) {
	if conn == nil {
		return
	}
	tp, ok := p.targets[conn.target]
	if !ok {
		_ = conn.Close()
		return
	}

	tp.noteLeased(-1)
	tp.slots <- struct{}{}

	switch outcome {
	case OutcomeClean:
		tp.health.recordSuccess()
		if p.isClosed() {
			_ = conn.Close()
			return
		}
		conn.idleFrom = time.Now()
		// Clear any deadlines a relay left behind before the next lease.
		_ = conn.netConn.SetDeadline(time.Time{})
		tp.mu.Lock()
		tp.idle = append(tp.idle, conn)
		tp.mu.Unlock()
	case OutcomeBackendError:
		tp.health.recordFailure(time.Now())
		_ = conn.Close()
	default:
		_ = conn.Close()
	}
}

// Leased returns the number of currently-leased connections to target. This
// is the pool's resource-safety gauge: it returns to zero once all sessions
// have released on every exit path.
func (p *Pool) Leased(target string) int {
	tp, ok := p.targets[target]
	if !ok {
		return 0
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.leased
}

// Health returns the named target's health snapshot.
func (p *Pool) Health(target string) (HealthSnapshot, bool) {
	tp, ok := p.targets[target]
	if !ok {
		return HealthSnapshot{}, false
	}
	return tp.health.snapshot(time.Now()), true
}

// PruneIdle closes idle connections that have outlived the idle TTL as of
// now, returning how many were closed.
func (p *Pool) PruneIdle(now time.Time) int {
	pruned := 0
	for _, tp := range p.targets {
		tp.mu.Lock()
		kept := tp.idle[:0]
		for _, c := range tp.idle {
			if now.Sub(c.idleFrom) > p.cfg.IdleConnTTL {
				_ = c.Close()
				pruned++
			} else {
				kept = append(kept, c)
			}
		}
		tp.idle = kept
		tp.mu.Unlock()
	}
	return pruned
}

// Close closes all idle connections and fails subsequent Acquires. Leased
// connections are closed by their sessions via Release.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	for _, tp := range p.targets {
		tp.mu.Lock()
		for _, c := range tp.idle {
			_ = c.Close()
		}
		tp.idle = nil
		tp.mu.Unlock()
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (tp *targetPool) takeIdle(now time.Time, ttl time.Duration) *Conn {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	for len(tp.idle) > 0 {
		conn := tp.idle[len(tp.idle)-1]
		tp.idle = tp.idle[:len(tp.idle)-1]
		if now.Sub(conn.idleFrom) > ttl {
			_ = conn.Close()
			continue
		}
		return conn
	}
	return nil
}

func (tp *targetPool) noteLeased(delta int) {
	tp.mu.Lock()
	tp.leased += delta
	tp.mu.Unlock()
}
