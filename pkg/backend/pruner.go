package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Pruner sweeps the pool's idle connections on a cron schedule, closing any
// that have outlived the idle TTL. Backends apply their own idle timeouts;
// recycled connections must not outlive them.
type Pruner struct {
	pool     *Pool
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
}

// DefaultPruneSchedule runs the sweep once a minute.
const DefaultPruneSchedule = "@every 1m"

// NewPruner creates a pruner for pool. An empty schedule selects
// DefaultPruneSchedule.
func NewPruner(pool *Pool, schedule string, logger *slog.Logger) *Pruner {
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		pool:     pool,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With("component", "backend.pruner"),
	}
}

// Start validates the schedule and begins sweeping. The pruner stops itself
// when ctx is cancelled.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("pruner already running")
	}

	if _, err := cron.ParseStandard(p.schedule); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", p.schedule, err)
	}
	if _, err := p.cron.AddFunc(p.schedule, p.sweep); err != nil {
		return fmt.Errorf("schedule idle sweep: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.logger.Info("idle connection pruner started", "schedule", p.schedule)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop halts scheduled sweeps. Already-running sweeps finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.cron.Stop()
	p.running = false
	p.logger.Info("idle connection pruner stopped")
}

func (p *Pruner) sweep() {
	if n := p.pool.PruneIdle(time.Now()); n > 0 {
		p.logger.Info("closed idle backend connections", "count", n)
	}
}
