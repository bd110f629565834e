// Package health implements the health monitor (C4): a background task
// that periodically probes idle connections, evicts unhealthy or expired
// ones, and restores min_connections. It generalizes the teacher's paired
// cleanupLoop/healthCheckLoop goroutines (internal/pool.Pool in the
// reference corpus) into a single ticker driving internal/pool.Pool.Sweep.
package health

import (
	"context"
	"sync"
	"time"
)

// Sweeper is the subset of *pool.Pool the monitor depends on. Declared
// here, rather than imported as a concrete type, so tests can substitute a
// fake pool without a live D-store.
type Sweeper interface {
	Sweep(ctx context.Context)
}

// Monitor runs Sweeper.Sweep on a fixed interval until Stop is called.
// Stop blocks until the current probe cycle finishes, per spec: the
// monitor must complete its current probe cycle before exiting.
type Monitor struct {
	pool          Sweeper
	checkInterval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// New constructs a Monitor. checkInterval defaults to 30s when <= 0,
// matching spec.md §4.4's default.
func New(pool Sweeper, checkInterval time.Duration) *Monitor {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	return &Monitor{pool: pool, checkInterval: checkInterval, done: make(chan struct{})}
}

// Start launches the background probe loop. Safe to call once; a second
// call is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		m.cancel = cancel
		go m.loop(ctx)
	})
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pool.Sweep(ctx)
		}
	}
}

// Stop cancels the probe loop and blocks until the in-flight cycle, if
// any, returns.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}
