// Package connmanager implements the connection manager (C7): the public
// façade in front of the circuit breaker (C2) and connection pool (C5).
// The teacher has no standalone equivalent (nova inlines retry directly
// into its invocation executor); this package is grounded on the
// teacher's eventbus.calcBackoff exponential-backoff helper
// (internal/eventbus/worker.go) for execute_with_retry's backoff curve.
package connmanager

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/oriys/cortex/internal/circuitbreaker"
	"github.com/oriys/cortex/internal/conn"
	"github.com/oriys/cortex/internal/domain"
	"github.com/oriys/cortex/internal/health"
	"github.com/oriys/cortex/internal/logging"
	"github.com/oriys/cortex/internal/metrics"
)

// Pool is the subset of *pool.Pool the manager depends on.
type Pool interface {
	Acquire(ctx context.Context, timeout time.Duration) (*conn.Conn, error)
	Endpoints() []*domain.Endpoint
	AvailableCount() int
	CurrentSize() int
	InUseCount() int
	CloseAll()
}

// RetryPolicy configures execute_with_retry's attempt count and backoff
// curve, matching the surface in spec.md §6.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

func (r RetryPolicy) backoff(attempt int) time.Duration {
	if r.Multiplier <= 0 {
		r.Multiplier = 2
	}
	d := float64(r.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= r.Multiplier
	}
	if r.MaxBackoff > 0 && time.Duration(d) > r.MaxBackoff {
		return r.MaxBackoff
	}
	return time.Duration(d)
}

// Manager is the public façade agent sessions (C8) and the sync
// coordinator (C10) acquire connections through.
type Manager struct {
	pool     Pool
	breakers *circuitbreaker.Registry
	monitor  *health.Monitor
	retry    RetryPolicy

	shutdownGracePeriod time.Duration
	shuttingDown        atomic.Bool
}

// New constructs a Manager over pool, with one circuit breaker per
// endpoint (breakerCfg) and the given retry policy. monitor, if non-nil,
// is stopped during Shutdown.
func New(pool Pool, breakerCfg circuitbreaker.Config, retry RetryPolicy, monitor *health.Monitor, shutdownGracePeriod time.Duration) *Manager {
	return &Manager{
		pool:                pool,
		breakers:            circuitbreaker.NewRegistry(breakerCfg),
		monitor:             monitor,
		retry:               retry,
		shutdownGracePeriod: shutdownGracePeriod,
	}
}

// Acquire obtains a loan, consulting the circuit breaker for the endpoint
// the loan was drawn from. Since the breaker is keyed per
// endpoint but the pool chooses the endpoint internally, Acquire checks
// breaker state only after the pool has committed to an endpoint, via the
// connection's recorded State.Endpoint — a failed probe there records
// failure and the caller should retry against a different endpoint on its
// next attempt.
func (m *Manager) Acquire(ctx context.Context, timeout time.Duration) (*conn.Conn, error) {
	if m.shuttingDown.Load() {
		return nil, domain.ErrPoolClosed
	}

	c, err := m.pool.Acquire(ctx, timeout)
	if err != nil {
		return nil, err
	}

	b := m.breakers.Get(c.State.Endpoint)
	if !b.Allow() {
		c.MarkForRecycling()
		c.Close(ctx)
		return nil, domain.ErrCircuitOpen
	}

	if !c.CheckHealth(ctx) {
		b.RecordFailure()
		c.MarkForRecycling()
		c.Close(ctx)
		return nil, domain.Wrap(domain.KindTransient, "acquired connection failed health check", nil)
	}
	b.RecordSuccess()
	return c, nil
}

// ExecuteWithRetry runs op at most retry.MaxAttempts times, acquiring a
// fresh connection on every attempt and sleeping
// min(initial_backoff * multiplier^(k-1), max_backoff) between attempts.
// Only errors classified as transient are retried.
func (m *Manager) ExecuteWithRetry(ctx context.Context, timeout time.Duration, op func(*conn.Conn) error) error {
	maxAttempts := m.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c, err := m.Acquire(ctx, timeout)
		if err != nil {
			lastErr = err
			if !domain.IsTransient(err) {
				return err
			}
		} else {
			err = op(c)
			c.Close(ctx)
			if err == nil {
				metrics.RecordSuccess()
				return nil
			}
			lastErr = err
			if !domain.IsTransient(err) {
				return err
			}
		}

		metrics.RecordRetry("execute_with_retry")
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.retry.backoff(attempt)):
		}
	}
	return lastErr
}

// HealthStatus reports per-endpoint health alongside the breaker state,
// for the API surface's health endpoint.
func (m *Manager) HealthStatus() map[string]string {
	status := m.breakers.Snapshot()
	for _, ep := range m.pool.Endpoints() {
		if _, ok := status[ep.Address]; !ok {
			status[ep.Address] = circuitbreaker.StateClosed.String()
		}
	}
	return status
}

// PoolStats reports current pool occupancy.
func (m *Manager) PoolStats() (available, size, inUse int) {
	return m.pool.AvailableCount(), m.pool.CurrentSize(), m.pool.InUseCount()
}

// IsShuttingDown reports whether Shutdown has been called.
func (m *Manager) IsShuttingDown() bool { return m.shuttingDown.Load() }

// Shutdown sets shutting_down, waits up to shutdown_grace_period for
// outstanding loans to return, stops the health monitor, and closes all
// idle connections. A warning is logged per loan still outstanding when
// the grace period elapses.
func (m *Manager) Shutdown(ctx context.Context) {
	m.shuttingDown.Store(true)

	deadline := time.Now().Add(m.shutdownGracePeriod)
	for time.Now().Before(deadline) {
		if m.pool.InUseCount() == 0 {
			break
		}
		select {
		case <-ctx.Done():
			break
		case <-time.After(100 * time.Millisecond):
		}
	}
	if n := m.pool.InUseCount(); n > 0 {
		logging.Op().Warn("shutdown grace period elapsed with loans outstanding", "outstanding", n)
	}

	if m.monitor != nil {
		m.monitor.Stop()
	}
	m.pool.CloseAll()
}
