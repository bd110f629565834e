// Package pool implements the connection pool (C5): the central resource
// manager for D-store connections, generalizing the teacher's VM pool
// (internal/pool.Pool in the reference corpus) from "warm VM instances
// shared across invocations of one function" to "D-store connections
// shared across callers of one storage core".
//
// # Concurrency model
//
// A concurrent map from connection id to pool entry tracks every
// connection the pool owns. A counting semaphore (buffered channel sized
// MaxConnections) bounds total concurrency and makes Acquire's admission
// control context-aware and timeout-aware without a condition variable.
// An atomic boolean (shuttingDown) stops new connections being created
// once CloseAll has been called.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/oriys/cortex/internal/conn"
	"github.com/oriys/cortex/internal/domain"
	"github.com/oriys/cortex/internal/loadbalancer"
	"github.com/oriys/cortex/internal/logging"
	"github.com/oriys/cortex/internal/metrics"
	"github.com/oriys/cortex/internal/telemetry"
)

// Dialer opens a new physical D-store connection to endpoint. Supplied by
// the caller so the pool stays agnostic of credential resolution
// (internal/secrets) and connection-string construction.
type Dialer func(ctx context.Context, endpoint string) (conn.RawConn, error)

// Config configures the pool, matching the surface in spec.md §4.5/§6.
type Config struct {
	MinConnections     int
	MaxConnections     int
	AcquireTimeout     time.Duration
	ValidateOnCheckout bool
	RecycleAfterUses   int           // 0 = unlimited
	MaxLifetime        time.Duration // 0 = unlimited
	IdleTimeout        time.Duration // 0 = unlimited; evicted by the health monitor
	Strategy           loadbalancer.Strategy
}

type entry struct {
	conn  conn.RawConn
	state *domain.Connection
}

// Pool is the central D-store connection manager. Safe for concurrent
// use. Construct with New, then call WarmUp before serving traffic and
// CloseAll on shutdown.
type Pool struct {
	dial      Dialer
	endpoints []*domain.Endpoint
	balancer  *loadbalancer.Balancer
	cfg       Config

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	idle    []uuid.UUID // LIFO stack of idle connection ids

	sem          chan struct{}
	shuttingDown atomic.Bool
	inUseCount   atomic.Int32
}

// New constructs a Pool over endpoints, dialing new connections through
// dial and selecting endpoints via the configured load balancer strategy.
func New(endpoints []*domain.Endpoint, dial Dialer, cfg Config) *Pool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 5 * time.Second
	}
	return &Pool{
		dial:      dial,
		endpoints: endpoints,
		balancer:  loadbalancer.New(cfg.Strategy),
		cfg:       cfg,
		entries:   make(map[uuid.UUID]*entry),
		sem:       make(chan struct{}, cfg.MaxConnections),
	}
}

// WarmUp pre-creates MinConnections connections, distributed across
// endpoints by the pool's load balancer.
func (p *Pool) WarmUp(ctx context.Context) error {
	for i := 0; i < p.cfg.MinConnections; i++ {
		select {
		case p.sem <- struct{}{}:
		default:
			return nil // MaxConnections below MinConnections; stop warming
		}
		e, err := p.createEntry(ctx)
		if err != nil {
			<-p.sem
			return err
		}
		p.mu.Lock()
		p.entries[e.state.ID] = e
		p.idle = append(p.idle, e.state.ID)
		p.mu.Unlock()
	}
	p.publishStats()
	return nil
}

// Acquire obtains a scoped connection loan, bounded by timeout (falling
// back to cfg.AcquireTimeout when timeout is zero). Domain errors are
// returned via domain.Error so callers can switch on Kind.
func (p *Pool) Acquire(ctx context.Context, timeout time.Duration) (*conn.Conn, error) {
	ctx, span := telemetry.StartSpan(ctx, "pool.Acquire")
	defer span.End()

	if p.shuttingDown.Load() {
		telemetry.SetSpanError(span, domain.ErrPoolClosed)
		return nil, domain.ErrPoolClosed
	}
	if timeout <= 0 {
		timeout = p.cfg.AcquireTimeout
	}

	start := time.Now()
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case p.sem <- struct{}{}:
	case <-acquireCtx.Done():
		metrics.RecordAcquisitionTimeout()
		telemetry.SetSpanError(span, domain.ErrAcquisitionTimeout)
		return nil, domain.ErrAcquisitionTimeout
	}

	c, err := p.acquireWithPermit(acquireCtx)
	if err != nil {
		<-p.sem
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	p.inUseCount.Add(1)
	metrics.RecordAcquisition(float64(time.Since(start).Milliseconds()))
	p.publishStats()
	telemetry.SetSpanOK(span)
	return c, nil
}

// acquireWithPermit runs after a semaphore permit has been taken. It tries
// an idle connection first, validating it on checkout when configured and
// retrying once on validation failure, then falls back to creating a new
// connection via the load balancer.
func (p *Pool) acquireWithPermit(ctx context.Context) (*conn.Conn, error) {
	for attempt := 0; attempt < 2; attempt++ {
		if e := p.takeIdle(); e != nil {
			if p.cfg.ValidateOnCheckout {
				if e.conn.Ping(ctx) != nil {
					p.discardEntry(e, "failed_checkout_validation")
					continue // retry once, per spec.md §4.5
				}
			}
			metrics.RecordConnectionReused(e.state.Endpoint)
			return conn.New(e.conn, e.state, p), nil
		}
		break
	}

	e, err := p.createEntry(ctx)
	if err != nil {
		return nil, domain.Wrap(domain.KindTransient, "create connection", err)
	}
	p.mu.Lock()
	p.entries[e.state.ID] = e
	p.mu.Unlock()
	metrics.RecordConnectionCreated(e.state.Endpoint)
	return conn.New(e.conn, e.state, p), nil
}

func (p *Pool) takeIdle() *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.idle) > 0 {
		last := len(p.idle) - 1
		id := p.idle[last]
		p.idle = p.idle[:last]
		e, ok := p.entries[id]
		if !ok {
			continue
		}
		return e
	}
	return nil
}

func (p *Pool) createEntry(ctx context.Context) (*entry, error) {
	ep := p.balancer.Select(p.endpoints)
	if ep == nil {
		return nil, domain.New(domain.KindTransient, "no endpoints configured")
	}
	raw, err := p.dial(ctx, ep.Address)
	if err != nil {
		atomic.AddInt32(&ep.FailureCount, 1)
		return nil, err
	}
	atomic.AddInt32(&ep.ActiveConnections, 1)
	return &entry{
		conn: raw,
		state: &domain.Connection{
			ID:         domain.NewConnectionID(),
			Endpoint:   ep.Address,
			CreatedAt:  time.Now(),
			LastUsedAt: time.Now(),
			Health:     domain.ConnHealthy,
		},
	}, nil
}

// Release returns a connection to the pool, called implicitly by conn.Conn
// on scope exit. If the connection is marked for recycling, has exceeded
// recycle_after_uses, or has exceeded max_lifetime, it is closed instead
// of returned to the idle set.
func (p *Pool) Release(c *conn.Conn) {
	state := c.State
	shouldClose := p.shuttingDown.Load() ||
		state.MarkedForRecycling ||
		(p.cfg.RecycleAfterUses > 0 && state.UseCount >= p.cfg.RecycleAfterUses) ||
		(p.cfg.MaxLifetime > 0 && time.Since(state.CreatedAt) >= p.cfg.MaxLifetime)

	p.mu.Lock()
	e, ok := p.entries[state.ID]
	if !ok {
		p.mu.Unlock()
		<-p.sem
		p.inUseCount.Add(-1)
		return
	}
	if shouldClose {
		delete(p.entries, state.ID)
	} else {
		p.idle = append(p.idle, state.ID)
	}
	p.mu.Unlock()

	if shouldClose {
		p.closeEntry(e, "recycled")
	}
	<-p.sem
	p.inUseCount.Add(-1)
	p.publishStats()
}

func (p *Pool) discardEntry(e *entry, reason string) {
	p.mu.Lock()
	delete(p.entries, e.state.ID)
	p.mu.Unlock()
	p.closeEntry(e, reason)
}

func (p *Pool) closeEntry(e *entry, reason string) {
	if err := e.conn.Close(); err != nil {
		logging.Op().Warn("error closing pooled connection", "connection_id", e.state.ID, "error", err)
	}
	for _, ep := range p.endpoints {
		if ep.Address == e.state.Endpoint {
			atomic.AddInt32(&ep.ActiveConnections, -1)
			break
		}
	}
	metrics.RecordConnectionClosed(e.state.Endpoint, reason)
}

// Endpoints returns the pool's configured endpoints, for the health
// monitor and connection manager to report on.
func (p *Pool) Endpoints() []*domain.Endpoint { return p.endpoints }

// Sweep probes every idle connection, evicting ones that fail the probe or
// that have exceeded max_lifetime/idle_timeout regardless of health, then
// replenishes down to min_connections. It is driven by the health monitor
// (C4) on a fixed tick and never touches connections that are checked out.
func (p *Pool) Sweep(ctx context.Context) {
	now := time.Now()

	p.mu.Lock()
	var kept []uuid.UUID
	var toEvict []*entry
	for _, id := range p.idle {
		e, ok := p.entries[id]
		if !ok {
			continue
		}
		expired := (p.cfg.MaxLifetime > 0 && now.Sub(e.state.CreatedAt) >= p.cfg.MaxLifetime) ||
			(p.cfg.IdleTimeout > 0 && now.Sub(e.state.LastUsedAt) >= p.cfg.IdleTimeout)
		if expired {
			delete(p.entries, id)
			toEvict = append(toEvict, e)
			continue
		}
		kept = append(kept, id)
	}
	p.idle = kept
	p.mu.Unlock()

	for _, e := range toEvict {
		p.closeEntry(e, "expired")
		<-p.sem // idle entries hold a permit for their lifetime; release on evict
	}

	// Probe the survivors; a failed probe evicts outright rather than
	// waiting for the next checkout to discover it.
	p.mu.Lock()
	probeIDs := append([]uuid.UUID(nil), p.idle...)
	p.mu.Unlock()

	unhealthy := 0
	for _, id := range probeIDs {
		p.mu.Lock()
		e, ok := p.entries[id]
		p.mu.Unlock()
		if !ok {
			continue
		}
		healthy := e.conn.Ping(ctx) == nil
		metrics.RecordHealthCheck(e.state.Endpoint, healthy)
		if healthy {
			continue
		}
		unhealthy++
		p.mu.Lock()
		delete(p.entries, id)
		p.idle = removeID(p.idle, id)
		p.mu.Unlock()
		p.closeEntry(e, "failed_health_check")
		<-p.sem
	}

	if unhealthy > 0 || len(toEvict) > 0 {
		logging.Op().Info("health monitor evicted connections",
			"unhealthy", unhealthy, "expired", len(toEvict))
	}

	// Restore min_connections, distributed by the load balancer.
	for p.CurrentSize() < p.cfg.MinConnections {
		select {
		case p.sem <- struct{}{}:
		default:
			return // at max_connections; nothing more to do
		}
		e, err := p.createEntry(ctx)
		if err != nil {
			<-p.sem
			logging.Op().Warn("health monitor failed to restore min_connections", "error", err)
			return
		}
		p.mu.Lock()
		p.entries[e.state.ID] = e
		p.idle = append(p.idle, e.state.ID)
		p.mu.Unlock()
	}
	p.publishStats()
}

func removeID(ids []uuid.UUID, target uuid.UUID) []uuid.UUID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// CloseAll drains and closes every connection the pool owns. Idle
// connections close immediately; in-use connections are closed once their
// holder releases them (Release observes shuttingDown and discards rather
// than re-idling).
func (p *Pool) CloseAll() {
	p.shuttingDown.Store(true)

	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	var toClose []*entry
	for _, id := range idle {
		if e, ok := p.entries[id]; ok {
			delete(p.entries, id)
			toClose = append(toClose, e)
		}
	}
	p.mu.Unlock()

	for _, e := range toClose {
		p.closeEntry(e, "shutdown")
	}
}

// IsShuttingDown reports whether CloseAll has been called.
func (p *Pool) IsShuttingDown() bool { return p.shuttingDown.Load() }

// AvailableCount returns the number of permits not currently checked out.
func (p *Pool) AvailableCount() int { return p.cfg.MaxConnections - len(p.sem) }

// CurrentSize returns the total number of connections the pool owns,
// idle plus in-use.
func (p *Pool) CurrentSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// InUseCount returns the number of connections currently checked out.
func (p *Pool) InUseCount() int { return int(p.inUseCount.Load()) }

func (p *Pool) publishStats() {
	idle := p.CurrentSize() - p.InUseCount()
	if idle < 0 {
		idle = 0
	}
	for _, ep := range p.endpoints {
		metrics.SetPoolStats(ep.Address, idle, p.InUseCount())
	}
}
