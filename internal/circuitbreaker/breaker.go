// Package circuitbreaker implements the per-endpoint circuit breaker that
// protects the connection pool from hammering a D-store/V-store endpoint
// that is already failing.
//
// # State machine
//
//	Closed ──(failure_count ≥ failure_threshold)──► Open ──(reset_timeout elapsed)──► HalfOpen
//	  ▲                                                                                    │
//	  └────────────────────(first probe succeeds)────────────────────────────────────────┘
//	                        (first probe fails) ─────────────────────────────────────► Open
//
// Unlike an error-rate-over-sliding-window design, this breaker trips on
// consecutive failures: a single success in Closed resets the counter to
// zero, so transient blips interleaved with successes never accumulate.
//
// # Concurrency
//
// All public methods (Allow, RecordSuccess, RecordFailure, State) are safe
// for concurrent use; they acquire the internal mutex for every call. The
// Registry uses a separate read-write mutex so the common read path (Get
// for an existing breaker) does not contend with the rare write path (new
// endpoint registered or removed).
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/oriys/cortex/internal/metrics"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Requests are rejected
	StateHalfOpen              // A single probe request is allowed
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the circuit breaker configuration for one endpoint.
type Config struct {
	FailureThreshold int           // consecutive failures required to trip the breaker
	ResetTimeout     time.Duration // how long the breaker stays open before probing again
}

// Breaker is a per-endpoint circuit breaker.
type Breaker struct {
	mu           sync.Mutex
	cfg          Config
	endpoint     string
	state        State
	failureCount int
	openedAt     time.Time
	probeInFlight bool
}

// New creates a new circuit breaker for endpoint with the given configuration.
func New(endpoint string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	return &Breaker{cfg: cfg, endpoint: endpoint}
}

// Allow checks whether a request should be allowed through the breaker.
// In HalfOpen, only one probe is admitted at a time; callers that are
// refused should treat the endpoint as still open.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) >= b.cfg.ResetTimeout {
			b.transitionTo(StateHalfOpen)
			b.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return true
}

// RecordSuccess records a successful operation.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount = 0
	case StateHalfOpen:
		b.probeInFlight = false
		b.failureCount = 0
		b.transitionTo(StateClosed)
	}
}

// RecordFailure records a failed operation.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.cfg.FailureThreshold {
			b.openedAt = time.Now()
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		b.probeInFlight = false
		b.openedAt = time.Now()
		b.transitionTo(StateOpen)
	}
}

// State returns the current breaker state, applying the Open→HalfOpen
// timeout transition if it is due.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && time.Since(b.openedAt) >= b.cfg.ResetTimeout {
		b.transitionTo(StateHalfOpen)
	}
	return b.state
}

// transitionTo must be called under lock; it records the transition in C1.
func (b *Breaker) transitionTo(to State) {
	b.state = to
	metrics.SetCircuitBreakerState(b.endpoint, int(to))
	metrics.RecordCircuitBreakerTrip(b.endpoint, to.String())
}

// Registry holds per-endpoint circuit breakers.
type Registry struct {
	mu       sync.RWMutex
	cfg      Config
	breakers map[string]*Breaker
}

// NewRegistry creates a breaker registry sharing one configuration across
// every endpoint it mints a breaker for.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for an endpoint, creating one on first use.
func (r *Registry) Get(endpoint string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[endpoint]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[endpoint]; ok {
		return b
	}
	b = New(endpoint, r.cfg)
	r.breakers[endpoint] = b
	return b
}

// Remove deletes the breaker for an endpoint (e.g. the endpoint was removed
// from the pool's configuration).
func (r *Registry) Remove(endpoint string) {
	r.mu.Lock()
	delete(r.breakers, endpoint)
	r.mu.Unlock()
}

// Snapshot returns a map of endpoint to breaker state for observability.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for endpoint, b := range r.breakers {
		out[endpoint] = b.State().String()
	}
	return out
}
