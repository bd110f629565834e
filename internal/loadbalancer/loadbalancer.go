// Package loadbalancer selects a D-store endpoint for each pool acquisition.
//
// Strategies are expressed as a single Strategy tag consulted by Select,
// not as an interface implemented by separate types — the set of
// strategies is closed and small, so a switch on a tag avoids a layer of
// indirection for a hot path called on every acquisition.
//
// The balancer only reads Endpoint state (active_connections, healthy,
// failure_count); it never mutates an Endpoint. Callers own mutation.
package loadbalancer

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/oriys/cortex/internal/domain"
)

// Strategy selects which field of Endpoint state drives the pick.
type Strategy int

const (
	RoundRobin Strategy = iota
	LeastConnections
	Random
	HealthBased
)

func (s Strategy) String() string {
	switch s {
	case RoundRobin:
		return "round_robin"
	case LeastConnections:
		return "least_connections"
	case Random:
		return "random"
	case HealthBased:
		return "health_based"
	default:
		return "unknown"
	}
}

// Balancer picks an endpoint from a fixed endpoint set using one strategy,
// chosen at pool construction and immutable thereafter.
type Balancer struct {
	strategy Strategy

	mu      sync.Mutex // protects rrIndex only
	rrIndex int
}

// New creates a balancer over the given strategy.
func New(strategy Strategy) *Balancer {
	return &Balancer{strategy: strategy}
}

// Select picks one endpoint from endpoints according to the balancer's
// strategy. Returns nil if endpoints is empty.
func (b *Balancer) Select(endpoints []*domain.Endpoint) *domain.Endpoint {
	if len(endpoints) == 0 {
		return nil
	}

	switch b.strategy {
	case RoundRobin:
		return b.selectRoundRobin(endpoints)
	case LeastConnections:
		return selectLeastConnections(endpoints)
	case Random:
		return endpoints[rand.Intn(len(endpoints))]
	case HealthBased:
		return selectHealthBased(endpoints)
	default:
		return selectLeastConnections(endpoints)
	}
}

func (b *Balancer) selectRoundRobin(endpoints []*domain.Endpoint) *domain.Endpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx := b.rrIndex % len(endpoints)
	b.rrIndex++
	return endpoints[idx]
}

func selectLeastConnections(endpoints []*domain.Endpoint) *domain.Endpoint {
	selected := endpoints[0]
	selectedActive := atomic.LoadInt32(&selected.ActiveConnections)
	for _, e := range endpoints[1:] {
		if active := atomic.LoadInt32(&e.ActiveConnections); active < selectedActive {
			selected = e
			selectedActive = active
		}
	}
	return selected
}

// selectHealthBased picks the argmin failure_count among healthy
// endpoints; if none are healthy, it falls back to least failures overall.
func selectHealthBased(endpoints []*domain.Endpoint) *domain.Endpoint {
	var best *domain.Endpoint
	var bestFailures int32
	for _, e := range endpoints {
		if !e.Healthy {
			continue
		}
		if failures := atomic.LoadInt32(&e.FailureCount); best == nil || failures < bestFailures {
			best = e
			bestFailures = failures
		}
	}
	if best != nil {
		return best
	}

	best = endpoints[0]
	bestFailures = atomic.LoadInt32(&best.FailureCount)
	for _, e := range endpoints[1:] {
		if failures := atomic.LoadInt32(&e.FailureCount); failures < bestFailures {
			best = e
			bestFailures = failures
		}
	}
	return best
}
