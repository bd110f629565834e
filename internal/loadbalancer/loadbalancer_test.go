package loadbalancer

import (
	"testing"

	"github.com/oriys/cortex/internal/domain"
)

func endpoints() []*domain.Endpoint {
	return []*domain.Endpoint{
		{Address: "a", ActiveConnections: 3, FailureCount: 2, Healthy: true},
		{Address: "b", ActiveConnections: 1, FailureCount: 5, Healthy: false},
		{Address: "c", ActiveConnections: 1, FailureCount: 0, Healthy: true},
	}
}

func TestRoundRobinCyclesInOrder(t *testing.T) {
	b := New(RoundRobin)
	eps := endpoints()

	first := b.Select(eps)
	second := b.Select(eps)
	third := b.Select(eps)
	fourth := b.Select(eps)

	if first != eps[0] || second != eps[1] || third != eps[2] || fourth != eps[0] {
		t.Fatal("round robin did not cycle through endpoints in order")
	}
}

func TestLeastConnectionsBreaksTiesByIndex(t *testing.T) {
	b := New(LeastConnections)
	got := b.Select(endpoints())
	if got.Address != "b" {
		t.Fatalf("expected endpoint b (first of the tied minimum), got %s", got.Address)
	}
}

func TestHealthBasedPrefersHealthyLowestFailures(t *testing.T) {
	b := New(HealthBased)
	got := b.Select(endpoints())
	if got.Address != "c" {
		t.Fatalf("expected healthy endpoint c with fewest failures, got %s", got.Address)
	}
}

func TestHealthBasedFallsBackWhenNoneHealthy(t *testing.T) {
	b := New(HealthBased)
	eps := []*domain.Endpoint{
		{Address: "a", FailureCount: 3, Healthy: false},
		{Address: "b", FailureCount: 1, Healthy: false},
	}
	got := b.Select(eps)
	if got.Address != "b" {
		t.Fatalf("expected fallback to least-failures endpoint b, got %s", got.Address)
	}
}

func TestSelectReturnsNilOnEmpty(t *testing.T) {
	b := New(Random)
	if got := b.Select(nil); got != nil {
		t.Fatalf("expected nil for empty endpoint set, got %v", got)
	}
}
