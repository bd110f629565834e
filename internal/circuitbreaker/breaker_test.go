package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreakerClosedAllowsRequests(t *testing.T) {
	b := New("db-1", Config{FailureThreshold: 3, ResetTimeout: 5 * time.Second})

	if !b.Allow() {
		t.Fatal("closed breaker should allow requests")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	b := New("db-1", Config{FailureThreshold: 3, ResetTimeout: 5 * time.Second})

	b.RecordSuccess() // resets counter, should not count toward the trip
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected still closed after 2 failures, got %v", b.State())
	}
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 consecutive failures, got %v", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject requests")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New("db-1", Config{FailureThreshold: 3, ResetTimeout: 5 * time.Second})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Fatalf("expected closed, failure count should have reset on success, got %v", b.State())
	}
}

func TestBreakerTransitionsToHalfOpen(t *testing.T) {
	b := New("db-1", Config{FailureThreshold: 2, ResetTimeout: 10 * time.Millisecond})

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("should allow a single probe request in half-open state")
	}
	if b.Allow() {
		t.Fatal("should not allow a second concurrent probe in half-open state")
	}
}

func TestBreakerClosesAfterSuccessfulProbe(t *testing.T) {
	b := New("db-1", Config{FailureThreshold: 2, ResetTimeout: 10 * time.Millisecond})

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	b.Allow()
	b.RecordSuccess()

	if b.State() != StateClosed {
		t.Fatalf("expected closed after successful probe, got %v", b.State())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := New("db-1", Config{FailureThreshold: 2, ResetTimeout: 10 * time.Millisecond})

	b.RecordFailure()
	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)

	b.Allow()
	b.RecordFailure()

	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %v", b.State())
	}
}

func TestRegistryGetCreatesAndReuses(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, ResetTimeout: time.Second})

	b1 := r.Get("endpoint-a")
	b2 := r.Get("endpoint-a")
	if b1 != b2 {
		t.Fatal("expected the same breaker instance for the same endpoint")
	}

	b3 := r.Get("endpoint-b")
	if b3 == b1 {
		t.Fatal("expected a distinct breaker for a distinct endpoint")
	}
}

func TestRegistrySnapshot(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, ResetTimeout: time.Second})
	b := r.Get("endpoint-a")
	b.RecordFailure()

	snap := r.Snapshot()
	if snap["endpoint-a"] != StateOpen.String() {
		t.Fatalf("expected endpoint-a open in snapshot, got %v", snap["endpoint-a"])
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
