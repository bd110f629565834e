// Package metrics collects and exposes Cortex runtime observability data.
//
// # Design rationale
//
// Two metric stores coexist in this package, following the teacher's
// dual-registry design:
//
//  1. The in-process Registry (lock-free atomic counters) for the
//     lightweight JSON snapshot described in spec.md §4.1.
//  2. A Prometheus registry (prometheus.go) for scraping by external
//     monitoring systems.
//
// # Concurrency
//
// Every counter is an atomic.Int64; Snapshot reads each counter once and
// is therefore tear-free without taking any lock, matching the "allow
// tearing-free reads via atomics" contract from spec.md §4.1.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Registry holds the lock-free counters described in spec.md §4.1.
type Registry struct {
	ConnectionsCreated  atomic.Int64
	ConnectionsReused   atomic.Int64
	ConnectionsClosed   atomic.Int64
	Acquisitions        atomic.Int64
	AcquisitionTimeouts atomic.Int64
	Retries             atomic.Int64
	Successes           atomic.Int64
	Errors              atomic.Int64
	HealthChecksPassed  atomic.Int64
	HealthChecksFailed  atomic.Int64

	startTime time.Time
}

// Global is the process-wide registry. Most callers use this; tests may
// construct their own Registry to avoid cross-test interference.
var Global = New()

// New creates a fresh, zeroed Registry.
func New() *Registry {
	return &Registry{startTime: time.Now()}
}

// Snapshot is a consistent, point-in-time copy of the registry plus its
// derived metrics.
type Snapshot struct {
	ConnectionsCreated  int64   `json:"connections_created"`
	ConnectionsReused   int64   `json:"connections_reused"`
	ConnectionsClosed   int64   `json:"connections_closed"`
	Acquisitions        int64   `json:"acquisitions"`
	AcquisitionTimeouts int64   `json:"acquisition_timeouts"`
	Retries             int64   `json:"retries"`
	Successes           int64   `json:"successes"`
	Errors              int64   `json:"errors"`
	HealthChecksPassed  int64   `json:"health_checks_passed"`
	HealthChecksFailed  int64   `json:"health_checks_failed"`

	HealthPassRate          float64 `json:"health_pass_rate"`
	ReuseRatio              float64 `json:"reuse_ratio"`
	AcquisitionSuccessRate  float64 `json:"acquisition_success_rate"`

	UptimeSeconds int64 `json:"uptime_seconds"`
}

// Snapshot returns a consistent copy of every counter, each read exactly
// once, plus the derived metrics computed on demand.
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		ConnectionsCreated:  r.ConnectionsCreated.Load(),
		ConnectionsReused:   r.ConnectionsReused.Load(),
		ConnectionsClosed:   r.ConnectionsClosed.Load(),
		Acquisitions:        r.Acquisitions.Load(),
		AcquisitionTimeouts: r.AcquisitionTimeouts.Load(),
		Retries:             r.Retries.Load(),
		Successes:           r.Successes.Load(),
		Errors:              r.Errors.Load(),
		HealthChecksPassed:  r.HealthChecksPassed.Load(),
		HealthChecksFailed:  r.HealthChecksFailed.Load(),
		UptimeSeconds:       int64(time.Since(r.startTime).Seconds()),
	}

	if checks := s.HealthChecksPassed + s.HealthChecksFailed; checks > 0 {
		s.HealthPassRate = float64(s.HealthChecksPassed) / float64(checks)
	}
	if created := s.ConnectionsCreated + s.ConnectionsReused; created > 0 {
		s.ReuseRatio = float64(s.ConnectionsReused) / float64(created)
	}
	if attempts := s.Acquisitions + s.AcquisitionTimeouts; attempts > 0 {
		s.AcquisitionSuccessRate = float64(s.Acquisitions) / float64(attempts)
	}
	return s
}

// JSONHandler exposes the snapshot as JSON, matching the teacher's
// lightweight-dashboard endpoint pattern.
func (r *Registry) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(r.Snapshot())
	})
}

func updateMin(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value >= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
