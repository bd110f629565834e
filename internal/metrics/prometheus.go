package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the Cortex counters from Registry as Prometheus
// collectors for external scraping, alongside a handful of gauges that
// don't fit the lock-free Registry (per-endpoint circuit breaker state,
// pool occupancy) because they carry labels.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	connectionsCreated *prometheus.CounterVec
	connectionsReused  *prometheus.CounterVec
	connectionsClosed  *prometheus.CounterVec

	acquisitions        prometheus.Counter
	acquisitionTimeouts prometheus.Counter
	acquireDuration     prometheus.Histogram

	retriesTotal   *prometheus.CounterVec
	successesTotal prometheus.Counter
	errorsTotal    *prometheus.CounterVec

	healthChecksPassed *prometheus.CounterVec
	healthChecksFailed *prometheus.CounterVec

	poolSize  *prometheus.GaugeVec
	poolInUse *prometheus.GaugeVec
	poolIdle  *prometheus.GaugeVec

	circuitBreakerState      *prometheus.GaugeVec
	circuitBreakerTripsTotal *prometheus.CounterVec

	walAppendDuration prometheus.Histogram
	walSegmentBytes   prometheus.Gauge

	syncLagSeconds prometheus.Gauge
	syncBatchSize  prometheus.Gauge
	syncQueueDepth prometheus.Gauge

	migrationProgress *prometheus.GaugeVec
}

var promMetrics *PrometheusMetrics

// InitPrometheus constructs and registers the Cortex Prometheus collectors
// under namespace (typically "cortex"). Safe to call once at process
// startup; subsequent calls replace the previous registry.
func InitPrometheus(namespace string, latencyBuckets []float64) *PrometheusMetrics {
	if latencyBuckets == nil {
		latencyBuckets = prometheus.DefBuckets
	}
	reg := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		registry: reg,

		connectionsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_created_total",
			Help: "D-store connections created, by endpoint.",
		}, []string{"endpoint"}),
		connectionsReused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_reused_total",
			Help: "D-store connections handed out from the idle pool, by endpoint.",
		}, []string{"endpoint"}),
		connectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "connections_closed_total",
			Help: "D-store connections closed, by endpoint and reason.",
		}, []string{"endpoint", "reason"}),

		acquisitions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "acquisitions_total",
			Help: "Successful pool acquisitions.",
		}),
		acquisitionTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "acquisition_timeouts_total",
			Help: "Pool acquisitions that timed out waiting for a connection.",
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "acquire_duration_ms",
			Help:    "Time spent waiting to acquire a pooled connection, in milliseconds.",
			Buckets: latencyBuckets,
		}),

		retriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "retries_total",
			Help: "Retry attempts issued by the connection manager, by operation.",
		}, []string{"operation"}),
		successesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "successes_total",
			Help: "Operations that completed successfully, with or without retry.",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Operations that failed after exhausting retries, by error kind.",
		}, []string{"kind"}),

		healthChecksPassed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "health_checks_passed_total",
			Help: "Liveness probes that succeeded, by endpoint.",
		}, []string{"endpoint"}),
		healthChecksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "health_checks_failed_total",
			Help: "Liveness probes that failed, by endpoint.",
		}, []string{"endpoint"}),

		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_size",
			Help: "Total connections tracked by the pool (idle + in-use), by endpoint.",
		}, []string{"endpoint"}),
		poolInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_in_use",
			Help: "Connections currently checked out, by endpoint.",
		}, []string{"endpoint"}),
		poolIdle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_idle",
			Help: "Connections currently idle, by endpoint.",
		}, []string{"endpoint"}),

		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "Circuit breaker state by endpoint: 0=closed, 1=open, 2=half_open.",
		}, []string{"endpoint"}),
		circuitBreakerTripsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "circuit_breaker_trips_total",
			Help: "Circuit breaker state transitions, by endpoint and destination state.",
		}, []string{"endpoint", "to_state"}),

		walAppendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "wal_append_duration_ms",
			Help:    "Time to append and fsync a WAL entry, in milliseconds.",
			Buckets: latencyBuckets,
		}),
		walSegmentBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "wal_segment_bytes",
			Help: "Size of the active WAL segment file, in bytes.",
		}),

		syncLagSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sync_lag_seconds",
			Help: "Age of the oldest unsynced WAL entry, in seconds.",
		}),
		syncBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sync_batch_size",
			Help: "Current adaptive batch size used by the sync coordinator.",
		}),
		syncQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sync_queue_depth",
			Help: "Entities pending dual-write sync.",
		}),

		migrationProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "migration_progress_ratio",
			Help: "Fraction of entities migrated, by migration run id.",
		}, []string{"run_id"}),
	}

	reg.MustRegister(
		pm.connectionsCreated, pm.connectionsReused, pm.connectionsClosed,
		pm.acquisitions, pm.acquisitionTimeouts, pm.acquireDuration,
		pm.retriesTotal, pm.successesTotal, pm.errorsTotal,
		pm.healthChecksPassed, pm.healthChecksFailed,
		pm.poolSize, pm.poolInUse, pm.poolIdle,
		pm.circuitBreakerState, pm.circuitBreakerTripsTotal,
		pm.walAppendDuration, pm.walSegmentBytes,
		pm.syncLagSeconds, pm.syncBatchSize, pm.syncQueueDepth,
		pm.migrationProgress,
	)

	promMetrics = pm
	return pm
}

// RecordConnectionCreated records a new physical connection dial.
func RecordConnectionCreated(endpoint string) {
	if promMetrics == nil {
		return
	}
	promMetrics.connectionsCreated.WithLabelValues(endpoint).Inc()
}

// RecordConnectionReused records a connection handed out from the idle set.
func RecordConnectionReused(endpoint string) {
	if promMetrics == nil {
		return
	}
	promMetrics.connectionsReused.WithLabelValues(endpoint).Inc()
}

// RecordConnectionClosed records a connection closing, tagged with why.
func RecordConnectionClosed(endpoint, reason string) {
	if promMetrics == nil {
		return
	}
	promMetrics.connectionsClosed.WithLabelValues(endpoint, reason).Inc()
}

// RecordAcquisition records a successful pool acquisition and its wait time.
func RecordAcquisition(waitMs float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.acquisitions.Inc()
	promMetrics.acquireDuration.Observe(waitMs)
}

// RecordAcquisitionTimeout records an acquisition that gave up waiting.
func RecordAcquisitionTimeout() {
	if promMetrics == nil {
		return
	}
	promMetrics.acquisitionTimeouts.Inc()
}

// RecordRetry records a retry attempt for the named operation.
func RecordRetry(operation string) {
	if promMetrics == nil {
		return
	}
	promMetrics.retriesTotal.WithLabelValues(operation).Inc()
}

// RecordSuccess records an operation that ultimately succeeded.
func RecordSuccess() {
	if promMetrics == nil {
		return
	}
	promMetrics.successesTotal.Inc()
}

// RecordError records an operation that failed, tagged by error kind.
func RecordError(kind string) {
	if promMetrics == nil {
		return
	}
	promMetrics.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordHealthCheck records a liveness probe outcome for an endpoint.
func RecordHealthCheck(endpoint string, passed bool) {
	if promMetrics == nil {
		return
	}
	if passed {
		promMetrics.healthChecksPassed.WithLabelValues(endpoint).Inc()
		return
	}
	promMetrics.healthChecksFailed.WithLabelValues(endpoint).Inc()
}

// SetPoolStats sets the pool occupancy gauges for an endpoint.
func SetPoolStats(endpoint string, idle, inUse int) {
	if promMetrics == nil {
		return
	}
	promMetrics.poolIdle.WithLabelValues(endpoint).Set(float64(idle))
	promMetrics.poolInUse.WithLabelValues(endpoint).Set(float64(inUse))
	promMetrics.poolSize.WithLabelValues(endpoint).Set(float64(idle + inUse))
}

// SetCircuitBreakerState sets the breaker state gauge for an endpoint.
// state: 0=closed, 1=open, 2=half_open.
func SetCircuitBreakerState(endpoint string, state int) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordCircuitBreakerTrip records a breaker state transition for an endpoint.
func RecordCircuitBreakerTrip(endpoint, toState string) {
	if promMetrics == nil {
		return
	}
	promMetrics.circuitBreakerTripsTotal.WithLabelValues(endpoint, toState).Inc()
}

// RecordWALAppend records the latency of a single WAL append+fsync.
func RecordWALAppend(durationMs float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.walAppendDuration.Observe(durationMs)
}

// SetWALSegmentBytes sets the active WAL segment size gauge.
func SetWALSegmentBytes(bytes int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.walSegmentBytes.Set(float64(bytes))
}

// SetSyncStats sets the sync coordinator's lag, batch size, and queue depth
// gauges in one call since they're always refreshed together.
func SetSyncStats(lagSeconds float64, batchSize, queueDepth int) {
	if promMetrics == nil {
		return
	}
	promMetrics.syncLagSeconds.Set(lagSeconds)
	promMetrics.syncBatchSize.Set(float64(batchSize))
	promMetrics.syncQueueDepth.Set(float64(queueDepth))
}

// SetMigrationProgress sets the completion ratio gauge for a migration run.
func SetMigrationProgress(runID string, ratio float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.migrationProgress.WithLabelValues(runID).Set(ratio)
}

// PrometheusHandler returns an HTTP handler for Prometheus scraping.
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the underlying registry, for tests or custom
// collector registration.
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
