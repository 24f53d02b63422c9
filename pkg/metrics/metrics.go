// Package metrics declares the prometheus instruments every portal layer
// updates, and a small Timer helper for histogram observation.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PortalsRegistered counts portals currently known to the process-wide
	// registry.
	PortalsRegistered = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portalforge_portals_registered",
			Help: "Number of portals currently registered in this process",
		},
	)

	// ActiveStackDepth reports the current depth of the active-portal
	// stack.
	ActiveStackDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portalforge_active_stack_depth",
			Help: "Current depth of the active-portal re-entrancy stack",
		},
	)

	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalforge_cache_hits_total",
			Help: "Total number of value/result cache hits by store",
		},
		[]string{"store"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalforge_cache_misses_total",
			Help: "Total number of value/result cache misses by store",
		},
		[]string{"store"},
	)

	ResultsComputedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalforge_results_computed_total",
			Help: "Total number of pure-function results computed by function name",
		},
		[]string{"fn"},
	)

	ExecutionRequestsPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portalforge_execution_requests_pending",
			Help: "Number of pending execution requests by function name",
		},
		[]string{"fn"},
	)

	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portalforge_workers_total",
			Help: "Total number of swarm workers by role and liveness",
		},
		[]string{"role", "alive"},
	)

	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portalforge_execution_duration_seconds",
			Help:    "Time taken to execute a pure function, by function name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"fn"},
	)

	RequestLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portalforge_request_latency_seconds",
			Help:    "Latency of get polling round-trips",
			Buckets: prometheus.DefBuckets,
		},
	)

	SwarmLaunchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalforge_swarm_launches_total",
			Help: "Total number of swarm worker process launches by outcome",
		},
		[]string{"outcome"},
	)

	AutonomyViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "portalforge_autonomy_violations_total",
			Help: "Total number of functions rejected by autonomy static analysis",
		},
	)

	PanicsRecoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portalforge_panics_recovered_total",
			Help: "Total number of user-function panics recovered at the execution frame boundary",
		},
		[]string{"fn"},
	)
)

func init() {
	prometheus.MustRegister(
		PortalsRegistered,
		ActiveStackDepth,
		CacheHitsTotal,
		CacheMissesTotal,
		ResultsComputedTotal,
		ExecutionRequestsPending,
		WorkersTotal,
		ExecutionDuration,
		RequestLatency,
		SwarmLaunchesTotal,
		AutonomyViolationsTotal,
		PanicsRecoveredTotal,
	)
}

// Handler returns the Prometheus HTTP handler, for binaries that want to
// expose a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a histogram vec with
// labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
