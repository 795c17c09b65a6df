package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every fleetsync collector and is served at /metrics.
var Registry = prometheus.NewRegistry()

var (
	// SyncPassesTotal counts synchronization passes by kind (full/sweep) and result (success/failed/skipped).
	SyncPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsync_sync_passes_total",
			Help: "Total number of synchronization passes.",
		},
		[]string{"kind", "result"},
	)

	// SyncDuration observes how long a pass takes.
	SyncDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetsync_sync_duration_seconds",
			Help:    "Duration of synchronization passes.",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"kind"},
	)

	// SyncDevices reports the device tallies of the last full pass.
	SyncDevices = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetsync_sync_devices",
			Help: "Device counts of the last full pass (total/updated/errors).",
		},
		[]string{"outcome"},
	)

	// SyncCompletionRate is the completion percentage of the last full pass.
	SyncCompletionRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleetsync_sync_completion_rate",
			Help: "Percentage of active devices updated by the last full pass.",
		},
	)

	// PollerState is 1 for the current scheduler state and 0 for the others.
	PollerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetsync_poller_state",
			Help: "Current polling scheduler state (1 = active state).",
		},
		[]string{"state"},
	)

	// SessionValidations counts completed session validations by verdict.
	SessionValidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsync_session_validations_total",
			Help: "Completed provider session validations.",
		},
		[]string{"verdict"},
	)

	// HealthStatus is the per-metric health severity (0 healthy, 1 warning, 2 critical).
	HealthStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetsync_health_status",
			Help: "Health severity per metric (0=healthy, 1=warning, 2=critical).",
		},
		[]string{"metric"},
	)

	// ProviderRequestDuration observes provider call latency by action.
	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetsync_provider_request_duration_seconds",
			Help:    "Latency of telemetry provider requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// CircuitBreakerState is 0 closed, 1 half-open, 2 open.
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetsync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		},
		[]string{"name"},
	)

	// CircuitBreakerRequests counts breaker-guarded calls by result (success/failure/rejected).
	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetsync_circuit_breaker_requests_total",
			Help: "Requests passing through the circuit breaker.",
		},
		[]string{"name", "result"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SyncPassesTotal,
		SyncDuration,
		SyncDevices,
		SyncCompletionRate,
		PollerState,
		SessionValidations,
		HealthStatus,
		ProviderRequestDuration,
		CircuitBreakerState,
		CircuitBreakerRequests,
	)
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
