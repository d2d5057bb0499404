package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue depth, sampled by Collector.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "prismq_queue_depth",
			Help: "Number of tasks by status",
		},
		[]string{"status"},
	)

	WorkersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "prismq_workers_active",
			Help: "Number of workers that have heartbeated within the staleness threshold",
		},
	)

	// Claim metrics
	ClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prismq_claims_total",
			Help: "Total claim attempts by strategy and result",
		},
		[]string{"strategy", "result"},
	)

	ClaimLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prismq_claim_latency_seconds",
			Help:    "Time taken to claim a task",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"strategy"},
	)

	// Lifecycle metrics
	TasksEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prismq_tasks_enqueued_total",
			Help: "Total tasks enqueued by type",
		},
		[]string{"type"},
	)

	TasksCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prismq_tasks_completed_total",
			Help: "Total tasks completed by type",
		},
		[]string{"type"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prismq_retries_total",
			Help: "Total task retries by type",
		},
		[]string{"type"},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prismq_dead_letters_total",
			Help: "Total tasks moved to dead_letter by type",
		},
		[]string{"type"},
	)

	LeaseReclaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prismq_lease_reclaims_total",
			Help: "Total leases reclaimed by reason (expired_lease, stale_worker)",
		},
		[]string{"reason"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prismq_handler_duration_seconds",
			Help:    "Time taken by a task handler to return",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	OldestQueuedAge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "prismq_oldest_queued_age_seconds",
			Help: "Age of the oldest queued task, 0 if none",
		},
	)

	// HTTP API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prismq_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prismq_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Maintenance metrics
	MaintenanceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "prismq_maintenance_duration_seconds",
			Help:    "Time taken by a maintenance operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Circuit breaker state around the claim loop, mirrored from
	// gobreaker's StateClosed/StateHalfOpen/StateOpen (0/1/2).
	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "prismq_claim_circuit_breaker_state",
			Help: "Claim circuit breaker state: 0=closed, 1=half-open, 2=open",
		},
	)
)

func init() {
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(WorkersActive)
	prometheus.MustRegister(ClaimsTotal)
	prometheus.MustRegister(ClaimLatency)
	prometheus.MustRegister(TasksEnqueuedTotal)
	prometheus.MustRegister(TasksCompletedTotal)
	prometheus.MustRegister(RetriesTotal)
	prometheus.MustRegister(DeadLettersTotal)
	prometheus.MustRegister(LeaseReclaimsTotal)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(OldestQueuedAge)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(MaintenanceDuration)
	prometheus.MustRegister(CircuitBreakerState)
}

// Handler returns the Prometheus HTTP handler.
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

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
