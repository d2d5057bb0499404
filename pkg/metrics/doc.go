/*
Package metrics provides Prometheus metrics collection and exposition for PrismQ.

The metrics package defines and registers all PrismQ metrics using the Prometheus
client library, providing observability into queue depth, claim latency, retry and
dead-letter rates, and HTTP adapter performance. Metrics are exposed via an HTTP
endpoint for scraping by Prometheus servers.

# Core Components

Queue metrics:
  - prismq_queue_depth{status}: gauge, refreshed periodically by Collector
  - prismq_workers_active: gauge, count of workers heartbeated within threshold
  - prismq_claims_total{strategy,result}: counter of claim attempts
  - prismq_claim_latency_seconds{strategy}: histogram of claim call duration
  - prismq_tasks_enqueued_total{type}, prismq_tasks_completed_total{type}
  - prismq_retries_total{type}, prismq_dead_letters_total{type}
  - prismq_lease_reclaims_total{reason}: stale_worker vs expired_lease
  - prismq_handler_duration_seconds{type}
  - prismq_oldest_queued_age_seconds

HTTP adapter metrics:
  - prismq_api_requests_total{route,status}
  - prismq_api_request_duration_seconds{route}

Maintenance and resilience:
  - prismq_maintenance_duration_seconds{operation}
  - prismq_claim_circuit_breaker_state: 0=closed, 1=half-open, 2=open

# Timer helper

NewTimer returns a Timer capturing the current time; ObserveDuration and
ObserveDurationVec record the elapsed time against a histogram at the call site:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ClaimLatency, string(strategy))

# Collector

Collector periodically reads live queue state through a StatsSource (duck-typed
to avoid importing pkg/queue from this leaf package) and refreshes the QueueDepth,
WorkersActive, and OldestQueuedAge gauges on a ticker. pkg/queue supplies the
concrete StatsSource via its own adapter so this package never imports pkg/queue.

# Health

HealthHandler/ReadyHandler/LivenessHandler expose process health over HTTP,
tracked per-component via RegisterComponent/UpdateComponent. Nothing in
cmd/prismq or pkg/httpapi registers components or mounts these handlers.

# Usage

	metrics.ClaimsTotal.WithLabelValues("fifo", "claimed").Inc()
	http.Handle("/metrics", metrics.Handler())

# See Also

  - Prometheus client docs: https://pkg.go.dev/github.com/prometheus/client_golang/prometheus
*/
package metrics
