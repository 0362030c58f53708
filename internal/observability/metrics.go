// Package observability exposes Prometheus metrics for the dispatch
// pipeline, following the same promauto/client_golang idiom as
// observability/metrics.go, renamed and retargeted to this domain.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of pending tasks per source and priority.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dossie_queue_depth",
		Help: "Current number of tasks queued per source and priority band",
	}, []string{"source", "priority"})

	// TasksEnqueued counts tasks placed into a queue band, both new
	// admissions and retry re-admissions; refusals are counted by
	// AdmissionRefusals instead.
	TasksEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dossie_tasks_enqueued_total",
		Help: "Total tasks admitted to a queue band",
	}, []string{"source"})

	// AdmissionRefusals counts breaker-driven admission refusals.
	AdmissionRefusals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dossie_admission_refusals_total",
		Help: "Total enqueue attempts refused by an open circuit breaker",
	}, []string{"source"})

	// ProbeInvocations counts probe calls by source and outcome.
	ProbeInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dossie_probe_invocations_total",
		Help: "Total probe invocations by source and outcome",
	}, []string{"source", "outcome"}) // outcome: success, failure, timeout

	// ProbeDuration tracks probe invocation latency.
	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dossie_probe_duration_seconds",
		Help:    "Probe invocation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	}, []string{"source"})

	// CircuitBreakerState tracks each source's breaker state (0=closed, 1=open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dossie_circuit_breaker_state",
		Help: "Circuit breaker state per source (0=closed, 1=open)",
	}, []string{"source"})

	// CircuitBreakerTrips counts breaker-open transitions.
	CircuitBreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dossie_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker open transitions",
	}, []string{"source"})

	// RetryScheduled counts retries scheduled by source.
	RetryScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dossie_retry_scheduled_total",
		Help: "Total retries scheduled by source",
	}, []string{"source"})

	// RetryPending tracks the number of tasks currently parked awaiting retry.
	RetryPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dossie_retry_pending",
		Help: "Current number of tasks parked in the retry set",
	})

	// InvestigationProgress tracks the completion percentage of each tracked investigation.
	InvestigationProgress = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dossie_investigation_progress_percent",
		Help: "Completion percentage of a tracked investigation",
	}, []string{"investigation_id"})

	// HubSubscribers tracks the number of connected notification subscribers.
	HubSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dossie_hub_subscribers",
		Help: "Current number of connected notification hub subscribers",
	})

	// EventPublishFailures counts subscriber send failures that triggered eviction.
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dossie_event_publish_failures_total",
		Help: "Failed event deliveries that triggered subscriber eviction",
	}, []string{"event_type"})

	// StorageDegraded tracks whether the Task Record Store is currently
	// considered unavailable (0=healthy, 1=degraded).
	StorageDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dossie_storage_degraded",
		Help: "Whether the task record store is currently degraded (0=healthy, 1=degraded)",
	})
)
