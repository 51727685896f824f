// Package metrics provides Prometheus instrumentation for the scrape worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsEnqueued counts total jobs enqueued.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrape",
		Name:      "jobs_enqueued_total",
		Help:      "Total number of jobs enqueued.",
	}, []string{"queue", "type"})

	// JobsCompleted counts jobs whose handler succeeded.
	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrape",
		Name:      "jobs_completed_total",
		Help:      "Total number of jobs completed.",
	}, []string{"queue", "type"})

	// JobsFailed counts jobs that reached the failed state.
	JobsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrape",
		Name:      "jobs_failed_total",
		Help:      "Total number of jobs failed.",
	}, []string{"queue", "type"})

	// JobsRetried counts failed attempts that were scheduled for another try.
	JobsRetried = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrape",
		Name:      "jobs_retried_total",
		Help:      "Total number of failed attempts scheduled for retry.",
	}, []string{"type", "reason"})

	// JobsDeadLettered counts jobs routed to the dead-letter queue.
	JobsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrape",
		Name:      "jobs_dead_lettered_total",
		Help:      "Total number of jobs routed to the dead-letter queue.",
	}, []string{"reason"})

	// DeadLetterWriteFailures counts dead-letter writes that failed after retries.
	DeadLetterWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scrape",
		Name:      "dead_letter_write_failures_total",
		Help:      "Total number of dead-letter writes that exhausted their retries.",
	})

	// DeadLetterPending tracks entries parked in memory awaiting a flush.
	DeadLetterPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scrape",
		Name:      "dead_letter_pending",
		Help:      "Dead-letter entries buffered in memory after a failed write.",
	})

	// DeadLetterReplayed counts successful manual replays.
	DeadLetterReplayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrape",
		Name:      "dead_letter_replayed_total",
		Help:      "Total number of dead-letter entries replayed.",
	}, []string{"queue"})

	// DeadLetterCleaned counts entries removed by the retention job.
	DeadLetterCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scrape",
		Name:      "dead_letter_cleaned_total",
		Help:      "Total number of dead-letter entries removed by retention.",
	})

	// JobDuration tracks handler execution time.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scrape",
		Name:      "job_duration_seconds",
		Help:      "Duration of job execution in seconds.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"queue", "type"})

	// RetryDelay tracks the backoff chosen for retried attempts.
	RetryDelay = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "scrape",
		Name:      "retry_delay_seconds",
		Help:      "Backoff delay chosen for retried attempts.",
		Buckets:   []float64{1, 2, 4, 8, 16, 30, 60, 120, 300, 900, 3600},
	})

	// ServerInfo exposes static server metadata as labels.
	ServerInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scrape",
		Name:      "server_info",
		Help:      "Static server metadata.",
	}, []string{"version", "queue_backend", "state_backend"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrape",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scrape",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})
)

// Init sets static server metadata on the info metric.
func Init(version, queueBackend, stateBackend string) {
	ServerInfo.WithLabelValues(version, queueBackend, stateBackend).Set(1)
}
