package jobs

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dteflow_jobs_enqueued_total",
			Help: "Total number of jobs enqueued",
		},
		[]string{"backend", "queue", "kind"},
	)

	jobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dteflow_jobs_processed_total",
			Help: "Total number of jobs processed by workers",
		},
		[]string{"queue", "kind", "status"},
	)

	jobsRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dteflow_jobs_retry_total",
			Help: "Total number of job retries scheduled by workers",
		},
		[]string{"queue", "kind"},
	)

	jobsDeadLetteredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dteflow_jobs_dead_lettered_total",
			Help: "Total number of jobs moved to the dead-letter store",
		},
		[]string{"queue", "kind"},
	)

	jobsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dteflow_jobs_inflight",
			Help: "Current number of in-flight jobs being processed by workers",
		},
		[]string{"queue"},
	)

	jobsAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dteflow_jobs_attempt_duration_seconds",
			Help:    "Duration of individual job processing attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "kind"},
	)
)

func recordJobEnqueued(backend string, job *Job) {
	if job == nil {
		return
	}
	jobsEnqueuedTotal.WithLabelValues(
		normalizeMetricLabel(backend, "unknown"),
		normalizeMetricLabel(job.Queue, "unknown"),
		normalizeMetricLabel(job.Kind, "unknown"),
	).Inc()
}

func recordJobProcessed(queue, kind, status string) {
	jobsProcessedTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(kind, "unknown"),
		normalizeMetricLabel(status, "unknown"),
	).Inc()
}

func recordJobRetry(queue, kind string) {
	jobsRetryTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(kind, "unknown"),
	).Inc()
}

func recordJobDeadLettered(queue, kind string) {
	jobsDeadLetteredTotal.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(kind, "unknown"),
	).Inc()
}

func recordAttemptDuration(queue, kind string, seconds float64) {
	jobsAttemptDuration.WithLabelValues(
		normalizeMetricLabel(queue, "unknown"),
		normalizeMetricLabel(kind, "unknown"),
	).Observe(seconds)
}

func incrementJobInFlight(queue string) {
	jobsInFlight.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Inc()
}

func decrementJobInFlight(queue string) {
	jobsInFlight.WithLabelValues(normalizeMetricLabel(queue, "unknown")).Dec()
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
