package scheduler

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	schedulerFireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dteflow_scheduler_fire_total",
			Help: "Total number of scheduler task firings by outcome",
		},
		[]string{"task", "status"},
	)

	schedulerInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dteflow_scheduler_inflight",
			Help: "Current number of running scheduler tasks",
		},
		[]string{"task"},
	)
)

func recordSchedulerFire(taskName, status string) {
	schedulerFireTotal.WithLabelValues(
		normalizeSchedulerLabel(taskName),
		normalizeSchedulerLabel(status),
	).Inc()
}

func incrementSchedulerInFlight(taskName string) {
	schedulerInFlight.WithLabelValues(normalizeSchedulerLabel(taskName)).Inc()
}

func decrementSchedulerInFlight(taskName string) {
	schedulerInFlight.WithLabelValues(normalizeSchedulerLabel(taskName)).Dec()
}

func normalizeSchedulerLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
