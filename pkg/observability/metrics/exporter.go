package metrics

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dteflow/dteflow/pkg/jobs"
	"github.com/dteflow/dteflow/pkg/observability/logger"
)

// Queue status values derived from backend counters.
const (
	QueueStatusOK        = "ok"
	QueueStatusPaused    = "paused"
	QueueStatusDegraded  = "degraded"
	QueueStatusCongested = "congested"
)

var (
	queueJobsWaiting = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs_waiting",
			Help: "Jobs ready or delayed, not yet claimed",
		},
		[]string{"queue"},
	)
	queueJobsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs_active",
			Help: "Jobs currently leased by workers",
		},
		[]string{"queue"},
	)
	queueJobsCompleted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs_completed",
			Help: "Jobs settled successfully since the backend started",
		},
		[]string{"queue"},
	)
	queueJobsFailed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs_failed",
			Help: "Jobs settled as terminally failed since the backend started",
		},
		[]string{"queue"},
	)
	queueJobsDelayed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs_delayed",
			Help: "Jobs waiting on a future run time",
		},
		[]string{"queue"},
	)
	queuePaused = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_paused",
			Help: "1 when the queue is paused, 0 otherwise",
		},
		[]string{"queue"},
	)
)

// ExporterConfig tunes the stats poll loop and status thresholds.
type ExporterConfig struct {
	// Queues to poll. Defaults to every pipeline queue.
	Queues []string
	// PollInterval between stats sweeps. Defaults to 15s.
	PollInterval time.Duration
	// CongestedThreshold marks a queue congested when waiting exceeds it.
	// Defaults to 1000.
	CongestedThreshold int64
	// DegradedThreshold marks a queue degraded when failed exceeds it.
	// Defaults to 100.
	DegradedThreshold int64
}

func (c *ExporterConfig) normalize() {
	if len(c.Queues) == 0 {
		c.Queues = append([]string(nil), jobs.KnownQueues...)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Second
	}
	if c.CongestedThreshold <= 0 {
		c.CongestedThreshold = 1000
	}
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = 100
	}
}

// QueueReport is one queue's exported state.
type QueueReport struct {
	Queue  string          `json:"queue"`
	Status string          `json:"status"`
	Stats  jobs.QueueStats `json:"stats"`
}

// Exporter polls backend stats, publishes them as gauges and derives a
// per-queue status. Paused wins over degraded, degraded over congested.
type Exporter struct {
	backend jobs.Backend
	log     logger.Logger
	config  ExporterConfig

	mu      sync.RWMutex
	reports map[string]QueueReport
	lastErr error
}

// NewExporter creates a queue stats exporter.
func NewExporter(backend jobs.Backend, cfg ExporterConfig, log logger.Logger) (*Exporter, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.normalize()
	return &Exporter{
		backend: backend,
		log:     log,
		config:  cfg,
		reports: map[string]QueueReport{},
	}, nil
}

// Run polls until ctx is cancelled. The first sweep happens immediately.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	e.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}

// Sweep polls every configured queue once and updates gauges and reports.
func (e *Exporter) Sweep(ctx context.Context) {
	var errs []error
	for _, queue := range e.config.Queues {
		stats, err := e.backend.Stats(ctx, queue)
		if err != nil {
			e.log.Warn("queue stats poll failed", "queue", queue, "error", err)
			errs = append(errs, err)
			continue
		}
		e.publish(queue, stats)
	}

	e.mu.Lock()
	e.lastErr = errors.Join(errs...)
	e.mu.Unlock()
}

func (e *Exporter) publish(queue string, stats jobs.QueueStats) {
	queueJobsWaiting.WithLabelValues(queue).Set(float64(stats.Waiting))
	queueJobsActive.WithLabelValues(queue).Set(float64(stats.Active))
	queueJobsCompleted.WithLabelValues(queue).Set(float64(stats.Completed))
	queueJobsFailed.WithLabelValues(queue).Set(float64(stats.Failed))
	queueJobsDelayed.WithLabelValues(queue).Set(float64(stats.Delayed))
	if stats.Paused {
		queuePaused.WithLabelValues(queue).Set(1)
	} else {
		queuePaused.WithLabelValues(queue).Set(0)
	}

	e.mu.Lock()
	e.reports[queue] = QueueReport{
		Queue:  queue,
		Status: e.deriveStatus(stats),
		Stats:  stats,
	}
	e.mu.Unlock()
}

func (e *Exporter) deriveStatus(stats jobs.QueueStats) string {
	switch {
	case stats.Paused:
		return QueueStatusPaused
	case stats.Failed > e.config.DegradedThreshold:
		return QueueStatusDegraded
	case stats.Waiting > e.config.CongestedThreshold:
		return QueueStatusCongested
	default:
		return QueueStatusOK
	}
}

// Reports returns the latest per-queue reports sorted by queue name.
func (e *Exporter) Reports() []QueueReport {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reports := make([]QueueReport, 0, len(e.reports))
	for _, report := range e.reports {
		reports = append(reports, report)
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].Queue < reports[j].Queue })
	return reports
}

// Healthy reports whether the last sweep succeeded and every queue is ok.
func (e *Exporter) Healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastErr != nil || len(e.reports) == 0 {
		return false
	}
	for _, report := range e.reports {
		if report.Status != QueueStatusOK {
			return false
		}
	}
	return true
}

// HealthCheck adapts the exporter verdict to pkg/health.
func (e *Exporter) HealthCheck(ctx context.Context) error {
	if e.Healthy() {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastErr != nil {
		return e.lastErr
	}

	var unhealthy []string
	for queue, report := range e.reports {
		if report.Status != QueueStatusOK {
			unhealthy = append(unhealthy, queue+"="+report.Status)
		}
	}
	sort.Strings(unhealthy)
	if len(unhealthy) == 0 {
		return errors.New("no queue stats collected yet")
	}
	return errors.New("queues not ok: " + strings.Join(unhealthy, ", "))
}
