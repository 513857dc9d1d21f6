package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/dteflow/dteflow/pkg/health"
	"github.com/dteflow/dteflow/pkg/observability/logger"
	"github.com/dteflow/dteflow/pkg/observability/metrics"
)

// ManagementConfig wires the management endpoints.
type ManagementConfig struct {
	Server Config

	// ReadyTimeout bounds a full readiness sweep.
	ReadyTimeout time.Duration
}

func (c *ManagementConfig) normalize() {
	c.Server.normalize()
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 5 * time.Second
	}
}

// Management exposes the operational endpoints for the pipeline:
//
//	GET /health   liveness, always 200 while the process serves
//	GET /ready    readiness, aggregated health checks, 503 when unhealthy
//	GET /metrics  Prometheus exposition
//	GET /queues   per-queue status reports as JSON
type Management struct {
	server   *Server
	health   *health.Registry
	exporter *metrics.Exporter
	log      logger.Logger
	config   ManagementConfig
}

// NewManagement builds the management server and mounts its routes.
func NewManagement(
	config ManagementConfig,
	healthRegistry *health.Registry,
	metricsRegistry *metrics.Registry,
	exporter *metrics.Exporter,
	log logger.Logger,
) (*Management, error) {
	if healthRegistry == nil {
		return nil, serverError(ErrValidation, "health registry is required")
	}
	if metricsRegistry == nil {
		return nil, serverError(ErrValidation, "metrics registry is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	config.normalize()

	m := &Management{
		health:   healthRegistry,
		exporter: exporter,
		log:      log,
		config:   config,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", m.handleHealth)
	mux.HandleFunc("GET /ready", m.handleReady)
	mux.Handle("GET /metrics", metricsRegistry.Handler())
	mux.HandleFunc("GET /queues", m.handleQueues)

	srv, err := New(config.Server, mux, log)
	if err != nil {
		return nil, err
	}
	m.server = srv
	return m, nil
}

// Start runs the listener until ctx is cancelled.
func (m *Management) Start(ctx context.Context) error {
	return m.server.Start(ctx)
}

// Addr reports the configured listen address.
func (m *Management) Addr() string {
	return m.server.Addr()
}

func (m *Management) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (m *Management) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), m.config.ReadyTimeout)
	defer cancel()

	result := m.health.Check(ctx)
	status := http.StatusOK
	if !result.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, result)
}

func (m *Management) handleQueues(w http.ResponseWriter, r *http.Request) {
	if m.exporter == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "queue exporter is not running"})
		return
	}
	writeJSON(w, http.StatusOK, m.exporter.Reports())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
