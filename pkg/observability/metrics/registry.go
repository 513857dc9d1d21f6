// Package metrics exposes pipeline metrics in Prometheus format and
// derives per-queue health from backend counters.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry manages Prometheus metric registration and exposure. Go
// runtime and process collectors are registered by default; package-level
// pipeline metrics live in the default registerer and are gathered
// alongside.
type Registry struct {
	registry *prometheus.Registry
}

// NewRegistry creates a metrics registry with default collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Registry{registry: reg}
}

// Register registers a custom Prometheus collector.
func (r *Registry) Register(collector prometheus.Collector) error {
	return r.registry.Register(collector)
}

// MustRegister registers custom Prometheus collectors and panics on error.
func (r *Registry) MustRegister(collectors ...prometheus.Collector) {
	r.registry.MustRegister(collectors...)
}

// Unregister removes a collector from the registry.
func (r *Registry) Unregister(collector prometheus.Collector) bool {
	return r.registry.Unregister(collector)
}

// Handler returns the HTTP handler for the /metrics endpoint. It gathers
// both this registry and the process-wide default registry, so queue,
// worker and scheduler counters appear without explicit registration.
func (r *Registry) Handler() http.Handler {
	gatherers := prometheus.Gatherers{r.registry, prometheus.DefaultGatherer}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Gatherer returns the underlying prometheus.Gatherer.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
