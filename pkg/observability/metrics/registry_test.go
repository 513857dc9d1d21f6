package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegistryRegistersRuntimeCollectors(t *testing.T) {
	registry := NewRegistry()

	families, err := registry.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}

	found := false
	for _, family := range families {
		if family.GetName() == "go_goroutines" {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("expected go_goroutines from the default collectors")
	}
}

func TestRegistryCustomCollector(t *testing.T) {
	registry := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_test_submissions_total",
		Help: "test counter",
	})

	if err := registry.Register(counter); err != nil {
		t.Fatalf("Register: %v", err)
	}
	counter.Inc()

	body := scrape(t, registry)
	if !strings.Contains(body, "registry_test_submissions_total 1") {
		t.Fatalf("expected custom counter in exposition, got:\n%s", body)
	}

	if !registry.Unregister(counter) {
		t.Fatal("Unregister should report true for a registered collector")
	}
	if strings.Contains(scrape(t, registry), "registry_test_submissions_total") {
		t.Fatal("unregistered counter should not be exposed")
	}
}

func TestRegistryHandlerIncludesDefaultRegistry(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registry_test_default_total",
		Help: "test counter in the default registry",
	})
	prometheus.MustRegister(counter)
	defer prometheus.Unregister(counter)
	counter.Inc()

	body := scrape(t, NewRegistry())
	if !strings.Contains(body, "registry_test_default_total") {
		t.Fatal("expected default-registry metrics in exposition")
	}
}

func scrape(t *testing.T, registry *Registry) string {
	t.Helper()
	rec := httptest.NewRecorder()
	registry.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from handler, got %d", rec.Code)
	}
	return rec.Body.String()
}
