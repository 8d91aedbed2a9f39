// Package metrics manages the process-wide Prometheus registry.
//
// Metrics are opt-in: nothing is collected until InitRegistry is called.
// Consumer packages (state, loader, services) define their own narrow metrics
// interfaces and accept nil to disable collection with zero overhead; the
// Prometheus-backed implementations live in pkg/metrics/prometheus and return
// nil while the registry is uninitialized.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process-wide Prometheus registry and enables
// metrics collection. Go runtime and process collectors are registered
// alongside the application metrics.
//
// Calling InitRegistry again replaces the registry, which implicitly drops
// all previously registered collectors. Call it once at startup, before
// constructing any metrics-backed component.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()

	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether metrics collection is enabled.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process-wide registry, or nil when metrics are
// disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format, or nil when metrics are disabled. The embedding
// application decides whether and where to mount it.
func Handler() http.Handler {
	mu.RLock()
	defer mu.RUnlock()

	if registry == nil {
		return nil
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Reset disables metrics collection and drops the registry.
// Primarily useful for tests that exercise the disabled path.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}
