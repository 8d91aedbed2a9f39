package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/bootkit/pkg/metrics"
	"github.com/marmos91/bootkit/pkg/services"
)

// coordinatorMetrics is the Prometheus implementation of services.Metrics.
type coordinatorMetrics struct {
	registered   prometheus.Gauge
	ready        prometheus.Gauge
	loadDuration *prometheus.HistogramVec
}

// NewCoordinatorMetrics creates a new Prometheus-backed services.Metrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to services.NewCoordinator,
// which results in zero overhead.
func NewCoordinatorMetrics() services.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &coordinatorMetrics{
		registered: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "bootkit_services_registered",
				Help: "Current number of registered services",
			},
		),
		ready: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "bootkit_services_ready",
				Help: "Current number of resolved services",
			},
		),
		loadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "bootkit_services_load_duration_milliseconds",
				Help: "Duration of service loads in milliseconds by service and outcome",
				Buckets: []float64{
					1,     // 1ms - trivial factories
					10,    // 10ms
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms - connection setup
					1000,  // 1s
					5000,  // 5s
					30000, // 30s - the default timeout bound
				},
			},
			[]string{"service", "outcome"}, // outcome: "success", "failure"
		),
	}
}

func (m *coordinatorMetrics) SetRegistered(count int) {
	if m == nil {
		return
	}
	m.registered.Set(float64(count))
}

func (m *coordinatorMetrics) SetReady(count int) {
	if m == nil {
		return
	}
	m.ready.Set(float64(count))
}

func (m *coordinatorMetrics) ObserveServiceLoad(service string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.loadDuration.WithLabelValues(service, outcome).Observe(duration.Seconds() * 1000)
}
