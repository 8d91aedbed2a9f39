package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/bootkit/pkg/metrics"
	"github.com/marmos91/bootkit/pkg/state"
)

// stateMetrics is the Prometheus implementation of state.Metrics.
type stateMetrics struct {
	mutations     *prometheus.CounterVec
	notifications prometheus.Counter
	subscriptions prometheus.Gauge
}

// NewStateMetrics creates a new Prometheus-backed state.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to state.NewStore,
// which results in zero overhead.
func NewStateMetrics() state.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &stateMetrics{
		mutations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bootkit_state_mutations_total",
				Help: "Total number of store mutations by operation",
			},
			[]string{"op"}, // "set", "delete"
		),
		notifications: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "bootkit_state_notifications_total",
				Help: "Total number of subscriber callbacks delivered",
			},
		),
		subscriptions: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "bootkit_state_subscriptions",
				Help: "Current number of active subscriptions",
			},
		),
	}
}

func (m *stateMetrics) RecordSet() {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues("set").Inc()
}

func (m *stateMetrics) RecordDelete() {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues("delete").Inc()
}

func (m *stateMetrics) RecordNotification() {
	if m == nil {
		return
	}
	m.notifications.Inc()
}

func (m *stateMetrics) SetSubscriptions(count int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(count))
}
