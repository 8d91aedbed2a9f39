package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/bootkit/pkg/loader"
	"github.com/marmos91/bootkit/pkg/metrics"
)

// loaderMetrics is the Prometheus implementation of loader.Metrics.
type loaderMetrics struct {
	loadDuration *prometheus.HistogramVec
	cacheOps     *prometheus.CounterVec
	dedups       prometheus.Counter
	retries      prometheus.Counter
	timeouts     prometheus.Counter
	inFlight     prometheus.Gauge
}

// NewLoaderMetrics creates a new Prometheus-backed loader.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
// When nil is returned, callers should pass nil to loader.New,
// which results in zero overhead.
func NewLoaderMetrics() loader.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &loaderMetrics{
		loadDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "bootkit_loader_load_duration_milliseconds",
				Help: "Duration of task loads in milliseconds by tier and outcome",
				Buckets: []float64{
					1,     // 1ms - cached config reads
					5,     // 5ms
					10,    // 10ms
					50,    // 50ms
					100,   // 100ms
					500,   // 500ms - network fetches
					1000,  // 1s
					5000,  // 5s
					30000, // 30s - the default timeout bound
				},
			},
			[]string{"tier", "outcome"}, // outcome: "success", "failure", "timeout"
		),
		cacheOps: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "bootkit_loader_cache_operations_total",
				Help: "Total number of cache lookups by status",
			},
			[]string{"status"}, // "hit", "miss"
		),
		dedups: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "bootkit_loader_dedup_total",
				Help: "Total number of loads that joined an in-flight execution",
			},
		),
		retries: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "bootkit_loader_retries_total",
				Help: "Total number of retried load attempts",
			},
		),
		timeouts: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "bootkit_loader_timeouts_total",
				Help: "Total number of load attempts that exceeded their timeout",
			},
		),
		inFlight: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "bootkit_loader_inflight_tasks",
				Help: "Current number of executing tasks",
			},
		),
	}
}

func (m *loaderMetrics) ObserveLoad(tier string, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.loadDuration.WithLabelValues(tier, outcome).Observe(duration.Seconds() * 1000)
}

func (m *loaderMetrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues("hit").Inc()
}

func (m *loaderMetrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheOps.WithLabelValues("miss").Inc()
}

func (m *loaderMetrics) RecordDedup() {
	if m == nil {
		return
	}
	m.dedups.Inc()
}

func (m *loaderMetrics) RecordRetry() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *loaderMetrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.timeouts.Inc()
}

func (m *loaderMetrics) SetInFlight(count int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(count))
}
