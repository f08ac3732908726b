package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "isolate"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds the worker, offload and trigger metrics.
// It implements isolate.Observer.
type Metrics struct {
	// Worker lifecycle
	WorkersSpawnedTotal *prometheus.CounterVec
	WorkersActive       prometheus.Gauge
	WorkerExitsTotal    *prometheus.CounterVec
	WorkerLifetime      *prometheus.HistogramVec

	// Offload calls
	OffloadsTotal       *prometheus.CounterVec
	OffloadDuration     *prometheus.HistogramVec
	OffloadPayloadBytes prometheus.Histogram
	FailuresTotal       *prometheus.CounterVec

	// Dispatch policy
	DispatchDecisionsTotal *prometheus.CounterVec

	// Trigger server
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		WorkersSpawnedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolate_workers_spawned_total",
				Help: "Total number of spawned workers",
			},
			[]string{"entry"},
		),
		WorkersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "isolate_workers_active",
				Help: "Number of workers that have not exited",
			},
		),
		WorkerExitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolate_worker_exits_total",
				Help: "Total number of worker exits",
			},
			[]string{"entry", "reason"}, // reason: natural, error, terminated, killed
		),
		WorkerLifetime: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "isolate_worker_lifetime_seconds",
				Help:    "Time between worker spawn and exit in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
			},
			[]string{"entry"},
		),

		OffloadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolate_offloads_total",
				Help: "Total number of offload calls",
			},
			[]string{"entry", "outcome"}, // outcome: ok, error
		),
		OffloadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "isolate_offload_duration_seconds",
				Help:    "Offload duration from spawn to teardown in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"entry", "outcome"},
		),
		OffloadPayloadBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "isolate_offload_payload_bytes",
				Help:    "Approximate size of offload arguments in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8), // 64B to 1MB
			},
		),
		FailuresTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolate_failures_total",
				Help: "Total number of failed offloads by error code",
			},
			[]string{"code"},
		),

		DispatchDecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolate_dispatch_decisions_total",
				Help: "Total number of dispatch policy decisions",
			},
			[]string{"mode"}, // mode: inline, isolate, await
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "isolate_http_requests_total",
				Help: "Total number of HTTP trigger requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "isolate_http_request_duration_seconds",
				Help:    "HTTP trigger request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}
}

// WorkerStarted records a spawn.
func (m *Metrics) WorkerStarted(entry string) {
	m.WorkersSpawnedTotal.WithLabelValues(entry).Inc()
	m.WorkersActive.Inc()
}

// WorkerExited records an exit and the worker's lifetime.
func (m *Metrics) WorkerExited(entry, reason string, lifetime time.Duration) {
	m.WorkersActive.Dec()
	m.WorkerExitsTotal.WithLabelValues(entry, reason).Inc()
	m.WorkerLifetime.WithLabelValues(entry).Observe(lifetime.Seconds())
}

// RecordOffload records a finished offload call.
func (m *Metrics) RecordOffload(entry, outcome string, duration time.Duration, payloadBytes int) {
	m.OffloadsTotal.WithLabelValues(entry, outcome).Inc()
	m.OffloadDuration.WithLabelValues(entry, outcome).Observe(duration.Seconds())
	m.OffloadPayloadBytes.Observe(float64(payloadBytes))
}

// RecordFailure counts a failure by its error code.
func (m *Metrics) RecordFailure(code string) {
	if code == "" {
		code = "unknown"
	}
	m.FailuresTotal.WithLabelValues(code).Inc()
}

// RecordDecision counts a dispatch decision.
func (m *Metrics) RecordDecision(mode string) {
	m.DispatchDecisionsTotal.WithLabelValues(mode).Inc()
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
