// Package metrics provides Prometheus metrics for pagesmith.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RunsTotal        *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	FilesSyncedTotal *prometheus.CounterVec
	CallbackAttempts *prometheus.CounterVec
	GenerationTokens *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	RunsInFlight     prometheus.Gauge

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesmith_requests_total",
				Help: "Inbound task requests by response status.",
			},
			[]string{"status"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesmith_runs_total",
				Help: "Finished pipeline runs by result.",
			},
			[]string{"result"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pagesmith_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage.",
				Buckets: []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		FilesSyncedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesmith_files_synced_total",
				Help: "Files processed by the synchronizer by action.",
			},
			[]string{"action"},
		),
		CallbackAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesmith_callback_attempts_total",
				Help: "Callback POST attempts by result.",
			},
			[]string{"result"},
		),
		GenerationTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pagesmith_generation_tokens_total",
				Help: "Tokens consumed by generation calls by direction.",
			},
			[]string{"direction"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagesmith_queue_depth",
				Help: "Accepted tasks waiting for a worker.",
			},
		),
		RunsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "pagesmith_runs_in_flight",
				Help: "Pipeline runs currently executing.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(m.RequestsTotal)
	reg.MustRegister(m.RunsTotal)
	reg.MustRegister(m.StageDuration)
	reg.MustRegister(m.FilesSyncedTotal)
	reg.MustRegister(m.CallbackAttempts)
	reg.MustRegister(m.GenerationTokens)
	reg.MustRegister(m.QueueDepth)
	reg.MustRegister(m.RunsInFlight)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments the inbound request counter.
func (m *Metrics) RecordRequest(status string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status).Inc()
}

// RecordRun increments the finished-run counter.
func (m *Metrics) RecordRun(result string) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(result).Inc()
}

// ObserveStage records the time a run spent in stage.
func (m *Metrics) ObserveStage(stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordFile increments the synced-file counter.
func (m *Metrics) RecordFile(action string) {
	if m == nil {
		return
	}
	m.FilesSyncedTotal.WithLabelValues(action).Inc()
}

// RecordCallbackAttempt increments the callback attempt counter.
func (m *Metrics) RecordCallbackAttempt(result string) {
	if m == nil {
		return
	}
	m.CallbackAttempts.WithLabelValues(result).Inc()
}

// RecordTokens adds generation token usage.
func (m *Metrics) RecordTokens(in, out int) {
	if m == nil {
		return
	}
	m.GenerationTokens.WithLabelValues("input").Add(float64(in))
	m.GenerationTokens.WithLabelValues("output").Add(float64(out))
}

// SetQueueDepth sets the queued task gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// RunStarted and RunFinished track the in-flight gauge.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.RunsInFlight.Inc()
}

func (m *Metrics) RunFinished() {
	if m == nil {
		return
	}
	m.RunsInFlight.Dec()
}
