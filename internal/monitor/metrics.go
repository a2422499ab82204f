// Package monitor holds Prometheus metrics and OpenTelemetry tracing helpers.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Execution variants used as the "variant" label.
const (
	VariantInteractive = "interactive"
	VariantBatch       = "batch"
)

// Metrics holds all Prometheus collectors for the server.
//
// A dedicated registry (instead of prometheus.DefaultRegisterer) lets tests
// create as many Metrics values as they like without duplicate-registration
// panics.
type Metrics struct {
	Registry *prometheus.Registry

	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ActiveSessions    prometheus.Gauge
	InputsSupplied    *prometheus.CounterVec
	ContainerPoolSize prometheus.Gauge
	NotifyDropped     prometheus.Counter
	Throttled         *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pyrelay",
				Name:      "executions_total",
				Help:      "Executions by variant and terminal state.",
			},
			[]string{"variant", "state"},
		),

		ExecutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "pyrelay",
				Name:      "execution_duration_seconds",
				Help:      "Wall-clock duration of executions, including time blocked on input.",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
			},
			[]string{"variant"},
		),

		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pyrelay",
				Subsystem: "relay",
				Name:      "active_sessions",
				Help:      "Sessions with an execution currently in flight.",
			},
		),

		InputsSupplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pyrelay",
				Subsystem: "relay",
				Name:      "inputs_total",
				Help:      "POST /input calls by outcome.",
			},
			[]string{"status"},
		),

		ContainerPoolSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "pyrelay",
				Subsystem: "docker",
				Name:      "pool_size",
				Help:      "Pre-warmed containers waiting in the pool.",
			},
		),

		NotifyDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "pyrelay",
				Subsystem: "notify",
				Name:      "dropped_total",
				Help:      "Notifications dropped by the rate limiter or a failed webhook call.",
			},
		),

		Throttled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "pyrelay",
				Subsystem: "http",
				Name:      "throttled_total",
				Help:      "Requests rejected with 429 by the per-IP limiter, by route group.",
			},
			[]string{"group"},
		),
	}

	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveSessions,
		m.InputsSupplied,
		m.ContainerPoolSize,
		m.NotifyDropped,
		m.Throttled,
	)

	return m
}

// RecordExecution records a finished execution.
func (m *Metrics) RecordExecution(variant, state string, durationSec float64) {
	m.ExecutionsTotal.WithLabelValues(variant, state).Inc()
	m.ExecutionDuration.WithLabelValues(variant).Observe(durationSec)
}

// RecordInput records the outcome of one supplied input value.
func (m *Metrics) RecordInput(status string) {
	m.InputsSupplied.WithLabelValues(status).Inc()
}
