// Package metrics exposes Prometheus instrumentation for the device server.
// Only operation names and outcomes are recorded; values and digests never
// reach a label.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Namespace is the Prometheus namespace for all metrics.
	Namespace = "hwhash"

	LabelOperation = "operation"
	LabelStatus    = "status"
	LabelOutcome   = "outcome"
)

// Metrics holds the collectors of one device server.
type Metrics struct {
	registry *prometheus.Registry

	Requests      *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
	Confirmations *prometheus.CounterVec
	InFlight      prometheus.Gauge
}

// New registers the device collectors plus Go and process collectors on a
// private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "device",
			Name:      "requests_total",
			Help:      "Device requests by operation and status.",
		}, []string{LabelOperation, LabelStatus}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "device",
			Name:      "request_duration_seconds",
			Help:      "Device request latency, including time spent waiting for the operator.",
			Buckets:   []float64{.001, .01, .1, .5, 1, 5, 15, 60, 300},
		}, []string{LabelOperation}),
		Confirmations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "device",
			Name:      "confirmations_total",
			Help:      "Operator confirmation prompts by outcome.",
		}, []string{LabelOutcome}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "device",
			Name:      "requests_in_flight",
			Help:      "Requests holding or waiting for the device.",
		}),
	}
	reg.MustRegister(
		m.Requests, m.Duration, m.Confirmations, m.InFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe records one finished request.
func (m *Metrics) Observe(operation, status string, elapsed time.Duration) {
	m.Requests.WithLabelValues(operation, status).Inc()
	m.Duration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// Confirmation records the outcome of one operator prompt.
func (m *Metrics) Confirmation(approved bool) {
	outcome := "declined"
	if approved {
		outcome = "approved"
	}
	m.Confirmations.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
