// Package metrics exposes Prometheus collectors for discovery runs.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "classfind"

// Run outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	indexed     prometheus.Gauge
	inspected   prometheus.Counter
	matches     *prometheus.CounterVec
	diagnostics *prometheus.CounterVec
	resolutions *prometheus.CounterVec
}

// New creates the collectors on a private registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Discovery runs by predicate kind and outcome.",
		}, []string{"kind", "outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of discovery runs.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		indexed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_units",
			Help:      "Units found by the scanner in the last run.",
		}),
		inspected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inspected_units_total",
			Help:      "Units handed to the matcher.",
		}),
		matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_total",
			Help:      "Confirmed matches by predicate kind.",
		}, []string{"kind"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "diagnostics_total",
			Help:      "Isolated per-unit and per-root failures by code.",
		}, []string{"code"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Name resolutions by source.",
		}, []string{"source"}),
	}
	m.registry.MustRegister(
		m.runs, m.duration, m.indexed, m.inspected, m.matches, m.diagnostics, m.resolutions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunFinished records one run.
func (m *Metrics) RunFinished(kind, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(kind, outcome).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// Indexed sets the size of the last index.
func (m *Metrics) Indexed(n int) {
	if m == nil {
		return
	}
	m.indexed.Set(float64(n))
}

// Inspected counts a unit handed to the matcher.
func (m *Metrics) Inspected() {
	if m == nil {
		return
	}
	m.inspected.Inc()
}

// Matched counts a confirmed match.
func (m *Metrics) Matched(kind string) {
	if m == nil {
		return
	}
	m.matches.WithLabelValues(kind).Inc()
}

// Diagnostic counts a diagnostic by code.
func (m *Metrics) Diagnostic(code string) {
	if m == nil {
		return
	}
	m.diagnostics.WithLabelValues(code).Inc()
}

// Resolutions adds resolution counts by source.
func (m *Metrics) Resolutions(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.resolutions.WithLabelValues(source).Add(float64(n))
}
