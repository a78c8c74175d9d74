// Package metrics holds the Prometheus instrumentation for the analysis
// pipeline and exposes the scrape handler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the pipeline collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	engineDuration   *prometheus.HistogramVec
	analysesTotal    *prometheus.CounterVec
	artifactFailures prometheus.Counter
}

// New builds and registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		engineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "autoinsight",
			Name:      "engine_request_duration_seconds",
			Help:      "Round-trip latency of analysis engine calls.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
		}, []string{"op"}),
		analysesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "autoinsight",
			Name:      "analyses_total",
			Help:      "Completed analysis runs by analysis option and outcome.",
		}, []string{"option", "outcome"}),
		artifactFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "autoinsight",
			Name:      "artifact_failures_total",
			Help:      "Artifacts skipped due to decode or upload failures.",
		}),
	}
	m.registry.MustRegister(m.engineDuration, m.analysesTotal, m.artifactFailures)
	return m
}

// ObserveEngineCall records one engine round trip.
func (m *Metrics) ObserveEngineCall(op string, elapsed time.Duration) {
	m.engineDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// CountAnalysis records a finished or aborted analysis run.
func (m *Metrics) CountAnalysis(option, outcome string) {
	m.analysesTotal.WithLabelValues(option, outcome).Inc()
}

// CountArtifactFailure records one skipped artifact.
func (m *Metrics) CountArtifactFailure() {
	m.artifactFailures.Inc()
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
