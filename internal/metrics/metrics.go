// Package metrics exposes the collector's Prometheus instruments.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/cvc-collector/internal/speed"
)

const namespace = "cvc_collector"

// Metrics implements speed.Recorder and source.RequestRecorder.
type Metrics struct {
	registry *prometheus.Registry

	sourceRequests *prometheus.CounterVec
	pointsWritten  *prometheus.CounterVec
	cycles         *prometheus.CounterVec
	cycleDuration  prometheus.Histogram
	cyclePoints    prometheus.Gauge
	lastSuccess    prometheus.Gauge
}

// New creates the instruments on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sourceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Upstream window requests by outcome (ok, skipped, error).",
		}, []string{"outcome"}),
		pointsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "points_written_total",
			Help:      "Points written to the store by CVC.",
		}, []string{"cvc"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed ingestion cycles by result.",
		}, []string{"result"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of ingestion cycles.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		cyclePoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_points",
			Help:      "Points written by the most recent cycle.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time the last successful cycle finished.",
		}),
	}

	m.registry.MustRegister(
		m.sourceRequests,
		m.pointsWritten,
		m.cycles,
		m.cycleDuration,
		m.cyclePoints,
		m.lastSuccess,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry returns the registry the instruments live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SourceRequest counts one upstream request by outcome.
func (m *Metrics) SourceRequest(outcome string) {
	m.sourceRequests.WithLabelValues(outcome).Inc()
}

// PointsWritten adds n to the written-points counter for station.
func (m *Metrics) PointsWritten(station string, n int) {
	m.pointsWritten.WithLabelValues(station).Add(float64(n))
}

// CycleFinished records the duration, size and result of a cycle.
func (m *Metrics) CycleFinished(report speed.CycleReport, err error) {
	m.cycleDuration.Observe(report.Duration().Seconds())
	m.cyclePoints.Set(float64(report.Points))

	if err != nil {
		m.cycles.WithLabelValues("failure").Inc()
		return
	}
	m.cycles.WithLabelValues("success").Inc()
	m.lastSuccess.Set(float64(report.Finished.Unix()))
}
