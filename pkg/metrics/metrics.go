package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hyperswap"

// Metrics contains metrics exposed by the settlement engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Match attempts by outcome reason ("ok" on success)
	Matches *prometheus.CounterVec
	// Disbursements by fee category
	Transfers *prometheus.CounterVec
	// Wall time of one match attempt
	MatchDuration prometheus.Histogram
	// Record sink failures by sink name
	SinkErrors *prometheus.CounterVec
}

// New builds Metrics on a private registry, with Go runtime collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Matches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "matches_total",
			Help:      "Match attempts by result",
		}, []string{"result"}),
		Transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transfers_total",
			Help:      "Settled disbursements by category",
		}, []string{"category"}),
		MatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "match_duration_seconds",
			Help:      "Time to run one match attempt",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "sink_errors_total",
			Help:      "Record publication failures",
		}, []string{"sink"}),
	}
	reg.MustRegister(
		m.Matches, m.Transfers, m.MatchDuration, m.SinkErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveMatch(result string, started time.Time) {
	if m == nil {
		return
	}
	m.Matches.WithLabelValues(result).Inc()
	m.MatchDuration.Observe(time.Since(started).Seconds())
}

func (m *Metrics) ObserveTransfer(category string) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(category).Inc()
}

func (m *Metrics) ObserveSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// Registry exposes the underlying registry for tests and custom exporters
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
