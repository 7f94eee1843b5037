// Package metrics exposes Prometheus collectors for analyses and sessions.
//
// Collectors live on a private registry so tests and multiple servers in one
// process never collide on the default registerer. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for the analyses counter.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the collectors and the registry they are registered on.
type Metrics struct {
	registry *prometheus.Registry

	analyses  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	sessions  prometheus.Gauge
	rejected  prometheus.Counter
	saved     prometheus.Counter
	wsClients prometheus.Gauge
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		// Labels: language, outcome (completed, failed, cancelled)
		analyses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "revpad",
			Name:      "analyses_total",
			Help:      "Analyses run through an execution session",
		}, []string{"language", "outcome"}),
		// Labels: language
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "revpad",
			Name:      "analysis_duration_seconds",
			Help:      "Wall time of a single analysis",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"language"}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "revpad",
			Name:      "sessions_open",
			Help:      "Execution sessions that have not been closed",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "revpad",
			Name:      "submissions_rejected_total",
			Help:      "Submissions rejected because a session was busy",
		}),
		saved: f.NewCounter(prometheus.CounterOpts{
			Namespace: "revpad",
			Name:      "reviews_saved_total",
			Help:      "Reviews written to the store",
		}),
		wsClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "revpad",
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients",
		}),
	}
}

// ObserveAnalysis records one finished analysis.
func (m *Metrics) ObserveAnalysis(language, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.analyses.WithLabelValues(language, outcome).Inc()
	if outcome == OutcomeCompleted {
		m.duration.WithLabelValues(language).Observe(d.Seconds())
	}
}

// SessionOpened increments the open sessions gauge.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.sessions.Inc()
	}
}

// SessionClosed decrements the open sessions gauge.
func (m *Metrics) SessionClosed() {
	if m != nil {
		m.sessions.Dec()
	}
}

// Rejected counts a submission refused with a busy error.
func (m *Metrics) Rejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

// Saved counts a persisted review.
func (m *Metrics) Saved() {
	if m != nil {
		m.saved.Inc()
	}
}

// ClientConnected and ClientDisconnected track WebSocket connections.
func (m *Metrics) ClientConnected() {
	if m != nil {
		m.wsClients.Inc()
	}
}

func (m *Metrics) ClientDisconnected() {
	if m != nil {
		m.wsClients.Dec()
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
