// Package metrics holds the Prometheus instruments for the bridge and the
// reconciler. Each Metrics owns its registry so several hosts can coexist in
// one process (and in tests).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for janus
type Metrics struct {
	registry *prometheus.Registry

	SurfacesLive       prometheus.Gauge
	SurfacesCreated    prometheus.Counter
	SurfacesRemoved    prometheus.Counter
	Events             *prometheus.CounterVec
	Anomalies          prometheus.Counter
	ConsentQueries     prometheus.Counter
	QueryFailures      prometheus.Counter
	CanonicalRefreshes *prometheus.CounterVec
	CanonicalEvents    *prometheus.CounterVec
	JournalFailures    prometheus.Counter
}

// New creates and registers all metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SurfacesLive: f.NewGauge(prometheus.GaugeOpts{
			Name: "janus_surfaces_live",
			Help: "Current number of live surfaces",
		}),
		SurfacesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "janus_surfaces_created_total",
			Help: "Total number of surfaces created",
		}),
		SurfacesRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "janus_surfaces_removed_total",
			Help: "Total number of surfaces removed",
		}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "janus_fides_events_total",
			Help: "Total number of FidesJS lifecycle events received, by type",
		}, []string{"type"}),
		Anomalies: f.NewCounter(prometheus.CounterOpts{
			Name: "janus_protocol_anomalies_total",
			Help: "Total number of malformed or unrecognised bridge messages",
		}),
		ConsentQueries: f.NewCounter(prometheus.CounterOpts{
			Name: "janus_consent_queries_total",
			Help: "Total number of consent queries issued against surfaces",
		}),
		QueryFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "janus_consent_query_failures_total",
			Help: "Total number of failed consent queries",
		}),
		CanonicalRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "janus_canonical_refreshes_total",
			Help: "Total number of canonical snapshot pulls, by result",
		}, []string{"result"}),
		CanonicalEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "janus_canonical_events_total",
			Help: "Total number of native consent events received, by kind",
		}, []string{"kind"}),
		JournalFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "janus_journal_write_failures_total",
			Help: "Total number of event journal writes that failed",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementSurfacesCreated() {
	m.SurfacesCreated.Inc()
}

func (m *Metrics) IncrementSurfacesRemoved(n int) {
	m.SurfacesRemoved.Add(float64(n))
}

func (m *Metrics) SetSurfacesLive(count int) {
	m.SurfacesLive.Set(float64(count))
}

func (m *Metrics) IncrementEvent(eventType string) {
	m.Events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementAnomalies() {
	m.Anomalies.Inc()
}

func (m *Metrics) IncrementConsentQueries() {
	m.ConsentQueries.Inc()
}

func (m *Metrics) IncrementQueryFailures() {
	m.QueryFailures.Inc()
}

// ObserveCanonicalRefresh counts a finished pull as "ok" or "error".
func (m *Metrics) ObserveCanonicalRefresh(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.CanonicalRefreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) IncrementCanonicalEvent(kind string) {
	m.CanonicalEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementJournalFailures() {
	m.JournalFailures.Inc()
}
