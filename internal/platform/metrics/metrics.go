package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the formation stage service.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       prometheus.Counter
	errorsTotal         prometheus.Counter
	queriesTotal        prometheus.Counter
	queryFailuresTotal  prometheus.Counter
	staleResponsesTotal prometheus.Counter
	eventsTotal         *prometheus.CounterVec
	activeSessions      prometheus.Gauge
	requestDuration     *prometheus.HistogramVec
}

// New creates and registers Prometheus metrics for the service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formation_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formation_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		queriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formation_queries_total",
			Help: "Total number of formation queries sent to the data source",
		}),
		queryFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formation_query_failures_total",
			Help: "Total number of formation queries that failed",
		}),
		staleResponsesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "formation_stale_responses_total",
			Help: "Data source responses discarded because a newer query was issued",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "formation_input_events_total",
			Help: "Input events dispatched to sessions, by kind",
		}, []string{"kind"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "formation_active_sessions",
			Help: "Number of mounted stage sessions",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "formation_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.queriesTotal,
		m.queryFailuresTotal,
		m.staleResponsesTotal,
		m.eventsTotal,
		m.activeSessions,
		m.requestDuration,
	)
	return m
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	m.requestsTotal.Inc()
	if status >= 400 {
		m.errorsTotal.Inc()
	}
	m.requestDuration.WithLabelValues(method, route).Observe(seconds)
}

// IncQueries increments the data source query counter.
func (m *Metrics) IncQueries() {
	m.queriesTotal.Inc()
}

// IncQueryFailures increments the failed query counter.
func (m *Metrics) IncQueryFailures() {
	m.queryFailuresTotal.Inc()
}

// IncStaleResponses increments the discarded stale response counter.
func (m *Metrics) IncStaleResponses() {
	m.staleResponsesTotal.Inc()
}

// IncEvents increments the input event counter for kind.
func (m *Metrics) IncEvents(kind string) {
	m.eventsTotal.WithLabelValues(kind).Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		inner.ServeHTTP(w, r)
	})
}
