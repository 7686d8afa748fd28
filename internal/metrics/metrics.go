package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Admission outcomes.
const (
	DecisionAllowed     = "allowed"
	DecisionRejected    = "rejected"
	DecisionUnavailable = "unavailable"
)

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on the default one.
//
// Exposed series:
//   - ingest_events_total{kind,outcome}: accepted or duplicate events
//   - ingest_stage_failures_total{stage}: storage failures per pipeline stage
//   - ingest_session_rotations_total: expired session tokens replaced
//   - ingest_visitor_heals_total: visitors relinked by fingerprint
//   - ingest_admission_decisions_total{route,decision}
//   - ingest_markers_swept_total: rate limit markers removed by sweeps
//   - ingest_sink_failures_total{sink}: failed downstream mirror writes
//   - ingest_http_request_duration_seconds{method,route,status}
type Metrics struct {
	registry *prometheus.Registry

	events          *prometheus.CounterVec
	stageFailures   *prometheus.CounterVec
	rotations       prometheus.Counter
	heals           prometheus.Counter
	admissions      *prometheus.CounterVec
	markersSwept    prometheus.Counter
	sinkFailures    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_events_total",
			Help: "Tracking events processed, by kind and outcome",
		}, []string{"kind", "outcome"}),
		stageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_stage_failures_total",
			Help: "Storage failures that abandoned an event, by pipeline stage",
		}, []string{"stage"}),
		rotations: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_session_rotations_total",
			Help: "Expired session tokens replaced with a new token",
		}),
		heals: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_visitor_heals_total",
			Help: "Visitors relinked to a new visitor id through their fingerprint",
		}),
		admissions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_admission_decisions_total",
			Help: "Rate limiter decisions, by route and decision",
		}, []string{"route", "decision"}),
		markersSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "ingest_markers_swept_total",
			Help: "Stale rate limit markers removed by sweeps",
		}),
		sinkFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_sink_failures_total",
			Help: "Failed writes to downstream event mirrors",
		}, []string{"sink"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ingest_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EventAccepted(kind string) {
	m.events.WithLabelValues(kind, "accepted").Inc()
}

func (m *Metrics) EventDuplicate(kind string) {
	m.events.WithLabelValues(kind, "duplicate").Inc()
}

func (m *Metrics) StageFailed(stage string) {
	m.stageFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) SessionRotated() { m.rotations.Inc() }

func (m *Metrics) VisitorHealed() { m.heals.Inc() }

func (m *Metrics) Admission(route, decision string) {
	m.admissions.WithLabelValues(route, decision).Inc()
}

func (m *Metrics) MarkersSwept(n int) {
	if n > 0 {
		m.markersSwept.Add(float64(n))
	}
}

func (m *Metrics) SinkFailed(sink string) {
	m.sinkFailures.WithLabelValues(sink).Inc()
}

func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.requestDuration.WithLabelValues(method, route, statusClass(status)).Observe(d.Seconds())
}

// statusClass keeps label cardinality bounded.
func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
