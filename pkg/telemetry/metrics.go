package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "browserbridge"

// Run outcomes used as label values.
const (
	OutcomeSuccess   = "success"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the Prometheus collectors for the bridge. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	runsStarted     prometheus.Counter
	runsFinished    *prometheus.CounterVec
	activeRuns      prometheus.Gauge
	runDuration     prometheus.Histogram
	streamEvents    *prometheus.CounterVec
	browserSessions *prometheus.CounterVec
	browserActions  *prometheus.CounterVec
	modelRequests   *prometheus.CounterVec
}

// NewMetrics registers the bridge collectors on reg. Pass
// prometheus.NewRegistry() in tests to avoid clashing with the default
// registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		runsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Automation runs accepted by the bridge.",
		}),
		runsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Automation runs finished, by outcome.",
		}, []string{"outcome"}),
		activeRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_active",
			Help:      "Automation runs currently streaming.",
		}),
		runDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of automation runs.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		streamEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_events_total",
			Help:      "Events written to client streams, by type.",
		}, []string{"type"}),
		browserSessions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_sessions_total",
			Help:      "Browser session lifecycle transitions.",
		}, []string{"event"}),
		browserActions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_actions_total",
			Help:      "Browser actions executed, by action and outcome.",
		}, []string{"action", "outcome"}),
		modelRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_requests_total",
			Help:      "Chat completion requests, by outcome.",
		}, []string{"outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RunStarted records a newly accepted run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RunFinished records the outcome and duration of a run.
func (m *Metrics) RunFinished(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.activeRuns.Dec()
	m.runsFinished.WithLabelValues(outcome).Inc()
	m.runDuration.Observe(elapsed.Seconds())
}

// StreamEvent counts one event written to a client.
func (m *Metrics) StreamEvent(eventType string) {
	if m == nil {
		return
	}
	m.streamEvents.WithLabelValues(eventType).Inc()
}

// BrowserSession counts a session lifecycle transition ("opened", "closed").
func (m *Metrics) BrowserSession(event string) {
	if m == nil {
		return
	}
	m.browserSessions.WithLabelValues(event).Inc()
}

// BrowserAction counts an executed browser action.
func (m *Metrics) BrowserAction(action string, ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if !ok {
		outcome = OutcomeError
	}
	m.browserActions.WithLabelValues(action, outcome).Inc()
}

// ModelRequest counts a chat completion request.
func (m *Metrics) ModelRequest(outcome string) {
	if m == nil {
		return
	}
	m.modelRequests.WithLabelValues(outcome).Inc()
}
