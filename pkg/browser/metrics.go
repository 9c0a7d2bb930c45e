package browser

import (
	"sync/atomic"
	"time"

	"github.com/odvcencio/browserbridge/pkg/telemetry"
)

// Metrics tracks browser runtime counters. Counts are kept locally for
// Snapshot and mirrored to Prometheus when telemetry is attached.
type Metrics struct {
	// Session counts
	SessionsCreated atomic.Int64
	SessionsClosed  atomic.Int64
	ActiveSessions  atomic.Int64

	// Operation counts
	NavigateCount atomic.Int64
	ObserveCount  atomic.Int64
	ActionCount   atomic.Int64

	// Action outcomes
	ActionSuccessCount atomic.Int64
	ActionFailureCount atomic.Int64

	ObserveLatencySum   atomic.Int64 // nanoseconds
	ObserveLatencyCount atomic.Int64

	prom *telemetry.Metrics
}

// NewMetrics creates a new metrics collector. prom may be nil.
func NewMetrics(prom *telemetry.Metrics) *Metrics {
	return &Metrics{prom: prom}
}

// RecordSessionCreated increments session creation counter.
func (m *Metrics) RecordSessionCreated(browserSessionID string) {
	if m == nil {
		return
	}
	m.SessionsCreated.Add(1)
	m.ActiveSessions.Add(1)
	m.prom.BrowserSession("opened")
}

// RecordSessionClosed increments session close counter.
func (m *Metrics) RecordSessionClosed(browserSessionID string) {
	if m == nil {
		return
	}
	m.SessionsClosed.Add(1)
	m.ActiveSessions.Add(-1)
	m.prom.BrowserSession("closed")
}

// RecordNavigate increments navigation counter.
func (m *Metrics) RecordNavigate(browserSessionID string, success bool, latency time.Duration) {
	if m == nil {
		return
	}
	m.NavigateCount.Add(1)
	m.prom.BrowserAction(string(ActionNavigate), success)
}

// RecordObserve increments observe counter.
func (m *Metrics) RecordObserve(browserSessionID string, latency time.Duration, opts ObserveOptions) {
	if m == nil {
		return
	}
	m.ObserveCount.Add(1)
	m.ObserveLatencySum.Add(latency.Nanoseconds())
	m.ObserveLatencyCount.Add(1)
}

// RecordAction increments action counter and tracks success/failure.
func (m *Metrics) RecordAction(browserSessionID string, actionType ActionType, success bool, latency time.Duration) {
	if m == nil {
		return
	}
	m.ActionCount.Add(1)
	if success {
		m.ActionSuccessCount.Add(1)
	} else {
		m.ActionFailureCount.Add(1)
	}
	m.prom.BrowserAction(string(actionType), success)
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	avgObserve := time.Duration(0)
	if count := m.ObserveLatencyCount.Load(); count > 0 {
		avgObserve = time.Duration(m.ObserveLatencySum.Load() / count)
	}
	successCount := m.ActionSuccessCount.Load()
	failCount := m.ActionFailureCount.Load()
	successRate := 1.0
	if total := successCount + failCount; total > 0 {
		successRate = float64(successCount) / float64(total)
	}
	return MetricsSnapshot{
		SessionsCreated:       m.SessionsCreated.Load(),
		SessionsClosed:        m.SessionsClosed.Load(),
		ActiveSessions:        m.ActiveSessions.Load(),
		NavigateCount:         m.NavigateCount.Load(),
		ObserveCount:          m.ObserveCount.Load(),
		ActionCount:           m.ActionCount.Load(),
		ActionSuccessCount:    successCount,
		ActionFailureCount:    failCount,
		ActionSuccessRate:     successRate,
		AverageObserveLatency: avgObserve,
	}
}

// MetricsSnapshot is a point-in-time copy of browser metrics.
type MetricsSnapshot struct {
	SessionsCreated       int64         `json:"sessions_created"`
	SessionsClosed        int64         `json:"sessions_closed"`
	ActiveSessions        int64         `json:"active_sessions"`
	NavigateCount         int64         `json:"navigate_count"`
	ObserveCount          int64         `json:"observe_count"`
	ActionCount           int64         `json:"action_count"`
	ActionSuccessCount    int64         `json:"action_success_count"`
	ActionFailureCount    int64         `json:"action_failure_count"`
	ActionSuccessRate     float64       `json:"action_success_rate"`
	AverageObserveLatency time.Duration `json:"average_observe_latency"`
}
