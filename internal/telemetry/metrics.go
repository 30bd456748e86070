// Package telemetry exposes Prometheus metrics for the orchestration
// core: how many tool calls are in flight, how long advances take, and
// how often sessions block or retry.
//
// Grounded on the teacher's graph/metrics.go PrometheusMetrics, re-keyed
// from per-node-execution metrics (inflight_nodes, step_latency_ms,
// retries_total) to per-tool-call metrics over this domain's vocabulary
// (sessionId/workflowId/tool/outcome instead of runId/nodeId/status).
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a thread-safe collector registered under the "workrail"
// namespace.
type Metrics struct {
	inflightCalls prometheus.Gauge
	callLatency   *prometheus.HistogramVec
	blocks        *prometheus.CounterVec
	retries       *prometheus.CounterVec
	appends       *prometheus.CounterVec

	mu      sync.RWMutex
	enabled bool
}

// New registers all workrail_* metrics with registry. Pass
// prometheus.DefaultRegisterer for the global registry, or
// prometheus.NewRegistry() for an isolated one (recommended in tests).
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	m := &Metrics{enabled: true}

	m.inflightCalls = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "workrail",
		Name:      "inflight_tool_calls",
		Help:      "Number of list_workflows/start_workflow/continue_workflow/checkpoint_workflow calls currently executing",
	})

	m.callLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "workrail",
		Name:      "tool_call_latency_ms",
		Help:      "Tool call duration in milliseconds",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
	}, []string{"tool", "outcome"})

	m.blocks = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workrail",
		Name:      "advance_blocked_total",
		Help:      "Advances that blocked on a guardrail or validation reason",
	}, []string{"workflow_id", "reason_code"})

	m.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workrail",
		Name:      "retries_total",
		Help:      "continue_workflow calls made against a retryAckToken",
	}, []string{"workflow_id"})

	m.appends = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "workrail",
		Name:      "event_log_appends_total",
		Help:      "Append plans committed to the session event log, by outcome",
	}, []string{"outcome"}) // outcome: committed or invariant_violation

	return m
}

// StartCall records one tool call's latency and increments/decrements
// the inflight gauge around the call. Use as:
//
//	done := m.StartCall()
//	defer done(tool, outcome)
func (m *Metrics) StartCall() func(tool, outcome string) {
	if !m.isEnabled() {
		return func(string, string) {}
	}
	m.inflightCalls.Inc()
	start := time.Now()
	return func(tool, outcome string) {
		m.inflightCalls.Dec()
		m.callLatency.WithLabelValues(tool, outcome).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func (m *Metrics) RecordBlocked(workflowID, reasonCode string) {
	if !m.isEnabled() {
		return
	}
	m.blocks.WithLabelValues(workflowID, reasonCode).Inc()
}

func (m *Metrics) RecordRetry(workflowID string) {
	if !m.isEnabled() {
		return
	}
	m.retries.WithLabelValues(workflowID).Inc()
}

func (m *Metrics) RecordAppend(outcome string) {
	if !m.isEnabled() {
		return
	}
	m.appends.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Disable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = false
}

func (m *Metrics) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = true
}

func (m *Metrics) isEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}
