package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestStartCallTracksInflightAndLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	done := m.StartCall()
	if got := gaugeValue(t, m.inflightCalls); got != 1 {
		t.Fatalf("expected inflight=1 mid-call, got %v", got)
	}
	done("start_workflow", "ok")
	if got := gaugeValue(t, m.inflightCalls); got != 0 {
		t.Fatalf("expected inflight=0 after call completes, got %v", got)
	}
}

func TestRecordBlockedRetryAppend(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RecordBlocked("wf1", "VALIDATION_FAILED")
	if got := counterValue(t, m.blocks, "wf1", "VALIDATION_FAILED"); got != 1 {
		t.Fatalf("expected blocks counter=1, got %v", got)
	}

	m.RecordRetry("wf1")
	if got := counterValue(t, m.retries, "wf1"); got != 1 {
		t.Fatalf("expected retries counter=1, got %v", got)
	}

	m.RecordAppend("committed")
	if got := counterValue(t, m.appends, "committed"); got != 1 {
		t.Fatalf("expected appends counter=1, got %v", got)
	}
}

func TestDisableSuppressesRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Disable()

	done := m.StartCall()
	done("start_workflow", "ok")
	m.RecordBlocked("wf1", "X")

	if got := gaugeValue(t, m.inflightCalls); got != 0 {
		t.Fatalf("disabled metrics should not move the inflight gauge, got %v", got)
	}
	if got := counterValue(t, m.blocks, "wf1", "X"); got != 0 {
		t.Fatalf("disabled metrics should not increment counters, got %v", got)
	}

	m.Enable()
	m.RecordBlocked("wf1", "X")
	if got := counterValue(t, m.blocks, "wf1", "X"); got != 1 {
		t.Fatalf("re-enabled metrics should record again, got %v", got)
	}
}
