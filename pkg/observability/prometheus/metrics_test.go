package prometheus_test

import (
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/fluxorio/isolate/pkg/isolate"
	"github.com/fluxorio/isolate/pkg/observability/prometheus"
)

var _ isolate.Observer = (*prometheus.Metrics)(nil)

func TestMetrics_WorkerLifecycle(t *testing.T) {
	m := prometheus.NewMetrics(prom.NewRegistry())

	m.WorkerStarted("upper")
	m.WorkerStarted("upper")
	m.WorkerExited("upper", "natural", 5*time.Millisecond)

	if got := testutil.ToFloat64(m.WorkersSpawnedTotal.WithLabelValues("upper")); got != 2 {
		t.Errorf("Expected 2 spawns, got %v", got)
	}
	if got := testutil.ToFloat64(m.WorkersActive); got != 1 {
		t.Errorf("Expected 1 active worker, got %v", got)
	}
	if got := testutil.ToFloat64(m.WorkerExitsTotal.WithLabelValues("upper", "natural")); got != 1 {
		t.Errorf("Expected 1 natural exit, got %v", got)
	}
	if got := testutil.CollectAndCount(m.WorkerLifetime); got != 1 {
		t.Errorf("Expected 1 lifetime series, got %d", got)
	}
}

func TestMetrics_Offload(t *testing.T) {
	m := prometheus.NewMetrics(prom.NewRegistry())

	m.RecordOffload("report", "ok", 20*time.Millisecond, 128)
	m.RecordOffload("report", "error", time.Millisecond, 64)
	m.RecordFailure("WORKER_RUNTIME_ERROR")
	m.RecordFailure("")
	m.RecordDecision("inline")
	m.RecordDecision("isolate")
	m.RecordDecision("isolate")

	if got := testutil.ToFloat64(m.OffloadsTotal.WithLabelValues("report", "ok")); got != 1 {
		t.Errorf("Expected 1 ok offload, got %v", got)
	}
	if got := testutil.ToFloat64(m.FailuresTotal.WithLabelValues("unknown")); got != 1 {
		t.Errorf("Expected empty code to count as unknown, got %v", got)
	}
	if got := testutil.ToFloat64(m.DispatchDecisionsTotal.WithLabelValues("isolate")); got != 2 {
		t.Errorf("Expected 2 isolate decisions, got %v", got)
	}
	if got := testutil.CollectAndCount(m.OffloadDuration); got != 2 {
		t.Errorf("Expected 2 duration series, got %d", got)
	}
}

func TestGetMetrics_Singleton(t *testing.T) {
	if prometheus.GetMetrics() != prometheus.GetMetrics() {
		t.Error("Expected GetMetrics to return one instance")
	}
}
