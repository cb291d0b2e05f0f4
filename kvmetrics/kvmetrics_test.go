package kvmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestRegistrySetters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)

	r.Connections.Set(3)
	r.SetWorkerQueueDepth(2, 7)
	r.SetCursorLag(0x00ab, "dcp-1", 42)
	r.ObserveArchiverShardLatency("s3", 0.25)
	r.AuthStaleRebuilds.Inc()

	if got := gaugeValue(t, r.Connections); got != 3 {
		t.Fatalf("Connections = %v, want 3", got)
	}
	if got := gaugeVecValue(t, r.WorkerQueueDepth, "2"); got != 7 {
		t.Fatalf("WorkerQueueDepth[2] = %v, want 7", got)
	}
	if got := gaugeVecValue(t, r.CursorLag, "00ab", "dcp-1"); got != 42 {
		t.Fatalf("CursorLag = %v, want 42", got)
	}
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func gaugeVecValue(t *testing.T, v *prometheus.GaugeVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	if err := v.WithLabelValues(labels...).Write(&m); err != nil {
		t.Fatalf("write gauge vec: %v", err)
	}
	return m.GetGauge().GetValue()
}
