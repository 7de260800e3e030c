package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistersAllCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RPCCallsIssued.WithLabelValues("0x1000", "0x0001").Inc()
	m.RPCCallsCompleted.WithLabelValues("success").Inc()
	m.TPTransfersStarted.Inc()
	m.SDServicesOffered.Set(2)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one registered metric family")
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "someip_rpc_calls_issued_total" {
			found = true
			if len(f.Metric) != 1 {
				t.Fatalf("expected one labeled series, got %d", len(f.Metric))
			}
		}
	}
	if !found {
		t.Fatal("expected someip_rpc_calls_issued_total to be registered")
	}
}

func TestGaugeReflectsSet(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.TPTransfersActive.Set(3)

	var out dto.Metric
	if err := m.TPTransfersActive.Write(&out); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if out.GetGauge().GetValue() != 3 {
		t.Fatalf("expected gauge value 3, got %v", out.GetGauge().GetValue())
	}
}
