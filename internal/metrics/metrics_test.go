package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	if c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestRecordBinding_IncrementsCounterWithStrategy は解決経路ラベル付きで
// 成功カウンタが増加することを検証する。
func TestRecordBinding_IncrementsCounterWithStrategy(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBinding("created")
	c.RecordBinding("created")
	c.RecordBinding("cached_valid")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "gateway_binding_total" {
			found = true
			if len(mf.GetMetric()) != 2 {
				t.Fatalf("expected 2 label combinations, got %d", len(mf.GetMetric()))
			}
			for _, m := range mf.GetMetric() {
				label := m.GetLabel()[0].GetValue()
				val := m.GetCounter().GetValue()
				switch label {
				case "created":
					if val != 2 {
						t.Errorf("binding_total{strategy=created} = %v, want 2", val)
					}
				case "cached_valid":
					if val != 1 {
						t.Errorf("binding_total{strategy=cached_valid} = %v, want 1", val)
					}
				default:
					t.Errorf("unexpected label value: %s", label)
				}
			}
		}
	}
	if !found {
		t.Error("gateway_binding_total metric not found")
	}
}

// TestRecordBindingFailure_IncrementsCounter は失敗カウンタがエラーコード別に
// 増加することを検証する。
func TestRecordBindingFailure_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBindingFailure("BINDING_EXHAUSTED")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "gateway_binding_failure_total" {
			found = true
			val := mf.GetMetric()[0].GetCounter().GetValue()
			if val != 1 {
				t.Errorf("binding_failure_total = %v, want 1", val)
			}
		}
	}
	if !found {
		t.Error("gateway_binding_failure_total metric not found")
	}
}

// TestRecordBindingDuration_ObservesHistogram は所要時間ヒストグラムに
// 値が記録されることを検証する。
func TestRecordBindingDuration_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBindingDuration(100 * time.Millisecond)
	c.RecordBindingDuration(2 * time.Second)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "gateway_binding_duration_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は0.1 + 2.0 = 2.1秒
			if h.GetSampleSum() < 2.0 || h.GetSampleSum() > 2.2 {
				t.Errorf("sample_sum = %v, want ~2.1", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("gateway_binding_duration_seconds metric not found")
	}
}

// TestRecordContactProvisioned_IncrementsCounter はピア作成カウンタが増加することを検証する。
func TestRecordContactProvisioned_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordContactProvisioned()
	c.RecordContactProvisioned()
	c.RecordContactProvisioned()

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "gateway_contacts_provisioned_total" {
			found = true
			val := mf.GetMetric()[0].GetCounter().GetValue()
			if val != 3 {
				t.Errorf("contacts_provisioned_total = %v, want 3", val)
			}
		}
	}
	if !found {
		t.Error("gateway_contacts_provisioned_total metric not found")
	}
}

// TestMultipleCollectors_IndependentRegistries は異なるレジストリで独立に動作することを検証する。
func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	c2 := NewCollector(reg2)

	c1.RecordBinding("created")
	c2.RecordBinding("created")
	c2.RecordBinding("created")

	metrics1, _ := reg1.Gather()
	metrics2, _ := reg2.Gather()

	var val1, val2 float64
	for _, mf := range metrics1 {
		if mf.GetName() == "gateway_binding_total" {
			val1 = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	for _, mf := range metrics2 {
		if mf.GetName() == "gateway_binding_total" {
			val2 = mf.GetMetric()[0].GetCounter().GetValue()
		}
	}

	if val1 != 1 {
		t.Errorf("reg1 binding_total = %v, want 1", val1)
	}
	if val2 != 2 {
		t.Errorf("reg2 binding_total = %v, want 2", val2)
	}
}
