package meter_test

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/meter"
)

func TestUnmarshalReading_DevicePayload(t *testing.T) {
	payload := `{
		"meter_id": "MTR-001",
		"timestamp": 1735468245,
		"voltage": 229.4,
		"current": "2.000",
		"power": null,
		"energy": 10.0,
		"power_factor": "bad",
		"status": "active",
		"theft_detected": true
	}`

	var r meter.Reading
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		t.Fatalf("Failed to unmarshal reading: %v", err)
	}

	if r.Timestamp != 1735468245 {
		t.Errorf("Expected timestamp 1735468245, got %d", r.Timestamp)
	}
	if r.Current != 2.0 {
		t.Errorf("Expected numeric string current to decode as 2.0, got %f", r.Current)
	}
	if r.Power != 0 {
		t.Errorf("Expected null power to decode as 0, got %f", r.Power)
	}
	if r.PowerFactor != 0 {
		t.Errorf("Expected invalid power factor to decode as 0, got %f", r.PowerFactor)
	}
	if r.Frequency != 0 {
		t.Errorf("Expected absent frequency to decode as 0, got %f", r.Frequency)
	}
	if !r.TheftDetected {
		t.Error("Expected theft_detected to be true")
	}
	if !r.IsActive() {
		t.Error("Expected status active")
	}
}

func TestUnmarshalReading_PolePayload(t *testing.T) {
	payload := `{"pole_energy": 15.0, "second_pzem_current": 6.0, "theft_detected": 1}`

	var r meter.Reading
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		t.Fatalf("Failed to unmarshal reading: %v", err)
	}

	if r.PoleEnergy != 15.0 {
		t.Errorf("Expected pole energy 15.0, got %f", r.PoleEnergy)
	}
	if r.PoleCurrent() != 6.0 {
		t.Errorf("Expected pole current 6.0, got %f", r.PoleCurrent())
	}
	if !r.TheftDetected {
		t.Error("Expected numeric theft flag 1 to decode as true")
	}
}

func TestCurrentFallbacks(t *testing.T) {
	r := meter.Reading{AvgClientCurrent: 1.5, AvgPoleCurrent: 4.5}

	if r.ClientCurrent() != 1.5 {
		t.Errorf("Expected client current fallback 1.5, got %f", r.ClientCurrent())
	}
	if r.PoleCurrent() != 4.5 {
		t.Errorf("Expected pole current fallback 4.5, got %f", r.PoleCurrent())
	}
}

func TestNormalize_NonFinite(t *testing.T) {
	r := meter.Normalize(meter.Reading{Voltage: math.NaN(), Energy: math.Inf(1), Current: 3})

	if r.Voltage != 0 || r.Energy != 0 {
		t.Errorf("Expected non-finite values to normalize to 0, got voltage=%f energy=%f", r.Voltage, r.Energy)
	}
	if r.Current != 3 {
		t.Errorf("Expected finite current to be kept, got %f", r.Current)
	}
}

func TestHistoryFromSnapshot_SortsAndSkipsBadKeys(t *testing.T) {
	snapshot := map[string]meter.Reading{
		"1700000300": {Energy: 3},
		"1700000100": {Energy: 1},
		"not-a-ts":   {Energy: 99},
		"1700000200": {Energy: 2},
	}

	records := meter.HistoryFromSnapshot(snapshot)

	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	for i, want := range []int64{1700000100, 1700000200, 1700000300} {
		if records[i].Timestamp != want {
			t.Errorf("Expected record %d at %d, got %d", i, want, records[i].Timestamp)
		}
	}
}

func TestPairState_ApplyAndDisplay(t *testing.T) {
	state := meter.NewPairState("P1")
	now := time.Unix(1700000000, 0)

	if !state.Apply(meter.Reading{Role: meter.RoleClient, Voltage: 230, Current: 2, Energy: 10}, now) {
		t.Fatal("Expected client reading to be applied")
	}
	if state.Apply(meter.Reading{Role: "meter"}, now) {
		t.Error("Expected unknown role to be rejected")
	}

	state.DeviceActive = false
	display := state.Display()

	if display.Voltage != 0 || display.Current != 0 {
		t.Errorf("Expected offline display to zero live values, got V=%f I=%f", display.Voltage, display.Current)
	}
	if display.Energy != 10 {
		t.Errorf("Expected offline display to keep energy, got %f", display.Energy)
	}

	clone := state.Clone()
	clone.Client.Energy = 42
	if state.Client.Energy != 10 {
		t.Error("Expected clone to be independent of the original state")
	}
}
