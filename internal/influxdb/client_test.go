package influxdb_test

import (
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/septivank/energy-bypass-monitor/internal/bypass"
	"github.com/septivank/energy-bypass-monitor/internal/influxdb"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
)

func fields(p *write.Point) map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range p.FieldList() {
		out[f.Key] = f.Value
	}
	return out
}

func TestReadingPoint(t *testing.T) {
	r := meter.Reading{
		PairID:    "P1",
		Role:      meter.RoleClient,
		MeterID:   "M1",
		Timestamp: 1700000000,
		Energy:    12.5,
		Status:    meter.StatusActive,
	}

	p := influxdb.ReadingPoint(r, time.Unix(1700000100, 0))

	if p.Name() != "meter_reading" {
		t.Errorf("Expected measurement meter_reading, got %s", p.Name())
	}
	if !p.Time().Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Expected reading timestamp, got %v", p.Time())
	}

	tags := make(map[string]string)
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if tags["pair_id"] != "P1" || tags["role"] != "client" || tags["meter_id"] != "M1" {
		t.Errorf("Unexpected tags %v", tags)
	}

	if got := fields(p)["energy"]; got != 12.5 {
		t.Errorf("Expected energy field 12.5, got %v", got)
	}
}

func TestReadingPoint_FallsBackToReceivedAt(t *testing.T) {
	received := time.Unix(1700000100, 0)
	p := influxdb.ReadingPoint(meter.Reading{PairID: "P1", Role: meter.RolePole}, received)
	if !p.Time().Equal(received) {
		t.Errorf("Expected received time, got %v", p.Time())
	}
}

func TestVerdictPoint(t *testing.T) {
	client := &meter.Reading{Energy: 10, Current: 2, TheftDetected: true}
	pole := &meter.Reading{PoleEnergy: 15, SecondaryCurrent: 6}
	v := bypass.NewEvaluator(bypass.RateDashboard).Evaluate(client, pole)

	p := influxdb.VerdictPoint("P1", v, time.Unix(1700000000, 0))

	m := fields(p)
	if m["active"] != true {
		t.Errorf("Expected active field true, got %v", m["active"])
	}
	if m["bypassed_energy_kwh"] != 5.0 {
		t.Errorf("Expected 5 kWh bypassed, got %v", m["bypassed_energy_kwh"])
	}
	if m["current_ratio"] != 3.0 {
		t.Errorf("Expected ratio 3, got %v", m["current_ratio"])
	}

	undefined := influxdb.VerdictPoint("P1", bypass.Verdict{}, time.Unix(1700000000, 0))
	for _, f := range undefined.FieldList() {
		if f.Key == "current_ratio" {
			t.Error("Expected no ratio field when undefined")
		}
	}
}
