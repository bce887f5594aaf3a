package bypass_test

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/septivank/energy-bypass-monitor/internal/bypass"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
	"github.com/shopspring/decimal"
)

const tolerance = 1e-9

func TestEvaluate_TheftFlagOffGatesBypass(t *testing.T) {
	evaluator := bypass.NewEvaluator(bypass.RateAlert)

	client := &meter.Reading{Energy: 10.0, TheftDetected: false}
	pole := &meter.Reading{PoleEnergy: 15.0}

	verdict := evaluator.Evaluate(client, pole)

	if verdict.Active {
		t.Error("Expected inactive verdict when theft flag is off")
	}
	if verdict.BypassedEnergyKWh != 0 {
		t.Errorf("Expected bypassed energy 0, got %f", verdict.BypassedEnergyKWh)
	}
	if !verdict.EstimatedLoss.IsZero() {
		t.Errorf("Expected zero loss, got %s", verdict.EstimatedLoss)
	}
}

func TestEvaluate_TheftFlagOn(t *testing.T) {
	evaluator := bypass.NewEvaluator(bypass.RateAlert)

	client := &meter.Reading{Energy: 10.0, Current: 2.0, TheftDetected: true}
	pole := &meter.Reading{PoleEnergy: 15.0, SecondaryCurrent: 6.0}

	verdict := evaluator.Evaluate(client, pole)

	if !verdict.Active {
		t.Fatal("Expected active verdict")
	}
	if math.Abs(verdict.BypassedEnergyKWh-5.0) > tolerance {
		t.Errorf("Expected bypassed energy 5.0, got %f", verdict.BypassedEnergyKWh)
	}
	if verdict.CurrentRatio.String() != "3.00" {
		t.Errorf("Expected current ratio 3.00, got %s", verdict.CurrentRatio)
	}

	expectedLoss := decimal.RequireFromString("317.50")
	if !verdict.EstimatedLoss.Equal(expectedLoss) {
		t.Errorf("Expected loss %s, got %s", expectedLoss, verdict.EstimatedLoss)
	}
}

func TestEvaluate_ClientAheadOfPole(t *testing.T) {
	evaluator := bypass.NewEvaluator(bypass.RateDashboard)

	verdict := evaluator.Evaluate(
		&meter.Reading{Energy: 20.0, TheftDetected: true},
		&meter.Reading{PoleEnergy: 15.0},
	)

	if verdict.BypassedEnergyKWh != 0 {
		t.Errorf("Expected bypassed energy 0 when client >= pole, got %f", verdict.BypassedEnergyKWh)
	}
}

func TestEvaluate_MissingReadings(t *testing.T) {
	evaluator := bypass.NewEvaluator(bypass.RateDashboard)

	verdict := evaluator.Evaluate(nil, nil)

	if verdict.Active || verdict.BypassedEnergyKWh != 0 || verdict.CurrentRatio.Defined {
		t.Errorf("Expected empty verdict for missing readings, got %+v", verdict)
	}
}

func TestGatedBypass_Property(t *testing.T) {
	cases := []struct {
		theft        bool
		pole, client float64
	}{
		{false, 15, 10},
		{false, 5, 10},
		{true, 5, 10},
		{true, 10, 10},
		{true, 15.25, 10.125},
		{true, 1000.5, 0},
	}

	for _, c := range cases {
		got := bypass.GatedBypass(c.theft, c.pole, c.client)
		if !c.theft || c.client >= c.pole {
			if got != 0 {
				t.Errorf("GatedBypass(%v, %f, %f) = %f, want 0", c.theft, c.pole, c.client, got)
			}
			continue
		}
		if math.Abs(got-(c.pole-c.client)) > tolerance {
			t.Errorf("GatedBypass(%v, %f, %f) = %f, want %f", c.theft, c.pole, c.client, got, c.pole-c.client)
		}
	}
}

func TestRawBypassGap_IgnoresFlag(t *testing.T) {
	if got := bypass.RawBypassGap(15, 10); got != 5 {
		t.Errorf("Expected raw gap 5, got %f", got)
	}
	if got := bypass.RawBypassGap(5, 10); got != 0 {
		t.Errorf("Expected raw gap clamped to 0, got %f", got)
	}
}

func TestCurrentRatio_ZeroClientCurrent(t *testing.T) {
	ratio := bypass.CurrentRatio(2.0, 0)

	if !ratio.Defined {
		t.Fatal("Expected defined ratio when pole current is positive")
	}
	if math.IsInf(ratio.Value, 0) {
		t.Fatal("Expected finite ratio for zero client current")
	}
	if math.Abs(ratio.Value-2000) > tolerance {
		t.Errorf("Expected ratio 2000 using the 0.001 floor, got %f", ratio.Value)
	}
}

func TestCurrentRatio_NoPoleCurrent(t *testing.T) {
	ratio := bypass.CurrentRatio(0, 2.0)

	if ratio.Defined {
		t.Error("Expected undefined ratio when pole current is 0")
	}
	if ratio.String() != "N/A" {
		t.Errorf("Expected N/A, got %s", ratio.String())
	}

	body, err := json.Marshal(ratio)
	if err != nil {
		t.Fatalf("Failed to marshal ratio: %v", err)
	}
	if string(body) != "null" {
		t.Errorf("Expected undefined ratio to encode as null, got %s", body)
	}
}

func TestEstimatedLoss_Rounding(t *testing.T) {
	loss := bypass.EstimatedLoss(1.2345, bypass.RateDashboard)

	// 1.2345 * 51.79 = 63.934755
	if loss.StringFixed(2) != "63.93" {
		t.Errorf("Expected 63.93, got %s", loss.StringFixed(2))
	}
}
