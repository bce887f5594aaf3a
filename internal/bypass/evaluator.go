package bypass

import (
	"encoding/json"
	"fmt"

	"github.com/septivank/energy-bypass-monitor/internal/meter"
	"github.com/shopspring/decimal"
)

// Tariff rates per kWh. The dashboard cost estimate and the alert email loss
// figure have always used different rates; callers pick one explicitly.
const (
	RateDashboard = 51.79
	RateAlert     = 63.5
)

// MinClientCurrent replaces a zero client current before computing the ratio
const MinClientCurrent = 0.001

// Ratio is the pole/client current ratio. It is undefined when the pole
// reports no current.
type Ratio struct {
	Value   float64
	Defined bool
}

// String renders the ratio with 2 decimals, or N/A when undefined
func (r Ratio) String() string {
	if !r.Defined {
		return "N/A"
	}
	return fmt.Sprintf("%.2f", r.Value)
}

// MarshalJSON encodes an undefined ratio as null
func (r Ratio) MarshalJSON() ([]byte, error) {
	if !r.Defined {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}

// UnmarshalJSON decodes null as an undefined ratio
func (r *Ratio) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Ratio{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Ratio{Value: v, Defined: true}
	return nil
}

// Verdict is the outcome of comparing a client and a pole reading
type Verdict struct {
	Active            bool            `json:"active"`
	BypassedEnergyKWh float64         `json:"bypassed_energy_kwh"`
	CurrentRatio      Ratio           `json:"current_ratio"`
	EstimatedLoss     decimal.Decimal `json:"estimated_loss"`
	ClientCurrent     float64         `json:"client_current"`
	PoleCurrent       float64         `json:"pole_current"`
	ClientEnergy      float64         `json:"client_energy"`
	PoleEnergy        float64         `json:"pole_energy"`
}

// Evaluator turns a reading pair into a Verdict at a fixed tariff rate
type Evaluator struct {
	rate float64
}

// NewEvaluator creates an evaluator pricing bypassed energy at rate
func NewEvaluator(rate float64) *Evaluator {
	return &Evaluator{rate: rate}
}

// Rate returns the tariff rate used for loss estimates
func (e *Evaluator) Rate() float64 {
	return e.rate
}

// Evaluate compares the latest client and pole readings. Either side may be
// nil; missing values count as 0.
func (e *Evaluator) Evaluate(client, pole *meter.Reading) Verdict {
	var c, p meter.Reading
	if client != nil {
		c = meter.Normalize(*client)
	}
	if pole != nil {
		p = meter.Normalize(*pole)
	}

	v := Verdict{
		Active:        c.TheftDetected,
		ClientCurrent: c.Current,
		PoleCurrent:   p.SecondaryCurrent,
		ClientEnergy:  c.Energy,
		PoleEnergy:    p.PoleEnergy,
	}
	v.BypassedEnergyKWh = GatedBypass(v.Active, v.PoleEnergy, v.ClientEnergy)
	v.CurrentRatio = CurrentRatio(v.PoleCurrent, v.ClientCurrent)
	v.EstimatedLoss = EstimatedLoss(v.BypassedEnergyKWh, e.rate)
	return v
}

// GatedBypass is the live-dashboard policy: the energy gap counts only while
// the client reading carries the theft flag
func GatedBypass(theftDetected bool, poleEnergy, clientEnergy float64) float64 {
	if !theftDetected {
		return 0
	}
	return RawBypassGap(poleEnergy, clientEnergy)
}

// RawBypassGap is the fleet-analytics policy: the positive energy gap
// regardless of the theft flag
func RawBypassGap(poleEnergy, clientEnergy float64) float64 {
	gap := poleEnergy - clientEnergy
	if gap > 0 {
		return gap
	}
	return 0
}

// CurrentRatio computes pole/client current. A zero or negative client
// current is floored to MinClientCurrent.
func CurrentRatio(poleCurrent, clientCurrent float64) Ratio {
	if poleCurrent <= 0 {
		return Ratio{}
	}
	if clientCurrent <= 0 {
		clientCurrent = MinClientCurrent
	}
	return Ratio{Value: poleCurrent / clientCurrent, Defined: true}
}

// EstimatedLoss prices energyKWh at rate, rounded to 2 decimals
func EstimatedLoss(energyKWh, rate float64) decimal.Decimal {
	if energyKWh <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(energyKWh).Mul(decimal.NewFromFloat(rate)).Round(2)
}
