package meter

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/septivank/energy-bypass-monitor/tools/timeparser"
)

// Role identifies which side of a pair a meter sits on
type Role string

const (
	RoleClient Role = "client"
	RolePole   Role = "pole"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RoleClient || r == RolePole
}

// Status is the device liveness as last reported by the meter itself
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Reading is one snapshot from one physical meter.
//
// JSON field names follow the firmware payload: the pole meter reports its
// energy as pole_energy and its comparison current as second_pzem_current.
type Reading struct {
	PairID           string  `json:"pair_id,omitempty"`
	Role             Role    `json:"role,omitempty"`
	MeterID          string  `json:"meter_id,omitempty"`
	Timestamp        int64   `json:"timestamp"`
	Voltage          float64 `json:"voltage"`
	Current          float64 `json:"current"`
	Power            float64 `json:"power"`
	Energy           float64 `json:"energy"`
	PowerFactor      float64 `json:"power_factor"`
	Frequency        float64 `json:"frequency"`
	PoleEnergy       float64 `json:"pole_energy,omitempty"`
	SecondaryCurrent float64 `json:"second_pzem_current,omitempty"`
	AvgClientCurrent float64 `json:"avg_pzem_current,omitempty"`
	AvgPoleCurrent   float64 `json:"avg_ct_current,omitempty"`
	CurrentRatio     float64 `json:"current_ratio,omitempty"`
	Status           Status  `json:"status"`
	TheftDetected    bool    `json:"theft_detected"`
}

// wireReading accepts the loosely typed payloads the devices emit
type wireReading struct {
	PairID           string    `json:"pair_id"`
	Role             Role      `json:"role"`
	MeterID          string    `json:"meter_id"`
	Timestamp        flexFloat `json:"timestamp"`
	Voltage          flexFloat `json:"voltage"`
	Current          flexFloat `json:"current"`
	Power            flexFloat `json:"power"`
	Energy           flexFloat `json:"energy"`
	PowerFactor      flexFloat `json:"power_factor"`
	Frequency        flexFloat `json:"frequency"`
	PoleEnergy       flexFloat `json:"pole_energy"`
	SecondaryCurrent flexFloat `json:"second_pzem_current"`
	AvgClientCurrent flexFloat `json:"avg_pzem_current"`
	AvgPoleCurrent   flexFloat `json:"avg_ct_current"`
	CurrentRatio     flexFloat `json:"current_ratio"`
	Status           Status    `json:"status"`
	TheftDetected    flexBool  `json:"theft_detected"`
}

// UnmarshalJSON decodes a device payload. Missing, null or non-numeric
// measurements decode as 0 instead of failing the whole snapshot.
func (r *Reading) UnmarshalJSON(data []byte) error {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*r = Reading{
		PairID:           w.PairID,
		Role:             w.Role,
		MeterID:          w.MeterID,
		Timestamp:        timeparser.NormalizeEpoch(int64(w.Timestamp)),
		Voltage:          float64(w.Voltage),
		Current:          float64(w.Current),
		Power:            float64(w.Power),
		Energy:           float64(w.Energy),
		PowerFactor:      float64(w.PowerFactor),
		Frequency:        float64(w.Frequency),
		PoleEnergy:       float64(w.PoleEnergy),
		SecondaryCurrent: float64(w.SecondaryCurrent),
		AvgClientCurrent: float64(w.AvgClientCurrent),
		AvgPoleCurrent:   float64(w.AvgPoleCurrent),
		CurrentRatio:     float64(w.CurrentRatio),
		Status:           w.Status,
		TheftDetected:    bool(w.TheftDetected),
	}
	return nil
}

// Normalize replaces NaN and infinite measurements with 0
func Normalize(r Reading) Reading {
	r.Voltage = finite(r.Voltage)
	r.Current = finite(r.Current)
	r.Power = finite(r.Power)
	r.Energy = finite(r.Energy)
	r.PowerFactor = finite(r.PowerFactor)
	r.Frequency = finite(r.Frequency)
	r.PoleEnergy = finite(r.PoleEnergy)
	r.SecondaryCurrent = finite(r.SecondaryCurrent)
	r.AvgClientCurrent = finite(r.AvgClientCurrent)
	r.AvgPoleCurrent = finite(r.AvgPoleCurrent)
	r.CurrentRatio = finite(r.CurrentRatio)
	return r
}

// ClientCurrent returns the client-side current, falling back to the
// averaged PZEM value stored on history records
func (r Reading) ClientCurrent() float64 {
	if r.Current != 0 {
		return r.Current
	}
	return r.AvgClientCurrent
}

// PoleCurrent returns the pole-side comparison current, falling back to the
// averaged CT value stored on history records
func (r Reading) PoleCurrent() float64 {
	if r.SecondaryCurrent != 0 {
		return r.SecondaryCurrent
	}
	return r.AvgPoleCurrent
}

// IsActive reports whether the meter last reported itself active
func (r Reading) IsActive() bool {
	return r.Status == StatusActive
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	s := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*f = 0
		return nil
	}
	*f = flexFloat(v)
	return nil
}

type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(string(data)), `"`))
	switch s {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}
