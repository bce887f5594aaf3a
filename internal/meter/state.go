package meter

import "time"

// PairState is the in-memory view of one client/pole pair
type PairState struct {
	PairID         string    `json:"pair_id"`
	Client         *Reading  `json:"client,omitempty"`
	Pole           *Reading  `json:"pole,omitempty"`
	LastUpdate     time.Time `json:"last_update"`
	DeviceActive   bool      `json:"device_active"`
	BypassedEnergy float64   `json:"bypassed_energy"`
}

// NewPairState creates the state for a pair on its first reading
func NewPairState(pairID string) *PairState {
	return &PairState{PairID: pairID, DeviceActive: true}
}

// Apply records r as the latest reading for its role. Readings with an
// unknown role are ignored and reported as not applied.
func (s *PairState) Apply(r Reading, at time.Time) bool {
	r = Normalize(r)
	switch r.Role {
	case RoleClient:
		s.Client = &r
	case RolePole:
		s.Pole = &r
	default:
		return false
	}
	s.LastUpdate = at
	s.DeviceActive = true
	return true
}

// Clone returns a deep copy safe to hand to other goroutines
func (s *PairState) Clone() PairState {
	out := *s
	if s.Client != nil {
		c := *s.Client
		out.Client = &c
	}
	if s.Pole != nil {
		p := *s.Pole
		out.Pole = &p
	}
	return out
}

// Display returns the client reading as it should be shown: when the pair is
// offline the instantaneous values read 0 while cumulative energy is kept.
func (s PairState) Display() Reading {
	if s.Client == nil {
		return Reading{PairID: s.PairID, Role: RoleClient}
	}
	r := *s.Client
	if !s.DeviceActive {
		r.Voltage = 0
		r.Current = 0
		r.Power = 0
		r.PowerFactor = 0
		r.Frequency = 0
	}
	return r
}

// AnyActive reports whether either meter of the pair reports itself active
func (s PairState) AnyActive() bool {
	return (s.Client != nil && s.Client.IsActive()) || (s.Pole != nil && s.Pole.IsActive())
}

// TheftFlagged reports whether the current client reading carries the
// firmware theft flag
func (s PairState) TheftFlagged() bool {
	return s.Client != nil && s.Client.TheftDetected
}
