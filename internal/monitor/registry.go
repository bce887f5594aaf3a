package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/bypass"
	"github.com/septivank/energy-bypass-monitor/internal/history"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
)

// Filter selects pairs in fleet listings
type Filter string

const (
	FilterAll    Filter = "all"
	FilterActive Filter = "active"
	FilterBypass Filter = "bypass"
)

// ParseFilter maps a query value to a Filter. Empty means FilterAll.
func ParseFilter(s string) (Filter, error) {
	switch Filter(s) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterActive, FilterBypass:
		return Filter(s), nil
	default:
		return "", fmt.Errorf("unknown filter %q", s)
	}
}

// Snapshot is a consistent copy of one pair and its latest verdict
type Snapshot struct {
	State   meter.PairState
	Verdict bypass.Verdict
}

// PairView is the live summary of a pair as served to dashboards
type PairView struct {
	PairID         string         `json:"pair_id"`
	MeterID        string         `json:"meter_id"`
	Display        meter.Reading  `json:"display"`
	Client         *meter.Reading `json:"client,omitempty"`
	Pole           *meter.Reading `json:"pole,omitempty"`
	Online         bool           `json:"online"`
	AnyActive      bool           `json:"any_active"`
	LastUpdate     time.Time      `json:"last_update"`
	BypassedEnergy float64        `json:"bypassed_energy"`
	Verdict        bypass.Verdict `json:"verdict"`
}

// View renders the snapshot for dashboards
func (s Snapshot) View() PairView {
	meterID := s.State.PairID
	if s.State.Client != nil && s.State.Client.MeterID != "" {
		meterID = s.State.Client.MeterID
	}
	return PairView{
		PairID:         s.State.PairID,
		MeterID:        meterID,
		Display:        s.State.Display(),
		Client:         s.State.Client,
		Pole:           s.State.Pole,
		Online:         s.State.DeviceActive,
		AnyActive:      s.State.AnyActive(),
		LastUpdate:     s.State.LastUpdate,
		BypassedEnergy: s.State.BypassedEnergy,
		Verdict:        s.Verdict,
	}
}

type entry struct {
	state   *meter.PairState
	verdict bypass.Verdict
}

func (e *entry) snapshot() Snapshot {
	return Snapshot{State: e.state.Clone(), Verdict: e.verdict}
}

// Registry holds the live state of every known pair
type Registry struct {
	evaluator *bypass.Evaluator

	mu    sync.RWMutex
	pairs map[string]*entry
}

// NewRegistry creates an empty registry evaluating pairs with evaluator
func NewRegistry(evaluator *bypass.Evaluator) *Registry {
	return &Registry{
		evaluator: evaluator,
		pairs:     make(map[string]*entry),
	}
}

// Apply records r as the latest reading of its pair side, re-evaluates the
// pair and returns the result. The second result is false when the reading
// carries an unknown role.
func (reg *Registry) Apply(r meter.Reading, at time.Time) (Snapshot, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	e, ok := reg.pairs[r.PairID]
	if !ok {
		e = &entry{state: meter.NewPairState(r.PairID)}
	}
	if !e.state.Apply(r, at) {
		return Snapshot{}, false
	}
	reg.pairs[r.PairID] = e

	e.verdict = reg.evaluator.Evaluate(e.state.Client, e.state.Pole)
	e.state.BypassedEnergy = e.verdict.BypassedEnergyKWh
	return e.snapshot(), true
}

// Seed loads previously cached states without overwriting pairs that
// already received readings
func (reg *Registry) Seed(states []meter.PairState) int {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	seeded := 0
	for _, s := range states {
		if s.PairID == "" {
			continue
		}
		if _, exists := reg.pairs[s.PairID]; exists {
			continue
		}
		state := s.Clone()
		e := &entry{state: &state}
		e.verdict = reg.evaluator.Evaluate(state.Client, state.Pole)
		e.state.BypassedEnergy = e.verdict.BypassedEnergyKWh
		reg.pairs[s.PairID] = e
		seeded++
	}
	return seeded
}

// MarkOffline flags pairID as offline. The second result is false for
// unknown pairs.
func (reg *Registry) MarkOffline(pairID string) (Snapshot, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	e, ok := reg.pairs[pairID]
	if !ok {
		return Snapshot{}, false
	}
	e.state.DeviceActive = false
	return e.snapshot(), true
}

// Get returns the snapshot of pairID
func (reg *Registry) Get(pairID string) (Snapshot, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	e, ok := reg.pairs[pairID]
	if !ok {
		return Snapshot{}, false
	}
	return e.snapshot(), true
}

// List returns every pair ordered by pair id
func (reg *Registry) List() []Snapshot {
	reg.mu.RLock()
	out := make([]Snapshot, 0, len(reg.pairs))
	for _, e := range reg.pairs {
		out = append(out, e.snapshot())
	}
	reg.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].State.PairID < out[j].State.PairID
	})
	return out
}

// FleetSnapshots converts the registry into analytics input. History is left
// for the caller to attach.
func (reg *Registry) FleetSnapshots() []history.PairSnapshot {
	snaps := reg.List()
	out := make([]history.PairSnapshot, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, history.PairSnapshot{
			PairID: s.State.PairID,
			Client: s.State.Client,
			Pole:   s.State.Pole,
		})
	}
	return out
}

// FindPairByMeter returns the pair whose client reading reports meterID
func (reg *Registry) FindPairByMeter(meterID string) (string, bool) {
	for _, s := range reg.List() {
		if s.State.Client != nil && s.State.Client.MeterID == meterID {
			return s.State.PairID, true
		}
	}
	return "", false
}

// FilterPairs keeps the snapshots matching f. Active means either meter
// reports itself active; bypass means the pair verdict is active.
func FilterPairs(snaps []Snapshot, f Filter) []Snapshot {
	if f == FilterAll || f == "" {
		return snaps
	}
	out := make([]Snapshot, 0, len(snaps))
	for _, s := range snaps {
		switch f {
		case FilterActive:
			if s.State.AnyActive() {
				out = append(out, s)
			}
		case FilterBypass:
			if s.Verdict.Active {
				out = append(out, s)
			}
		}
	}
	return out
}

// Views renders snapshots for dashboards
func Views(snaps []Snapshot) []PairView {
	out := make([]PairView, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.View())
	}
	return out
}
