package history

import (
	"math"
	"sort"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/bypass"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
	"github.com/shopspring/decimal"
)

// Usage distribution thresholds in kWh
const (
	HighUsageKWh   = 100.0
	MediumUsageKWh = 50.0
)

// PairSnapshot is the latest reading of each side of a pair plus its client
// history
type PairSnapshot struct {
	PairID  string
	Client  *meter.Reading
	Pole    *meter.Reading
	History []meter.HistoryRecord
}

// MeterID returns the client meter id, or the pair id when unset
func (p PairSnapshot) MeterID() string {
	if p.Client != nil && p.Client.MeterID != "" {
		return p.Client.MeterID
	}
	return p.PairID
}

// Consumer is one pair's consumption figures
type Consumer struct {
	PairID         string  `json:"pair_id"`
	MeterID        string  `json:"meter_id"`
	Energy         float64 `json:"energy"`
	Power          float64 `json:"power"`
	BypassedEnergy float64 `json:"bypassed_energy"`
}

// RiskProfile counts theft incidents of one pair
type RiskProfile struct {
	PairID       string `json:"pair_id"`
	MeterID      string `json:"meter_id"`
	Incidents    int    `json:"incidents"`
	LastIncident int64  `json:"last_incident"`
}

// FleetTotals sums the latest readings across pairs. Bypassed energy here is
// the raw pole/client gap, not gated by the theft flag.
type FleetTotals struct {
	TotalPairs          int             `json:"total_pairs"`
	TotalEnergy         float64         `json:"total_energy"`
	TotalBypassedEnergy float64         `json:"total_bypassed_energy"`
	ActiveCount         int             `json:"active_count"`
	OnlineCount         int             `json:"online_count"`
	Revenue             decimal.Decimal `json:"revenue"`
	EnergyLost          decimal.Decimal `json:"energy_lost"`
}

// Consumers builds consumer rows for pairs with a client reading
func Consumers(pairs []PairSnapshot) []Consumer {
	out := make([]Consumer, 0, len(pairs))
	for _, p := range pairs {
		if p.Client == nil {
			continue
		}
		poleEnergy := 0.0
		if p.Pole != nil {
			poleEnergy = p.Pole.PoleEnergy
		}
		out = append(out, Consumer{
			PairID:         p.PairID,
			MeterID:        p.MeterID(),
			Energy:         p.Client.Energy,
			Power:          p.Client.Power,
			BypassedEnergy: bypass.RawBypassGap(poleEnergy, p.Client.Energy),
		})
	}
	return out
}

// RankByEnergy returns consumers ordered by energy, highest first
func RankByEnergy(consumers []Consumer) []Consumer {
	out := make([]Consumer, len(consumers))
	copy(out, consumers)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Energy > out[j].Energy
	})
	return out
}

// TopN returns at most n leading items
func TopN[T any](items []T, n int) []T {
	if n < 0 {
		n = 0
	}
	if len(items) <= n {
		return items
	}
	return items[:n]
}

// BuildRiskProfiles counts theft-flagged history records per pair. Pairs
// without incidents are left out.
func BuildRiskProfiles(pairs []PairSnapshot) []RiskProfile {
	out := make([]RiskProfile, 0)
	for _, p := range pairs {
		if p.Client == nil {
			continue
		}
		profile := RiskProfile{PairID: p.PairID, MeterID: p.MeterID()}
		for _, rec := range p.History {
			if !rec.Reading.TheftDetected {
				continue
			}
			profile.Incidents++
			if rec.Timestamp > profile.LastIncident {
				profile.LastIncident = rec.Timestamp
			}
		}
		if profile.Incidents > 0 {
			out = append(out, profile)
		}
	}
	return out
}

// RankByIncidentCount returns profiles ordered by incident count, highest first
func RankByIncidentCount(profiles []RiskProfile) []RiskProfile {
	out := make([]RiskProfile, len(profiles))
	copy(out, profiles)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Incidents > out[j].Incidents
	})
	return out
}

// TotalsAcrossFleet sums energy over pairs that have a client reading and
// prices it at rate
func TotalsAcrossFleet(pairs []PairSnapshot, rate float64) FleetTotals {
	totals := FleetTotals{TotalPairs: len(pairs)}
	for _, p := range pairs {
		if p.Client == nil {
			continue
		}
		poleEnergy := 0.0
		if p.Pole != nil {
			poleEnergy = p.Pole.PoleEnergy
		}
		totals.TotalEnergy += p.Client.Energy
		totals.TotalBypassedEnergy += bypass.RawBypassGap(poleEnergy, p.Client.Energy)
		if p.Client.IsActive() {
			totals.ActiveCount++
			totals.OnlineCount++
		}
	}
	totals.Revenue = bypass.EstimatedLoss(totals.TotalEnergy, rate)
	totals.EnergyLost = bypass.EstimatedLoss(totals.TotalBypassedEnergy, rate)
	return totals
}

// DistributionBucket counts consumers in one usage band
type DistributionBucket struct {
	Name  string `json:"name"`
	Count int    `json:"value"`
}

// UsageDistribution splits consumers into high, medium and low usage bands
func UsageDistribution(consumers []Consumer) []DistributionBucket {
	high, medium, low := 0, 0, 0
	for _, c := range consumers {
		switch {
		case c.Energy > HighUsageKWh:
			high++
		case c.Energy >= MediumUsageKWh:
			medium++
		default:
			low++
		}
	}
	return []DistributionBucket{
		{Name: "High Usage (>100 kWh)", Count: high},
		{Name: "Medium Usage (50-100 kWh)", Count: medium},
		{Name: "Low Usage (<50 kWh)", Count: low},
	}
}

// TrendPoint is the incident count of one calendar day
type TrendPoint struct {
	Date      string `json:"date"`
	Incidents int    `json:"incidents"`
}

// BypassTrend counts theft events per local calendar day and returns the
// latest days chronologically
func BypassTrend(pairs []PairSnapshot, days int, loc *time.Location) []TrendPoint {
	if loc == nil {
		loc = time.Local
	}

	type bucket struct {
		day   time.Time
		count int
	}
	buckets := make(map[string]*bucket)
	for _, p := range pairs {
		if p.Client == nil {
			continue
		}
		for _, rec := range p.History {
			if !rec.Reading.TheftDetected {
				continue
			}
			t := rec.Time().In(loc)
			label := t.Format(DayLabelLayout)
			b, ok := buckets[label]
			if !ok {
				b = &bucket{day: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)}
				buckets[label] = b
			}
			b.count++
		}
	}

	points := make([]TrendPoint, 0, len(buckets))
	for label, b := range buckets {
		points = append(points, TrendPoint{Date: label, Incidents: b.count})
	}
	sort.Slice(points, func(i, j int) bool {
		return buckets[points[i].Date].day.Before(buckets[points[j].Date].day)
	})

	if days > 0 && len(points) > days {
		points = points[len(points)-days:]
	}
	return points
}

// IncidentCount counts theft-flagged history records across pairs
func IncidentCount(pairs []PairSnapshot) int {
	n := 0
	for _, p := range pairs {
		if p.Client == nil {
			continue
		}
		for _, rec := range p.History {
			if rec.Reading.TheftDetected {
				n++
			}
		}
	}
	return n
}

// Uptime is the online share of all pairs in percent, to 1 decimal
func Uptime(online, total int) float64 {
	if total <= 0 || online <= 0 {
		return 0
	}
	return math.Round(float64(online)/float64(total)*1000) / 10
}

// TodayBypassPairs counts pairs with a theft event since local midnight
func TodayBypassPairs(pairs []PairSnapshot, now time.Time) int {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Unix()

	n := 0
	for _, p := range pairs {
		for _, rec := range p.History {
			if rec.Reading.TheftDetected && rec.Timestamp >= midnight {
				n++
				break
			}
		}
	}
	return n
}
