package history

import (
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/meter"
)

// DayLabelLayout is the calendar day label used for grouping
const DayLabelLayout = "January 2, 2006"

// Event is one historical reading of a pair
type Event struct {
	PairID string `json:"pair_id"`
	meter.HistoryRecord
}

// EventsFromRecords tags records with their pair id
func EventsFromRecords(pairID string, records []meter.HistoryRecord) []Event {
	events := make([]Event, 0, len(records))
	for _, rec := range records {
		events = append(events, Event{PairID: pairID, HistoryRecord: rec})
	}
	return events
}

// FilterTheftEvents keeps the events whose reading carries the theft flag
func FilterTheftEvents(events []Event) []Event {
	out := make([]Event, 0)
	for _, ev := range events {
		if ev.Reading.TheftDetected {
			out = append(out, ev)
		}
	}
	return out
}

// DayGroup is the events of one local calendar day
type DayGroup struct {
	Label  string  `json:"date"`
	Events []Event `json:"events"`
}

// GroupByCalendarDay buckets events by the local calendar date of their
// timestamp in loc. Groups appear in the order their first event was seen and
// events keep their scan order inside a group.
func GroupByCalendarDay(events []Event, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	index := make(map[string]int)
	groups := make([]DayGroup, 0)
	for _, ev := range events {
		label := time.Unix(ev.Timestamp, 0).In(loc).Format(DayLabelLayout)
		i, ok := index[label]
		if !ok {
			i = len(groups)
			index[label] = i
			groups = append(groups, DayGroup{Label: label})
		}
		groups[i].Events = append(groups[i].Events, ev)
	}
	return groups
}
