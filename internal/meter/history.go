package meter

import (
	"sort"
	"time"

	"github.com/septivank/energy-bypass-monitor/tools/timeparser"
)

// HistoryRecord is a reading keyed by its history timestamp (epoch seconds)
type HistoryRecord struct {
	Timestamp int64   `json:"ts"`
	Reading   Reading `json:"reading"`
}

// Time returns the record key as a time.Time
func (h HistoryRecord) Time() time.Time {
	return time.Unix(h.Timestamp, 0)
}

// HistoryFromSnapshot converts a timestamp-keyed snapshot into records
// sorted by ascending timestamp. Keys that are not epochs are skipped.
func HistoryFromSnapshot(snapshot map[string]Reading) []HistoryRecord {
	records := make([]HistoryRecord, 0, len(snapshot))
	for key, reading := range snapshot {
		ts, err := timeparser.ParseEpochKey(key)
		if err != nil {
			continue
		}
		records = append(records, HistoryRecord{Timestamp: ts, Reading: Normalize(reading)})
	}
	SortHistory(records)
	return records
}

// SortHistory orders records by ascending timestamp in place
func SortHistory(records []HistoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp < records[j].Timestamp
	})
}
