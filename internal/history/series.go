package history

import (
	"fmt"
	"math"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/meter"
)

// ChartPoints is the point cap for Weekly and Monthly charts
const ChartPoints = 50

// Period is a chart time window
type Period string

const (
	PeriodDaily   Period = "Daily"
	PeriodWeekly  Period = "Weekly"
	PeriodMonthly Period = "Monthly"
)

// ParsePeriod accepts Daily, Weekly or Monthly; empty means Daily
func ParsePeriod(s string) (Period, error) {
	switch Period(s) {
	case "", PeriodDaily:
		return PeriodDaily, nil
	case PeriodWeekly:
		return PeriodWeekly, nil
	case PeriodMonthly:
		return PeriodMonthly, nil
	}
	return "", fmt.Errorf("unknown period %q", s)
}

// Window returns how far back the period reaches
func (p Period) Window() time.Duration {
	switch p {
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Downsample caps series at targetCount elements by keeping every
// ceil(len/targetCount)-th element. The last element always replaces the
// final kept one, so both ends of the series survive.
func Downsample[T any](series []T, targetCount int) []T {
	if targetCount <= 0 || len(series) <= targetCount {
		return series
	}

	step := int(math.Ceil(float64(len(series)) / float64(targetCount)))
	out := make([]T, 0, targetCount)
	for i := 0; i < len(series); i += step {
		out = append(out, series[i])
	}
	out[len(out)-1] = series[len(series)-1]
	return out
}

// ChartSeries returns the records inside period ending at now, ascending,
// downsampled for the longer periods
func ChartSeries(records []meter.HistoryRecord, period Period, now time.Time) []meter.HistoryRecord {
	cutoff := now.Unix() - int64(period.Window()/time.Second)

	out := make([]meter.HistoryRecord, 0)
	for _, rec := range records {
		if rec.Timestamp >= cutoff {
			out = append(out, rec)
		}
	}
	meter.SortHistory(out)

	if period == PeriodDaily {
		return out
	}
	return Downsample(out, ChartPoints)
}

// HourlyDigest keeps the first record of each local clock hour, then the
// latest limit of those, newest first
func HourlyDigest(records []meter.HistoryRecord, limit int, loc *time.Location) []meter.HistoryRecord {
	if loc == nil {
		loc = time.Local
	}

	sorted := make([]meter.HistoryRecord, len(records))
	copy(sorted, records)
	meter.SortHistory(sorted)

	seen := make(map[string]struct{})
	hourly := make([]meter.HistoryRecord, 0)
	for _, rec := range sorted {
		hour := rec.Time().In(loc).Format("2006-01-02T15")
		if _, ok := seen[hour]; ok {
			continue
		}
		seen[hour] = struct{}{}
		hourly = append(hourly, rec)
	}

	if limit > 0 && len(hourly) > limit {
		hourly = hourly[len(hourly)-limit:]
	}

	out := make([]meter.HistoryRecord, 0, len(hourly))
	for i := len(hourly) - 1; i >= 0; i-- {
		out = append(out, hourly[i])
	}
	return out
}
