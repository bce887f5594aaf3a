package history

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// CSVTimeLayout renders row timestamps without commas so rows need no quoting
const CSVTimeLayout = "2006-01-02 15:04:05"

var (
	alertsHeader = []string{"Date/Time", "Type", "Client Current (A)", "Pole Current (A)", "Current Ratio"}
	reportHeader = []string{"Date/Time", "Pair ID", "Client Current (A)", "Pole Current (A)", "Current Ratio", "Status"}
	usageHeader  = []string{"Date/Time", "Voltage (V)", "Current (A)", "Power (W)", "Energy (kWh)"}
)

// WriteAlertsCSV writes one pair's theft events as the alerts export
func WriteAlertsCSV(w io.Writer, events []Event, loc *time.Location) error {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		r := ev.Reading
		rows = append(rows, []string{
			formatCSVTime(ev.Timestamp, loc),
			"Energy Theft",
			fmt.Sprintf("%.2f", firstNonZero(r.AvgClientCurrent, r.Current)),
			fmt.Sprintf("%.2f", firstNonZero(r.AvgPoleCurrent, r.SecondaryCurrent)),
			fmt.Sprintf("%.2f", r.CurrentRatio),
		})
	}
	return writeRows(w, alertsHeader, rows)
}

// WriteBypassReportCSV writes theft events across pairs, newest first
func WriteBypassReportCSV(w io.Writer, events []Event, loc *time.Location) error {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp > sorted[j].Timestamp
	})

	rows := make([][]string, 0, len(sorted))
	for _, ev := range sorted {
		r := ev.Reading
		ratio := "N/A"
		if r.CurrentRatio != 0 {
			ratio = fmt.Sprintf("%.2f", r.CurrentRatio)
		}
		rows = append(rows, []string{
			formatCSVTime(ev.Timestamp, loc),
			ev.PairID,
			fmt.Sprintf("%.3f", r.Current),
			fmt.Sprintf("%.3f", r.PoleCurrent()),
			ratio,
			"Bypass Detected",
		})
	}
	return writeRows(w, reportHeader, rows)
}

// WriteUsageCSV writes a usage digest
func WriteUsageCSV(w io.Writer, events []Event, loc *time.Location) error {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		r := ev.Reading
		rows = append(rows, []string{
			formatCSVTime(ev.Timestamp, loc),
			fmt.Sprintf("%.0f", r.Voltage),
			fmt.Sprintf("%.2f", r.Current),
			fmt.Sprintf("%.1f", r.Power),
			fmt.Sprintf("%.3f", r.Energy),
		})
	}
	return writeRows(w, usageHeader, rows)
}

// alert exports prefer the averaged currents
func firstNonZero(values ...float64) float64 {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func formatCSVTime(ts int64, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return time.Unix(ts, 0).In(loc).Format(CSVTimeLayout)
}

func writeRows(w io.Writer, header []string, rows [][]string) error {
	lines := make([]string, 0, len(rows)+1)
	lines = append(lines, strings.Join(header, ","))
	for _, row := range rows {
		lines = append(lines, strings.Join(row, ","))
	}
	if _, err := io.WriteString(w, strings.Join(lines, "\n")); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}
