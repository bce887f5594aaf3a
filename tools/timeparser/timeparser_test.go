package timeparser_test

import (
	"testing"
	"time"

	"github.com/septivank/energy-bypass-monitor/tools/timeparser"
)

func TestNormalizeEpoch(t *testing.T) {
	if got := timeparser.NormalizeEpoch(1700000000); got != 1700000000 {
		t.Errorf("Expected seconds unchanged, got %d", got)
	}
	if got := timeparser.NormalizeEpoch(1700000000123); got != 1700000000 {
		t.Errorf("Expected milliseconds converted, got %d", got)
	}
}

func TestParseEpochKey(t *testing.T) {
	ts, err := timeparser.ParseEpochKey("1700000000")
	if err != nil || ts != 1700000000 {
		t.Errorf("Expected 1700000000, got %d (%v)", ts, err)
	}

	ts, err = timeparser.ParseEpochKey("1700000000500")
	if err != nil || ts != 1700000000 {
		t.Errorf("Expected millisecond key normalized, got %d (%v)", ts, err)
	}

	if _, err := timeparser.ParseEpochKey("-pushid"); err == nil {
		t.Error("Expected error for non-numeric key")
	}
	if _, err := timeparser.ParseEpochKey("-5"); err == nil {
		t.Error("Expected error for negative key")
	}
}

func TestIsWithinTolerance(t *testing.T) {
	received := time.Date(2025, 12, 29, 10, 30, 0, 0, time.UTC)

	if !timeparser.IsWithinTolerance(received.Add(-5*time.Minute), received, 10) {
		t.Error("Expected reading 5 minutes early to be within tolerance")
	}
	if timeparser.IsWithinTolerance(received.Add(15*time.Minute), received, 10) {
		t.Error("Expected reading 15 minutes late to be outside tolerance")
	}
}
