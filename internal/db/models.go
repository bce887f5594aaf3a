package db

import (
	"time"

	"github.com/google/uuid"
)

// MeterSnapshot is one stored reading of one pair side. Live rows hold the
// latest snapshot, history rows are keyed by reading timestamp.
type MeterSnapshot struct {
	PairID     string
	Role       string
	Timestamp  int64
	Reading    []byte
	ReceivedAt time.Time
}

// CustomerRegistration is a provider registered customer keyed by email
type CustomerRegistration struct {
	EmailKey  string
	Email     string
	Name      string
	Location  string
	MeterID   string
	PairID    *string
	CreatedAt time.Time
}

// AlertLogEntry is one alert dispatch attempt
type AlertLogEntry struct {
	ID             uuid.UUID
	PairID         string
	MeterID        string
	EventTimestamp int64
	Outcome        string
	Recipient      string
	BypassedEnergy float64
	EstimatedLoss  string
	Error          *string
	CreatedAt      time.Time
}
