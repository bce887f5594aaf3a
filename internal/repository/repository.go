package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/septivank/energy-bypass-monitor/internal/alert"
	"github.com/septivank/energy-bypass-monitor/internal/db"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
)

// ErrNotFound is returned when a customer registration does not exist
var ErrNotFound = errors.New("not found")

// Repository handles database operations
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Customer is a customer registration as exposed to callers
type Customer struct {
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	MeterID   string    `json:"meterId"`
	PairID    string    `json:"pairId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// EmailKey derives the directory key of an email: dots are not allowed in
// keys so they become commas
func EmailKey(email string) string {
	return strings.ReplaceAll(strings.TrimSpace(email), ".", ",")
}

// BeginTx starts a new transaction
func (r *Repository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// AppendReading stores reading as the live snapshot of its pair side and
// appends it to the history. History keeps the first reading per timestamp.
func (r *Repository) AppendReading(ctx context.Context, reading meter.Reading, receivedAt time.Time) error {
	body, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	ts := reading.Timestamp
	if ts <= 0 {
		ts = receivedAt.Unix()
	}

	tx, err := r.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := upsertLiveTx(ctx, tx, reading.PairID, string(reading.Role), body, receivedAt); err != nil {
		return err
	}

	historyQuery := `
		INSERT INTO meter_history (pair_id, role, ts, reading, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pair_id, role, ts) DO NOTHING
	`
	if _, err := tx.Exec(ctx, historyQuery, reading.PairID, string(reading.Role), ts, body, receivedAt); err != nil {
		return fmt.Errorf("failed to insert history reading: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func upsertLiveTx(ctx context.Context, tx pgx.Tx, pairID, role string, body []byte, receivedAt time.Time) error {
	query := `
		INSERT INTO meter_live (pair_id, role, reading, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (pair_id, role) DO UPDATE
		SET reading = EXCLUDED.reading, received_at = EXCLUDED.received_at
	`
	if _, err := tx.Exec(ctx, query, pairID, role, body, receivedAt); err != nil {
		return fmt.Errorf("failed to upsert live reading: %w", err)
	}
	return nil
}

// FetchHistory returns the history of one pair side keyed by timestamp
func (r *Repository) FetchHistory(ctx context.Context, pairID string, role meter.Role) (map[string]meter.Reading, error) {
	query := `
		SELECT ts, reading
		FROM meter_history
		WHERE pair_id = $1 AND role = $2
		ORDER BY ts ASC
	`

	rows, err := r.pool.Query(ctx, query, pairID, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	snapshot := make(map[string]meter.Reading)
	for rows.Next() {
		var ts int64
		var body []byte
		if err := rows.Scan(&ts, &body); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		reading, err := decodeReading(body)
		if err != nil {
			return nil, err
		}
		snapshot[fmt.Sprintf("%d", ts)] = reading
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return snapshot, nil
}

// FetchAllHistory returns the history of one role for every pair
func (r *Repository) FetchAllHistory(ctx context.Context, role meter.Role) (map[string]map[string]meter.Reading, error) {
	query := `
		SELECT pair_id, ts, reading
		FROM meter_history
		WHERE role = $1
		ORDER BY pair_id, ts ASC
	`

	rows, err := r.pool.Query(ctx, query, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]meter.Reading)
	for rows.Next() {
		var pairID string
		var ts int64
		var body []byte
		if err := rows.Scan(&pairID, &ts, &body); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		reading, err := decodeReading(body)
		if err != nil {
			return nil, err
		}
		if out[pairID] == nil {
			out[pairID] = make(map[string]meter.Reading)
		}
		out[pairID][fmt.Sprintf("%d", ts)] = reading
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return out, nil
}

// LatestSnapshots returns the stored live snapshot of every pair side
func (r *Repository) LatestSnapshots(ctx context.Context) ([]db.MeterSnapshot, error) {
	query := `
		SELECT pair_id, role, reading, received_at
		FROM meter_live
		ORDER BY pair_id, role
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query live readings: %w", err)
	}
	defer rows.Close()

	var snapshots []db.MeterSnapshot
	for rows.Next() {
		var s db.MeterSnapshot
		if err := rows.Scan(&s.PairID, &s.Role, &s.Reading, &s.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan live row: %w", err)
		}
		snapshots = append(snapshots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return snapshots, nil
}

// FindPairByMeter finds the pair whose client live snapshot reports meterID
func (r *Repository) FindPairByMeter(ctx context.Context, meterID string) (string, bool, error) {
	query := `
		SELECT pair_id
		FROM meter_live
		WHERE role = 'client' AND reading->>'meter_id' = $1
		ORDER BY received_at DESC
		LIMIT 1
	`

	var pairID string
	err := r.pool.QueryRow(ctx, query, meterID).Scan(&pairID)
	if err == pgx.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve pair by meter: %w", err)
	}
	return pairID, true, nil
}

// GetCustomer returns the registration stored under email
func (r *Repository) GetCustomer(ctx context.Context, email string) (*Customer, error) {
	query := `
		SELECT email_key, email, name, location, meter_id, pair_id, created_at
		FROM customers_by_email
		WHERE email_key = $1
	`

	var reg db.CustomerRegistration
	err := r.pool.QueryRow(ctx, query, EmailKey(email)).Scan(
		&reg.EmailKey,
		&reg.Email,
		&reg.Name,
		&reg.Location,
		&reg.MeterID,
		&reg.PairID,
		&reg.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query customer: %w", err)
	}

	c := toCustomer(reg)
	return &c, nil
}

// GetCustomerByPair returns the registration bound to pairID
func (r *Repository) GetCustomerByPair(ctx context.Context, pairID string) (*Customer, error) {
	query := `
		SELECT email_key, email, name, location, meter_id, pair_id, created_at
		FROM customers_by_email
		WHERE pair_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`

	var reg db.CustomerRegistration
	err := r.pool.QueryRow(ctx, query, pairID).Scan(
		&reg.EmailKey,
		&reg.Email,
		&reg.Name,
		&reg.Location,
		&reg.MeterID,
		&reg.PairID,
		&reg.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query customer by pair: %w", err)
	}

	c := toCustomer(reg)
	return &c, nil
}

// RegisterCustomer creates or replaces the registration of c.Email
func (r *Repository) RegisterCustomer(ctx context.Context, c Customer) error {
	query := `
		INSERT INTO customers_by_email (email_key, email, name, location, meter_id, pair_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email_key) DO UPDATE
		SET email = EXCLUDED.email,
			name = EXCLUDED.name,
			location = EXCLUDED.location,
			meter_id = EXCLUDED.meter_id,
			pair_id = EXCLUDED.pair_id,
			created_at = EXCLUDED.created_at
	`

	var pairID *string
	if c.PairID != "" {
		pairID = &c.PairID
	}

	_, err := r.pool.Exec(ctx, query,
		EmailKey(c.Email),
		strings.TrimSpace(c.Email),
		c.Name,
		c.Location,
		c.MeterID,
		pairID,
		c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to register customer: %w", err)
	}
	return nil
}

// ListCustomers returns all registrations, newest first
func (r *Repository) ListCustomers(ctx context.Context) ([]Customer, error) {
	query := `
		SELECT email_key, email, name, location, meter_id, pair_id, created_at
		FROM customers_by_email
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	customers := make([]Customer, 0)
	for rows.Next() {
		var reg db.CustomerRegistration
		if err := rows.Scan(
			&reg.EmailKey,
			&reg.Email,
			&reg.Name,
			&reg.Location,
			&reg.MeterID,
			&reg.PairID,
			&reg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, toCustomer(reg))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return customers, nil
}

// RecordDispatch appends an alert dispatch attempt to the alert log
func (r *Repository) RecordDispatch(ctx context.Context, entry alert.AuditEntry) error {
	row := db.AlertLogEntry{
		ID:             entry.DispatchID,
		PairID:         entry.PairID,
		MeterID:        entry.MeterID,
		EventTimestamp: entry.EventTimestamp,
		Outcome:        string(entry.Outcome),
		Recipient:      entry.Recipient,
		BypassedEnergy: entry.BypassedEnergy,
		EstimatedLoss:  entry.EstimatedLoss,
		CreatedAt:      entry.CreatedAt,
	}
	if entry.Error != "" {
		row.Error = &entry.Error
	}

	query := `
		INSERT INTO alert_log (
			id, pair_id, meter_id, event_ts, outcome, recipient,
			bypassed_energy, estimated_loss, error, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::text::numeric, $9, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		row.ID,
		row.PairID,
		row.MeterID,
		row.EventTimestamp,
		row.Outcome,
		row.Recipient,
		row.BypassedEnergy,
		row.EstimatedLoss,
		row.Error,
		row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert log: %w", err)
	}
	return nil
}

func toCustomer(reg db.CustomerRegistration) Customer {
	c := Customer{
		Email:     reg.Email,
		Name:      reg.Name,
		Location:  reg.Location,
		MeterID:   reg.MeterID,
		CreatedAt: reg.CreatedAt,
	}
	if reg.PairID != nil {
		c.PairID = *reg.PairID
	}
	return c
}

func decodeReading(body []byte) (meter.Reading, error) {
	var reading meter.Reading
	if err := json.Unmarshal(body, &reading); err != nil {
		return meter.Reading{}, fmt.Errorf("failed to unmarshal stored reading: %w", err)
	}
	return reading, nil
}
