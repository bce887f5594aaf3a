package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/energy-bypass-monitor/internal/bypass"
	"github.com/septivank/energy-bypass-monitor/internal/mailer"
	"go.uber.org/zap"
)

// Outcome is the result class of one dispatch attempt
type Outcome string

const (
	OutcomeSent             Outcome = "sent"
	OutcomeThrottled        Outcome = "throttled"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeFailed           Outcome = "failed"
)

// TimestampLayout is how alert emails render the reading time
const TimestampLayout = "1/2/2006, 3:04:05 PM"

// ReadingContext carries the reading details an alert refers to
type ReadingContext struct {
	MeterID       string
	Timestamp     int64
	CustomerEmail string
	CustomerName  string
}

// Result reports what happened to one dispatch. Err is set for throttled,
// already processed and failed outcomes.
type Result struct {
	Outcome     Outcome
	Err         error
	DispatchID  uuid.UUID
	Remaining   time.Duration
	CustomerErr error
}

// AuditEntry is one delivered or failed alert
type AuditEntry struct {
	DispatchID     uuid.UUID
	PairID         string
	MeterID        string
	EventTimestamp int64
	Outcome        Outcome
	Recipient      string
	BypassedEnergy float64
	EstimatedLoss  string
	Error          string
	CreatedAt      time.Time
}

// AuditLog persists dispatch attempts
type AuditLog interface {
	RecordDispatch(ctx context.Context, entry AuditEntry) error
}

// DispatcherConfig holds the mail template and recipient settings
type DispatcherConfig struct {
	ServiceID    string
	TemplateID   string
	AdminEmail   string
	AdminName    string
	DashboardURL string
	TariffRate   float64
	Location     *time.Location
}

// Dispatcher turns an active bypass verdict into alert emails
type Dispatcher struct {
	guard     *Guard
	transport mailer.Transport
	audit     AuditLog
	cfg       DispatcherConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. audit may be nil.
func NewDispatcher(guard *Guard, transport mailer.Transport, audit AuditLog, cfg DispatcherConfig, logger *zap.Logger) *Dispatcher {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.TariffRate <= 0 {
		cfg.TariffRate = bypass.RateAlert
	}
	return &Dispatcher{
		guard:     guard,
		transport: transport,
		audit:     audit,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the wall clock, used by tests to simulate time
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Guard returns the notification guard in use
func (d *Dispatcher) Guard() *Guard {
	return d.guard
}

// Dispatch delivers the alert for one reading of pairID. The exact event is
// checked against the processed set first, then the pair throttle. The
// throttle is spent before delivery, so a failed send still waits out the
// window while the event stays eligible.
func (d *Dispatcher) Dispatch(ctx context.Context, pairID string, verdict bypass.Verdict, rc ReadingContext) Result {
	key := DedupKey(pairID, rc.Timestamp)
	processed := d.guard.Processed()

	if !processed.Begin(key) {
		return Result{Outcome: OutcomeAlreadyProcessed, Err: ErrAlreadyProcessed}
	}

	now := d.now()
	limiter := d.guard.Limiter()
	if !limiter.TryAcquire(pairID, now) {
		processed.Abort(key)
		return Result{
			Outcome:   OutcomeThrottled,
			Err:       ErrThrottled,
			Remaining: limiter.TimeRemaining(pairID, now),
		}
	}

	result := Result{DispatchID: uuid.New()}
	params := d.buildParams(pairID, verdict, rc)

	admin := params
	admin.RecipientName = d.cfg.AdminName
	admin.ToEmail = d.cfg.AdminEmail
	if err := d.transport.Send(ctx, d.cfg.ServiceID, d.cfg.TemplateID, admin); err != nil {
		processed.Abort(key)
		result.Outcome = OutcomeFailed
		result.Err = &TransportError{Recipient: d.cfg.AdminEmail, Err: err}
		d.record(ctx, result, pairID, verdict, rc, admin)
		return result
	}

	processed.Complete(key)
	result.Outcome = OutcomeSent

	if rc.CustomerEmail != "" && rc.CustomerName != "" {
		customer := params
		customer.RecipientName = rc.CustomerName
		customer.ToEmail = rc.CustomerEmail
		if err := d.transport.Send(ctx, d.cfg.ServiceID, d.cfg.TemplateID, customer); err != nil {
			result.CustomerErr = &TransportError{Recipient: rc.CustomerEmail, Err: err}
			d.logger.Warn("customer alert copy failed",
				zap.String("pair_id", pairID),
				zap.Error(err),
			)
		}
	}

	d.record(ctx, result, pairID, verdict, rc, admin)
	return result
}

func (d *Dispatcher) buildParams(pairID string, verdict bypass.Verdict, rc ReadingContext) mailer.TemplateParams {
	loss := bypass.EstimatedLoss(verdict.BypassedEnergyKWh, d.cfg.TariffRate)
	return mailer.TemplateParams{
		MeterID:        rc.MeterID,
		PairID:         pairID,
		Timestamp:      time.Unix(rc.Timestamp, 0).In(d.cfg.Location).Format(TimestampLayout),
		ClientCurrent:  fmt.Sprintf("%.3f", verdict.ClientCurrent),
		PoleCurrent:    fmt.Sprintf("%.3f", verdict.PoleCurrent),
		CurrentRatio:   verdict.CurrentRatio.String(),
		BypassedEnergy: fmt.Sprintf("%.3f", verdict.BypassedEnergyKWh),
		EstimatedLoss:  loss.StringFixed(2),
		DashboardURL:   d.cfg.DashboardURL,
	}
}

func (d *Dispatcher) record(ctx context.Context, result Result, pairID string, verdict bypass.Verdict, rc ReadingContext, params mailer.TemplateParams) {
	if d.audit == nil {
		return
	}
	entry := AuditEntry{
		DispatchID:     result.DispatchID,
		PairID:         pairID,
		MeterID:        rc.MeterID,
		EventTimestamp: rc.Timestamp,
		Outcome:        result.Outcome,
		Recipient:      params.ToEmail,
		BypassedEnergy: verdict.BypassedEnergyKWh,
		EstimatedLoss:  params.EstimatedLoss,
		CreatedAt:      d.now().UTC(),
	}
	if result.Err != nil {
		entry.Error = result.Err.Error()
	}
	if err := d.audit.RecordDispatch(ctx, entry); err != nil {
		d.logger.Warn("failed to record alert dispatch",
			zap.String("pair_id", pairID),
			zap.Error(err),
		)
	}
}
