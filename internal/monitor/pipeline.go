package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/alert"
	"github.com/septivank/energy-bypass-monitor/internal/bypass"
	"github.com/septivank/energy-bypass-monitor/internal/feed"
	"github.com/septivank/energy-bypass-monitor/internal/liveness"
	"github.com/septivank/energy-bypass-monitor/internal/logging"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
	"github.com/septivank/energy-bypass-monitor/internal/mq"
	"github.com/septivank/energy-bypass-monitor/internal/repository"
	"github.com/septivank/energy-bypass-monitor/internal/validator"
	"go.uber.org/zap"
)

// Broadcaster pushes pair views to live dashboard clients
type Broadcaster interface {
	Broadcast(view PairView)
}

// ReadingSink receives every reading and verdict for time-series storage
type ReadingSink interface {
	WriteReading(r meter.Reading, receivedAt time.Time)
	WriteVerdict(pairID string, v bypass.Verdict, at time.Time)
}

// LiveStore keeps the latest pair state outside the process
type LiveStore interface {
	Put(ctx context.Context, state meter.PairState) error
}

// HistoryWriter appends readings to the history store
type HistoryWriter interface {
	AppendReading(ctx context.Context, reading meter.Reading, receivedAt time.Time) error
}

// EventPublisher publishes evaluated verdicts downstream
type EventPublisher interface {
	PublishVerdict(ctx context.Context, event mq.VerdictEvent, routingKey string) error
}

// CustomerLookup resolves the customer registered for a pair
type CustomerLookup interface {
	GetCustomerByPair(ctx context.Context, pairID string) (*repository.Customer, error)
}

// AlertDispatcher sends bypass alerts
type AlertDispatcher interface {
	Dispatch(ctx context.Context, pairID string, verdict bypass.Verdict, rc alert.ReadingContext) alert.Result
}

// PipelineConfig holds pipeline settings
type PipelineConfig struct {
	VerdictRoutingKey string
	DispatchTimeout   time.Duration
	LivenessTick      time.Duration
}

// Pipeline applies live updates to the registry and fans the result out to
// dashboards, sinks and the alert dispatcher
type Pipeline struct {
	registry   *Registry
	validator  *validator.Validator
	watchdog   *liveness.Watchdog
	dispatcher AlertDispatcher
	cfg        PipelineConfig
	logger     *zap.Logger
	now        func() time.Time

	broadcaster Broadcaster
	sink        ReadingSink
	live        LiveStore
	history     HistoryWriter
	publisher   EventPublisher
	customers   CustomerLookup

	wg     sync.WaitGroup
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPipeline creates a pipeline and registers it as the watchdog's offline
// handler
func NewPipeline(
	registry *Registry,
	v *validator.Validator,
	watchdog *liveness.Watchdog,
	dispatcher AlertDispatcher,
	cfg PipelineConfig,
	logger *zap.Logger,
) *Pipeline {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}
	if cfg.LivenessTick <= 0 {
		cfg.LivenessTick = liveness.DefaultTick
	}
	p := &Pipeline{
		registry:   registry,
		validator:  v,
		watchdog:   watchdog,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
	watchdog.SetOnOffline(p.markOffline)
	return p
}

// WithBroadcaster sets the live dashboard broadcaster
func (p *Pipeline) WithBroadcaster(b Broadcaster) *Pipeline {
	p.broadcaster = b
	return p
}

// WithReadingSink sets the time-series sink
func (p *Pipeline) WithReadingSink(s ReadingSink) *Pipeline {
	p.sink = s
	return p
}

// WithLiveStore sets the external live state store
func (p *Pipeline) WithLiveStore(s LiveStore) *Pipeline {
	p.live = s
	return p
}

// WithHistoryWriter enables history persistence
func (p *Pipeline) WithHistoryWriter(h HistoryWriter) *Pipeline {
	p.history = h
	return p
}

// WithPublisher enables verdict publishing
func (p *Pipeline) WithPublisher(pub EventPublisher) *Pipeline {
	p.publisher = pub
	return p
}

// WithCustomers enables customer copies of alerts
func (p *Pipeline) WithCustomers(c CustomerLookup) *Pipeline {
	p.customers = c
	return p
}

// WithClock replaces the wall clock used when an update has no receive time
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Registry returns the live pair registry
func (p *Pipeline) Registry() *Registry {
	return p.registry
}

// Handle processes one live update
func (p *Pipeline) Handle(ctx context.Context, u feed.Update) error {
	r := u.Reading
	if r.PairID == "" {
		r.PairID = u.PairID
	}
	if r.Role == "" {
		r.Role = u.Role
	}
	receivedAt := u.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = p.now()
	}

	if result := p.validator.ValidateReading(r); !result.IsValid {
		return fmt.Errorf("rejected reading: %s", result.Reason)
	}

	logger := logging.WithPairID(p.logger, r.PairID)
	if p.validator.IsClockSkewed(r, receivedAt) {
		logger.Debug("reading timestamp outside tolerance",
			zap.String("role", string(r.Role)),
			zap.Int64("timestamp", r.Timestamp),
		)
	}

	snap, ok := p.registry.Apply(r, receivedAt)
	if !ok {
		return fmt.Errorf("rejected reading: unknown role %q", r.Role)
	}

	if p.watchdog.Touch(r.PairID, receivedAt) {
		logger.Info("pair back online")
	}

	p.fanOut(ctx, logger, r, snap, receivedAt)

	if snap.Verdict.Active && snap.State.Client != nil {
		p.dispatchAsync(ctx, snap)
	}
	return nil
}

func (p *Pipeline) fanOut(ctx context.Context, logger *zap.Logger, r meter.Reading, snap Snapshot, receivedAt time.Time) {
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(snap.View())
	}

	if p.sink != nil {
		p.sink.WriteReading(r, receivedAt)
		p.sink.WriteVerdict(r.PairID, snap.Verdict, receivedAt)
	}

	if p.live != nil {
		if err := p.live.Put(ctx, snap.State); err != nil {
			logger.Warn("failed to cache pair state", zap.Error(err))
		}
	}

	if p.history != nil {
		if err := p.history.AppendReading(ctx, r, receivedAt); err != nil {
			logger.Warn("failed to append history", zap.Error(err))
		}
	}

	if p.publisher != nil {
		if err := p.publisher.PublishVerdict(ctx, verdictEvent(snap, receivedAt), p.cfg.VerdictRoutingKey); err != nil {
			logger.Warn("failed to publish verdict", zap.Error(err))
		}
	}
}

func verdictEvent(snap Snapshot, at time.Time) mq.VerdictEvent {
	view := snap.View()
	var ts int64
	if snap.State.Client != nil {
		ts = snap.State.Client.Timestamp
	}
	return mq.VerdictEvent{
		PairID:            view.PairID,
		MeterID:           view.MeterID,
		ReadingTimestamp:  ts,
		BypassActive:      snap.Verdict.Active,
		BypassedEnergyKWh: snap.Verdict.BypassedEnergyKWh,
		CurrentRatio:      snap.Verdict.CurrentRatio.String(),
		EstimatedLoss:     snap.Verdict.EstimatedLoss.StringFixed(2),
		DeviceActive:      snap.State.DeviceActive,
		EvaluatedAt:       at,
	}
}

// dispatchAsync sends the alert off the feed path. The dispatch outlives the
// update context but not the dispatch timeout.
func (p *Pipeline) dispatchAsync(ctx context.Context, snap Snapshot) {
	pairID := snap.State.PairID
	rc := alert.ReadingContext{
		MeterID:   snap.View().MeterID,
		Timestamp: snap.State.Client.Timestamp,
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DispatchTimeout)
		defer cancel()

		logger := logging.WithPairID(p.logger, pairID)

		if p.customers != nil {
			c, err := p.customers.GetCustomerByPair(dctx, pairID)
			switch {
			case err == nil:
				rc.CustomerEmail = c.Email
				rc.CustomerName = c.Name
			case !errors.Is(err, repository.ErrNotFound):
				logger.Warn("failed to look up customer", zap.Error(err))
			}
		}

		result := p.dispatcher.Dispatch(dctx, pairID, snap.Verdict, rc)
		switch result.Outcome {
		case alert.OutcomeSent:
			logger.Info("bypass alert sent",
				zap.String("dispatch_id", result.DispatchID.String()),
				zap.Int64("timestamp", rc.Timestamp),
			)
		case alert.OutcomeThrottled:
			logger.Debug("bypass alert throttled",
				zap.String("remaining", alert.FormatRemaining(result.Remaining)),
			)
		case alert.OutcomeAlreadyProcessed:
			logger.Debug("bypass alert already processed", zap.Int64("timestamp", rc.Timestamp))
		case alert.OutcomeFailed:
			logger.Error("bypass alert failed", zap.Error(result.Err))
		}
	}()
}

func (p *Pipeline) markOffline(pairID string) {
	snap, ok := p.registry.MarkOffline(pairID)
	if !ok {
		return
	}
	logging.WithPairID(p.logger, pairID).Info("pair offline",
		zap.Duration("timeout", p.watchdog.Timeout()),
	)
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(snap.View())
	}
}

// Run consumes source until its channel closes or ctx is cancelled.
// Rejected updates are logged and skipped.
func (p *Pipeline) Run(ctx context.Context, source feed.Source) error {
	updates, err := source.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to live feed: %w", err)
	}

	p.consume(ctx, updates)
	return nil
}

// Start subscribes to source and runs the liveness watchdog in the
// background
func (p *Pipeline) Start(source feed.Source) error {
	ctx, cancel := context.WithCancel(context.Background())

	updates, err := source.Subscribe(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to subscribe to live feed: %w", err)
	}

	p.cancel = cancel
	p.done = make(chan struct{})

	go p.watchdog.Run(ctx, p.cfg.LivenessTick)
	go func() {
		defer close(p.done)
		p.consume(ctx, updates)
	}()

	p.logger.Info("pipeline started", zap.Duration("liveness_timeout", p.watchdog.Timeout()))
	return nil
}

func (p *Pipeline) consume(ctx context.Context, updates <-chan feed.Update) {
	for u := range updates {
		if err := p.Handle(ctx, u); err != nil {
			p.logger.Warn("skipping update",
				zap.String("pair_id", u.PairID),
				zap.String("role", string(u.Role)),
				zap.Error(err),
			)
		}
	}
}

// Stop cancels the subscription and waits for in-flight dispatches until
// ctx expires
func (p *Pipeline) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	waited := make(chan struct{})
	go func() {
		if p.done != nil {
			<-p.done
		}
		p.wg.Wait()
		close(waited)
	}()

	select {
	case <-waited:
		p.logger.Info("pipeline stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("pipeline stop: %w", ctx.Err())
	}
}

// Wait blocks until every dispatch started so far has finished
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
