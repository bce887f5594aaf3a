package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/septivank/energy-bypass-monitor/internal/bypass"
	"github.com/septivank/energy-bypass-monitor/internal/customers"
	"github.com/septivank/energy-bypass-monitor/internal/db"
	"github.com/septivank/energy-bypass-monitor/internal/history"
	"github.com/septivank/energy-bypass-monitor/internal/logging"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
	"github.com/septivank/energy-bypass-monitor/internal/monitor"
	"github.com/septivank/energy-bypass-monitor/internal/validator"
	"go.uber.org/zap"
)

// Listing sizes of the dashboard views
const (
	UsageDigestLimit = 100
	TopConsumers     = 10
	TopRiskPairs     = 5
	TrendDays        = 7
)

// HistoryStore reads timestamp-keyed reading history and the stored live
// snapshot of every pair side
type HistoryStore interface {
	FetchHistory(ctx context.Context, pairID string, role meter.Role) (map[string]meter.Reading, error)
	FetchAllHistory(ctx context.Context, role meter.Role) (map[string]map[string]meter.Reading, error)
	LatestSnapshots(ctx context.Context) ([]db.MeterSnapshot, error)
}

// Handler serves the dashboard read API
type Handler struct {
	registry  *monitor.Registry
	history   HistoryStore
	customers *customers.Service
	hub       *Hub
	loc       *time.Location
	rate      float64
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler creates the API handler. loc decides calendar days and CSV
// times.
func NewHandler(
	registry *monitor.Registry,
	store HistoryStore,
	customerService *customers.Service,
	hub *Hub,
	loc *time.Location,
	logger *zap.Logger,
) *Handler {
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		registry:  registry,
		history:   store,
		customers: customerService,
		hub:       hub,
		loc:       loc,
		rate:      bypass.RateDashboard,
		logger:    logger,
		now:       time.Now,
	}
}

// WithTariffRate sets the rate used for fleet revenue and loss figures
func (h *Handler) WithTariffRate(rate float64) *Handler {
	if rate > 0 {
		h.rate = rate
	}
	return h
}

// WithClock replaces the wall clock used for chart windows
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// log scopes the handler logger to the request id set by the requestid
// middleware
func (h *Handler) log(c *fiber.Ctx) *zap.Logger {
	if rid := c.GetRespHeader(fiber.HeaderXRequestID); rid != "" {
		return logging.WithRequestID(h.logger, rid)
	}
	return h.logger
}

func fail(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"success": false,
		"message": message,
	})
}

func ok(c *fiber.Ctx, data interface{}) error {
	return c.JSON(fiber.Map{
		"success": true,
		"data":    data,
	})
}

// Health reports liveness of the API
func (h *Handler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":     "ok",
		"pairs":      len(h.registry.List()),
		"ws_clients": h.hub.ClientCount(),
	})
}

// authorizePair lets providers read any pair and customers only the pair
// registered to their email
func (h *Handler) authorizePair(c *fiber.Ctx, pairID string) error {
	claims := claimsFrom(c)
	if claims == nil {
		return fiber.NewError(fiber.StatusUnauthorized, "Missing credentials")
	}
	if claims.Role == RoleProvider {
		return nil
	}

	customer, err := h.customers.Lookup(c.UserContext(), claims.Email)
	if errors.Is(err, customers.ErrNotRegistered) {
		return fiber.NewError(fiber.StatusForbidden, "No registration for this account")
	}
	if err != nil {
		h.log(c).Error("failed to look up customer", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to resolve customer")
	}
	if customer.PairID == "" || customer.PairID != pairID {
		return fiber.NewError(fiber.StatusForbidden, "Access to this pair is not allowed")
	}
	return nil
}

// ListPairs returns live pair summaries, optionally filtered
func (h *Handler) ListPairs(c *fiber.Ctx) error {
	filter, err := monitor.ParseFilter(c.Query("filter"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	return ok(c, monitor.Views(monitor.FilterPairs(h.registry.List(), filter)))
}

// GetPair returns the live summary of one pair
func (h *Handler) GetPair(c *fiber.Ctx) error {
	pairID := c.Params("pairId")
	if err := h.authorizePair(c, pairID); err != nil {
		return err
	}

	snap, found := h.registry.Get(pairID)
	if !found {
		return fail(c, fiber.StatusNotFound, fmt.Sprintf("No live data for pair %s", pairID))
	}
	return ok(c, snap.View())
}

func (h *Handler) clientHistory(c *fiber.Ctx, pairID string) ([]meter.HistoryRecord, error) {
	snapshot, err := h.history.FetchHistory(c.UserContext(), pairID, meter.RoleClient)
	if err != nil {
		h.log(c).Error("failed to fetch history", zap.String("pair_id", pairID), zap.Error(err))
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch history")
	}
	return meter.HistoryFromSnapshot(snapshot), nil
}

// PairHistory returns the chart series of one pair for a period
func (h *Handler) PairHistory(c *fiber.Ctx) error {
	pairID := c.Params("pairId")
	if err := h.authorizePair(c, pairID); err != nil {
		return err
	}

	period, err := history.ParsePeriod(c.Query("period"))
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}

	records, err := h.clientHistory(c, pairID)
	if err != nil {
		return err
	}
	return ok(c, fiber.Map{
		"period": period,
		"points": history.ChartSeries(records, period, h.now()),
	})
}

// PairUsage returns the hourly usage digest of one pair, newest first
func (h *Handler) PairUsage(c *fiber.Ctx) error {
	pairID := c.Params("pairId")
	if err := h.authorizePair(c, pairID); err != nil {
		return err
	}

	records, err := h.clientHistory(c, pairID)
	if err != nil {
		return err
	}
	return ok(c, history.HourlyDigest(records, UsageDigestLimit, h.loc))
}

// PairUsageCSV exports the hourly usage digest of one pair
func (h *Handler) PairUsageCSV(c *fiber.Ctx) error {
	pairID := c.Params("pairId")
	if err := h.authorizePair(c, pairID); err != nil {
		return err
	}

	records, err := h.clientHistory(c, pairID)
	if err != nil {
		return err
	}
	digest := history.EventsFromRecords(pairID, history.HourlyDigest(records, UsageDigestLimit, h.loc))

	var buf bytes.Buffer
	if err := history.WriteUsageCSV(&buf, digest, h.loc); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to render CSV")
	}
	return sendCSV(c, fmt.Sprintf("usage_%s.csv", pairID), buf.Bytes())
}

// PairAlerts returns the theft events of one pair grouped by calendar day
func (h *Handler) PairAlerts(c *fiber.Ctx) error {
	pairID := c.Params("pairId")
	if err := h.authorizePair(c, pairID); err != nil {
		return err
	}

	records, err := h.clientHistory(c, pairID)
	if err != nil {
		return err
	}
	events := history.FilterTheftEvents(history.EventsFromRecords(pairID, records))
	return ok(c, fiber.Map{
		"total": len(events),
		"days":  history.GroupByCalendarDay(events, h.loc),
	})
}

// PairAlertsCSV exports the theft events of one pair
func (h *Handler) PairAlertsCSV(c *fiber.Ctx) error {
	pairID := c.Params("pairId")
	if err := h.authorizePair(c, pairID); err != nil {
		return err
	}

	records, err := h.clientHistory(c, pairID)
	if err != nil {
		return err
	}
	events := history.FilterTheftEvents(history.EventsFromRecords(pairID, records))

	var buf bytes.Buffer
	if err := history.WriteAlertsCSV(&buf, events, h.loc); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "Failed to render CSV")
	}
	return sendCSV(c, fmt.Sprintf("alerts_%s.csv", pairID), buf.Bytes())
}

// fleet returns every pair known to the registry or the history store.
// Registry readings win; sides the registry lacks come from the stored live
// rows.
func (h *Handler) fleet(c *fiber.Ctx) ([]history.PairSnapshot, error) {
	ctx := c.UserContext()
	logger := h.log(c)

	all, err := h.history.FetchAllHistory(ctx, meter.RoleClient)
	if err != nil {
		logger.Error("failed to fetch fleet history", zap.Error(err))
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch history")
	}
	stored, err := h.history.LatestSnapshots(ctx)
	if err != nil {
		logger.Error("failed to fetch stored live readings", zap.Error(err))
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Failed to fetch history")
	}

	pairs := h.registry.FleetSnapshots()
	index := make(map[string]int, len(pairs))
	for i, p := range pairs {
		index[p.PairID] = i
	}
	slot := func(pairID string) *history.PairSnapshot {
		i, found := index[pairID]
		if !found {
			pairs = append(pairs, history.PairSnapshot{PairID: pairID})
			i = len(pairs) - 1
			index[pairID] = i
		}
		return &pairs[i]
	}

	for _, row := range stored {
		var r meter.Reading
		if err := json.Unmarshal(row.Reading, &r); err != nil {
			logger.Warn("skipping unreadable stored reading",
				zap.String("pair_id", row.PairID),
				zap.String("role", row.Role),
				zap.Error(err))
			continue
		}
		r = meter.Normalize(r)
		p := slot(row.PairID)
		switch meter.Role(row.Role) {
		case meter.RoleClient:
			if p.Client == nil {
				p.Client = &r
			}
		case meter.RolePole:
			if p.Pole == nil {
				p.Pole = &r
			}
		}
	}
	for pairID := range all {
		slot(pairID)
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].PairID < pairs[j].PairID })
	for i := range pairs {
		pairs[i].History = meter.HistoryFromSnapshot(all[pairs[i].PairID])
	}
	return pairs, nil
}

// Analytics returns fleet totals, rankings, distribution and trend
func (h *Handler) Analytics(c *fiber.Ctx) error {
	pairs, err := h.fleet(c)
	if err != nil {
		return err
	}

	online := 0
	for _, snap := range h.registry.List() {
		if snap.State.DeviceActive {
			online++
		}
	}

	consumers := history.Consumers(pairs)
	totals := history.TotalsAcrossFleet(pairs, h.rate)
	totals.OnlineCount = online

	return ok(c, fiber.Map{
		"totals":             totals,
		"top_consumers":      history.TopN(history.RankByEnergy(consumers), TopConsumers),
		"high_risk":          history.TopN(history.RankByIncidentCount(history.BuildRiskProfiles(pairs)), TopRiskPairs),
		"distribution":       history.UsageDistribution(consumers),
		"trend":              history.BypassTrend(pairs, TrendDays, h.loc),
		"incidents":          history.IncidentCount(pairs),
		"today_bypass_pairs": history.TodayBypassPairs(pairs, h.now().In(h.loc)),
		"uptime":             history.Uptime(online, totals.TotalPairs),
	})
}

// BypassReportCSV exports theft events of every pair, newest first
func (h *Handler) BypassReportCSV(c *fiber.Ctx) error {
	all, err := h.history.FetchAllHistory(c.UserContext(), meter.RoleClient)
	if err != nil {
		h.log(c).Error("failed to fetch fleet history", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to fetch history")
	}

	var events []history.Event
	for pairID, snapshot := range all {
		events = append(events, history.FilterTheftEvents(
			history.EventsFromRecords(pairID, meter.HistoryFromSnapshot(snapshot)),
		)...)
	}

	var buf bytes.Buffer
	if err := history.WriteBypassReportCSV(&buf, events, h.loc); err != nil {
		return fail(c, fiber.StatusInternalServerError, "Failed to render CSV")
	}
	return sendCSV(c, "bypass_report.csv", buf.Bytes())
}

// RegisterCustomer stores a provider-submitted registration
func (h *Handler) RegisterCustomer(c *fiber.Ctx) error {
	var reg validator.Registration
	if err := c.BodyParser(&reg); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	customer, err := h.customers.Register(c.UserContext(), reg)
	var verr *customers.ValidationError
	if errors.As(err, &verr) {
		return fail(c, fiber.StatusBadRequest, verr.Reason)
	}
	if err != nil {
		h.log(c).Error("failed to register customer", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to register customer")
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    customer,
	})
}

// ListCustomers returns every registration
func (h *Handler) ListCustomers(c *fiber.Ctx) error {
	list, err := h.customers.List(c.UserContext())
	if err != nil {
		h.log(c).Error("failed to list customers", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to list customers")
	}
	return ok(c, list)
}

// VerifyCustomer checks a customer signup against its registration
func (h *Handler) VerifyCustomer(c *fiber.Ctx) error {
	var signup validator.Signup
	if err := c.BodyParser(&signup); err != nil {
		return fail(c, fiber.StatusBadRequest, "Invalid request body")
	}

	customer, err := h.customers.Verify(c.UserContext(), signup)
	var verr *customers.ValidationError
	switch {
	case err == nil:
		return ok(c, customer)
	case errors.As(err, &verr):
		return fail(c, fiber.StatusBadRequest, verr.Reason)
	case errors.Is(err, customers.ErrNotRegistered):
		return fail(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, customers.ErrMeterMismatch):
		return fail(c, fiber.StatusForbidden, err.Error())
	default:
		h.log(c).Error("failed to verify customer", zap.Error(err))
		return fail(c, fiber.StatusInternalServerError, "Failed to verify customer")
	}
}

func sendCSV(c *fiber.Ctx, filename string, body []byte) error {
	c.Attachment(filename)
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	return c.Send(body)
}
