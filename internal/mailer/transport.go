package mailer

import (
	"context"

	"go.uber.org/zap"
)

// TemplateParams are the fields the bypass alert email template expects
type TemplateParams struct {
	RecipientName  string `json:"recipient_name"`
	ToEmail        string `json:"to_email"`
	MeterID        string `json:"meter_id"`
	PairID         string `json:"pair_id"`
	Timestamp      string `json:"timestamp"`
	ClientCurrent  string `json:"client_current"`
	PoleCurrent    string `json:"pole_current"`
	CurrentRatio   string `json:"current_ratio"`
	BypassedEnergy string `json:"bypassed_energy"`
	EstimatedLoss  string `json:"estimated_loss"`
	DashboardURL   string `json:"dashboard_url"`
}

// Transport delivers one templated email
type Transport interface {
	Send(ctx context.Context, serviceID, templateID string, params TemplateParams) error
}

// LogTransport only logs messages. Used when no mail provider is configured.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport creates a transport that writes messages to the logger
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

// Send logs the message and always succeeds
func (t *LogTransport) Send(ctx context.Context, serviceID, templateID string, params TemplateParams) error {
	t.logger.Info("mail transport disabled, logging alert email",
		zap.String("service_id", serviceID),
		zap.String("template_id", templateID),
		zap.String("to_email", params.ToEmail),
		zap.String("pair_id", params.PairID),
		zap.String("bypassed_energy", params.BypassedEnergy),
		zap.String("estimated_loss", params.EstimatedLoss),
	)
	return nil
}
