package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultEmailJSEndpoint is the EmailJS REST send endpoint
const DefaultEmailJSEndpoint = "https://api.emailjs.com/api/v1.0/email/send"

// EmailJSConfig holds EmailJS account settings
type EmailJSConfig struct {
	Endpoint   string
	PublicKey  string
	PrivateKey string
	Timeout    time.Duration
}

// EmailJSTransport sends templated email through the EmailJS REST API
type EmailJSTransport struct {
	cfg    EmailJSConfig
	client *http.Client
	logger *zap.Logger
}

type emailJSRequest struct {
	ServiceID      string         `json:"service_id"`
	TemplateID     string         `json:"template_id"`
	UserID         string         `json:"user_id"`
	AccessToken    string         `json:"accessToken,omitempty"`
	TemplateParams TemplateParams `json:"template_params"`
}

// NewEmailJSTransport creates an EmailJS transport
func NewEmailJSTransport(cfg EmailJSConfig, logger *zap.Logger) *EmailJSTransport {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEmailJSEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &EmailJSTransport{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Send posts one email to EmailJS. Any non-200 response is an error.
func (t *EmailJSTransport) Send(ctx context.Context, serviceID, templateID string, params TemplateParams) error {
	body, err := json.Marshal(emailJSRequest{
		ServiceID:      serviceID,
		TemplateID:     templateID,
		UserID:         t.cfg.PublicKey,
		AccessToken:    t.cfg.PrivateKey,
		TemplateParams: params,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("emailjs responded with status %d: %s", resp.StatusCode, string(text))
	}

	t.logger.Debug("email sent via emailjs",
		zap.String("to_email", params.ToEmail),
		zap.String("pair_id", params.PairID),
	)
	return nil
}
