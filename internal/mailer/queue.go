package mailer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Publisher publishes a JSON message under a routing key
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, messageID string, v interface{}) error
}

// MailJob is the message a downstream mail worker consumes
type MailJob struct {
	JobID      string         `json:"job_id"`
	ServiceID  string         `json:"service_id"`
	TemplateID string         `json:"template_id"`
	Params     TemplateParams `json:"template_params"`
	QueuedAt   time.Time      `json:"queued_at"`
}

// QueueTransport hands emails to a mail worker over the message broker
type QueueTransport struct {
	publisher  Publisher
	routingKey string
}

// NewQueueTransport creates a transport publishing mail jobs with routingKey
func NewQueueTransport(publisher Publisher, routingKey string) *QueueTransport {
	return &QueueTransport{publisher: publisher, routingKey: routingKey}
}

// Send publishes a mail job. Delivery is confirmed once the broker accepts it.
func (t *QueueTransport) Send(ctx context.Context, serviceID, templateID string, params TemplateParams) error {
	job := MailJob{
		JobID:      uuid.New().String(),
		ServiceID:  serviceID,
		TemplateID: templateID,
		Params:     params,
		QueuedAt:   time.Now().UTC(),
	}
	if err := t.publisher.PublishJSON(ctx, t.routingKey, job.JobID, job); err != nil {
		return fmt.Errorf("failed to queue mail job: %w", err)
	}
	return nil
}
