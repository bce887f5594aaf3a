package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher handles message publishing to RabbitMQ
type Publisher struct {
	conn     *Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(conn *Connection, exchange string, logger *zap.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	// Declare exchange
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Publisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// VerdictEvent is published for every evaluated reading of a pair
type VerdictEvent struct {
	PairID            string    `json:"pair_id"`
	MeterID           string    `json:"meter_id"`
	ReadingTimestamp  int64     `json:"reading_timestamp"`
	BypassActive      bool      `json:"bypass_active"`
	BypassedEnergyKWh float64   `json:"bypassed_energy_kwh"`
	CurrentRatio      string    `json:"current_ratio"`
	EstimatedLoss     string    `json:"estimated_loss"`
	DeviceActive      bool      `json:"device_active"`
	EvaluatedAt       time.Time `json:"evaluated_at"`
}

// PublishVerdict publishes a verdict event
func (p *Publisher) PublishVerdict(ctx context.Context, event VerdictEvent, routingKey string) error {
	return p.PublishJSON(ctx, routingKey, "", event)
}

// PublishJSON publishes v as a persistent JSON message
func (p *Publisher) PublishJSON(ctx context.Context, routingKey string, messageID string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("published event",
		zap.String("exchange", p.exchange),
		zap.String("routing_key", routingKey),
		zap.String("message_id", messageID),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	if p.channel != nil {
		return p.channel.Close()
	}
	return nil
}
