package feed

import (
	"context"

	"github.com/septivank/energy-bypass-monitor/internal/mq"
)

// AMQPSource consumes reading envelopes from a RabbitMQ queue. Undecodable
// messages are rejected to the dead letter queue.
type AMQPSource struct {
	consumer *mq.Consumer
	buffer   *ChannelSource
}

// NewAMQPSource declares the reading queue and binds it
func NewAMQPSource(cfg mq.ConsumerConfig) (*AMQPSource, error) {
	buffer := NewChannelSource(cfg.PrefetchCount)
	cfg.MessageProcessor = buffer.HandleMessage

	consumer, err := mq.NewConsumer(cfg)
	if err != nil {
		return nil, err
	}
	return &AMQPSource{consumer: consumer, buffer: buffer}, nil
}

// Subscribe starts consuming until ctx is cancelled
func (s *AMQPSource) Subscribe(ctx context.Context) (<-chan Update, error) {
	if err := s.consumer.Start(ctx); err != nil {
		return nil, err
	}
	return s.buffer.Subscribe(ctx)
}

// Close closes the consumer channel
func (s *AMQPSource) Close() error {
	return s.consumer.Close()
}
