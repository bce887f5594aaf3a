package feed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// DefaultKafkaRetryBackoff is the pause before re-entering Consume after an
// error
const DefaultKafkaRetryBackoff = time.Second

// KafkaConfig holds consumer group settings for the live feed
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	RetryBackoff time.Duration
}

// KafkaSource consumes reading envelopes from a Kafka topic. The message key
// is expected to be the pair id but the body is authoritative.
type KafkaSource struct {
	cfg          KafkaConfig
	group        sarama.ConsumerGroup
	buffer       *ChannelSource
	retryBackoff time.Duration
	logger       *zap.Logger
}

// NewKafkaSource creates the consumer group
func NewKafkaSource(cfg KafkaConfig, logger *zap.Logger) (*KafkaSource, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("[KAFKA CONNECTION FAILED] cannot create consumer group %s: %w", cfg.GroupID, err)
	}

	return newKafkaSource(cfg, group, logger), nil
}

func newKafkaSource(cfg KafkaConfig, group sarama.ConsumerGroup, logger *zap.Logger) *KafkaSource {
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultKafkaRetryBackoff
	}
	return &KafkaSource{
		cfg:          cfg,
		group:        group,
		buffer:       NewChannelSource(256),
		retryBackoff: backoff,
		logger:       logger,
	}
}

// Subscribe starts the consume loop. Rebalances re-enter Consume until ctx
// is cancelled.
func (s *KafkaSource) Subscribe(ctx context.Context) (<-chan Update, error) {
	go func() {
		for err := range s.group.Errors() {
			s.logger.Error("kafka consumer error", zap.Error(err))
		}
	}()

	handler := &groupHandler{source: s, ctx: ctx}
	go func() {
		for {
			if err := s.group.Consume(ctx, []string{s.cfg.Topic}, handler); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) || errors.Is(err, context.Canceled) {
					return
				}
				s.logger.Error("kafka consume failed, retrying", zap.Error(err), zap.Duration("backoff", s.retryBackoff))
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.retryBackoff):
				}
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	s.logger.Info("subscribed to live feed",
		zap.String("topic", s.cfg.Topic),
		zap.String("group_id", s.cfg.GroupID),
	)
	return s.buffer.Subscribe(ctx)
}

// Close closes the consumer group
func (s *KafkaSource) Close() error {
	return s.group.Close()
}

// groupHandler implements sarama.ConsumerGroupHandler
type groupHandler struct {
	source *KafkaSource
	ctx    context.Context
}

func (h *groupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if h.ctx.Err() != nil {
			return h.ctx.Err()
		}

		receivedAt := message.Timestamp
		if receivedAt.IsZero() {
			receivedAt = time.Now()
		}
		u, err := DecodeEnvelope(message.Value, receivedAt)
		if err != nil {
			h.source.logger.Warn("dropping kafka reading",
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.Error(err),
			)
			session.MarkMessage(message, "")
			continue
		}

		if err := h.source.buffer.Push(h.ctx, u); err != nil {
			return err
		}
		session.MarkMessage(message, "")
	}
	return nil
}
