package feed_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shopify/sarama"
	"github.com/septivank/energy-bypass-monitor/internal/feed"
	"go.uber.org/zap"
)

// failingGroup is a consumer group whose brokers are unreachable
type failingGroup struct {
	sarama.ConsumerGroup
	calls  atomic.Int32
	errors chan error
}

func (g *failingGroup) Consume(ctx context.Context, topics []string, handler sarama.ConsumerGroupHandler) error {
	g.calls.Add(1)
	return errors.New("kafka: client has run out of available brokers")
}

func (g *failingGroup) Errors() <-chan error { return g.errors }

func (g *failingGroup) Close() error {
	close(g.errors)
	return nil
}

func TestKafkaSource_BacksOffBetweenFailedConsumes(t *testing.T) {
	group := &failingGroup{errors: make(chan error)}
	source := feed.NewKafkaSourceWithGroup(feed.KafkaConfig{
		Topic:        "meter-live-readings",
		GroupID:      "bypass-monitor",
		RetryBackoff: 50 * time.Millisecond,
	}, group, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	updates, err := source.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Unexpected subscribe error: %v", err)
	}

	time.Sleep(180 * time.Millisecond)
	cancel()
	for range updates {
	}
	source.Close()

	calls := group.calls.Load()
	if calls < 2 {
		t.Errorf("Expected consume to be retried, got %d calls", calls)
	}
	if calls > 6 {
		t.Errorf("Expected retries to wait for the backoff, got %d calls", calls)
	}
}
