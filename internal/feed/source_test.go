package feed_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/septivank/energy-bypass-monitor/internal/feed"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
)

func TestParseTopic(t *testing.T) {
	pairID, role, err := feed.ParseTopic("meters/P1/client/live_data")
	if err != nil {
		t.Fatalf("Expected topic to parse, got %v", err)
	}
	if pairID != "P1" || role != meter.RoleClient {
		t.Errorf("Unexpected pair %s role %s", pairID, role)
	}

	for _, topic := range []string{
		"meters/P1/client/history",
		"meters//client/live_data",
		"meters/P1/substation/live_data",
		"devices/P1/pole/live_data",
	} {
		if _, _, err := feed.ParseTopic(topic); !errors.Is(err, feed.ErrBadTopic) {
			t.Errorf("Expected ErrBadTopic for %s, got %v", topic, err)
		}
	}

	if got := feed.LiveTopic("P1", meter.RolePole); got != "meters/P1/pole/live_data" {
		t.Errorf("Unexpected live topic %s", got)
	}
}

func TestDecodeLive(t *testing.T) {
	payload := []byte(`{"energy": 10.5, "current": "2.0", "theft_detected": true, "timestamp": 1700000000}`)
	u, err := feed.DecodeLive("meters/P1/client/live_data", payload, time.Unix(1700000001, 0))
	if err != nil {
		t.Fatalf("Expected payload to decode, got %v", err)
	}
	if u.PairID != "P1" || u.Reading.PairID != "P1" || u.Reading.Role != meter.RoleClient {
		t.Errorf("Expected topic to set pair and role, got %+v", u)
	}
	if u.Reading.Energy != 10.5 || u.Reading.Current != 2.0 || !u.Reading.TheftDetected {
		t.Errorf("Unexpected reading %+v", u.Reading)
	}

	if _, err := feed.DecodeLive("meters/P1/client/live_data", []byte(`not json`), time.Now()); err == nil {
		t.Error("Expected error for invalid payload")
	}
}

func TestDecodeEnvelope(t *testing.T) {
	u, err := feed.DecodeEnvelope([]byte(`{"pair_id": "P2", "role": "pole", "pole_energy": 15}`), time.Now())
	if err != nil {
		t.Fatalf("Expected envelope to decode, got %v", err)
	}
	if u.PairID != "P2" || u.Role != meter.RolePole || u.Reading.PoleEnergy != 15 {
		t.Errorf("Unexpected update %+v", u)
	}

	if _, err := feed.DecodeEnvelope([]byte(`{"role": "pole"}`), time.Now()); err == nil {
		t.Error("Expected error without pair_id")
	}
	if _, err := feed.DecodeEnvelope([]byte(`{"pair_id": "P2", "role": "meter"}`), time.Now()); err == nil {
		t.Error("Expected error for unknown role")
	}
}

func TestChannelSource_DeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := feed.NewChannelSource(4)
	updates, err := source.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Expected subscribe to succeed, got %v", err)
	}

	for i := int64(1); i <= 3; i++ {
		body := []byte(fmt.Sprintf(`{"pair_id": "P1", "role": "client", "timestamp": %d}`, i))
		if err := source.HandleMessage(ctx, body); err != nil {
			t.Fatalf("Expected message accepted, got %v", err)
		}
	}

	for i := int64(1); i <= 3; i++ {
		select {
		case u := <-updates:
			if u.Reading.Timestamp != i {
				t.Errorf("Expected timestamp %d, got %d", i, u.Reading.Timestamp)
			}
			if u.ReceivedAt.IsZero() {
				t.Error("Expected received time to be set")
			}
		case <-time.After(time.Second):
			t.Fatal("Timed out waiting for update")
		}
	}
}

func TestChannelSource_ClosesOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	source := feed.NewChannelSource(0)
	updates, _ := source.Subscribe(ctx)

	cancel()

	select {
	case _, ok := <-updates:
		if ok {
			t.Error("Expected no update after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Expected channel to close after cancel")
	}

	if err := source.Push(ctx, feed.Update{PairID: "P1"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected push after cancel to fail, got %v", err)
	}
}

func TestChannelSource_RejectsBadMessage(t *testing.T) {
	source := feed.NewChannelSource(1)
	if err := source.HandleMessage(context.Background(), []byte(`{"role": "client"}`)); err == nil {
		t.Error("Expected bad message to be rejected")
	}
}
