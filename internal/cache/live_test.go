package cache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/septivank/energy-bypass-monitor/internal/cache"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
	"go.uber.org/zap"
)

func TestLiveKey(t *testing.T) {
	if got := cache.LiveKey("P1"); got != "bypass:live:P1" {
		t.Errorf("Expected bypass:live:P1, got %s", got)
	}
}

func TestDecodeState_RoundTripsPair(t *testing.T) {
	state := meter.NewPairState("P1")
	state.Apply(meter.Reading{
		PairID:        "P1",
		Role:          meter.RoleClient,
		Timestamp:     1700000000,
		Energy:        10,
		TheftDetected: true,
	}, time.Unix(1700000000, 0).UTC())

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("Unexpected marshal error: %v", err)
	}

	got, err := cache.DecodeState(data)
	if err != nil {
		t.Fatalf("Unexpected decode error: %v", err)
	}
	if got.PairID != "P1" {
		t.Errorf("Expected pair P1, got %s", got.PairID)
	}
	if got.Client == nil || got.Client.Energy != 10 || !got.Client.TheftDetected {
		t.Errorf("Expected client reading restored, got %+v", got.Client)
	}
	if got.Pole != nil {
		t.Errorf("Expected no pole reading, got %+v", got.Pole)
	}
}

func TestDecodeState_RejectsMissingPair(t *testing.T) {
	if _, err := cache.DecodeState([]byte(`{"device_active":true}`)); err == nil {
		t.Error("Expected error for snapshot without pair_id")
	}
	if _, err := cache.DecodeState([]byte(`not json`)); err == nil {
		t.Error("Expected error for malformed snapshot")
	}
}

func newLiveCache(t *testing.T) (*cache.LiveCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return cache.NewLiveCache(rdb, time.Hour, zap.NewNop()), mr
}

func TestLiveCache_PutAndGet(t *testing.T) {
	live, mr := newLiveCache(t)
	ctx := context.Background()

	state := meter.NewPairState("P1")
	state.Apply(meter.Reading{PairID: "P1", Role: meter.RoleClient, Energy: 10}, time.Unix(1700000000, 0).UTC())
	if err := live.Put(ctx, *state); err != nil {
		t.Fatalf("Unexpected put error: %v", err)
	}
	if ttl := mr.TTL(cache.LiveKey("P1")); ttl != time.Hour {
		t.Errorf("Expected TTL 1h, got %v", ttl)
	}

	got, found, err := live.Get(ctx, "P1")
	if err != nil || !found {
		t.Fatalf("Expected cached state, got found=%v err=%v", found, err)
	}
	if got.Client == nil || got.Client.Energy != 10 {
		t.Errorf("Unexpected cached client %+v", got.Client)
	}

	if _, found, err := live.Get(ctx, "P9"); err != nil || found {
		t.Errorf("Expected miss for unknown pair, got found=%v err=%v", found, err)
	}
}

func TestLiveCache_RestoreMarksPairsOffline(t *testing.T) {
	live, mr := newLiveCache(t)
	ctx := context.Background()

	for _, pairID := range []string{"P1", "P2"} {
		state := meter.NewPairState(pairID)
		state.Apply(meter.Reading{PairID: pairID, Role: meter.RoleClient, Energy: 5}, time.Unix(1700000000, 0).UTC())
		if !state.DeviceActive {
			t.Fatalf("Expected %s to be active before caching", pairID)
		}
		if err := live.Put(ctx, *state); err != nil {
			t.Fatalf("Unexpected put error: %v", err)
		}
	}
	if err := mr.Set(cache.LiveKey("broken"), "{not json"); err != nil {
		t.Fatalf("Failed to seed broken entry: %v", err)
	}
	if err := mr.Set("other:key", "ignored"); err != nil {
		t.Fatalf("Failed to seed unrelated key: %v", err)
	}

	states, err := live.Restore(ctx)
	if err != nil {
		t.Fatalf("Unexpected restore error: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("Expected 2 restored pairs, got %d", len(states))
	}
	for _, s := range states {
		if s.DeviceActive {
			t.Errorf("Expected restored pair %s to be offline", s.PairID)
		}
		if s.Client == nil || s.Client.Energy != 5 {
			t.Errorf("Expected restored pair %s to keep its reading", s.PairID)
		}
	}
}
