package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/septivank/energy-bypass-monitor/internal/meter"
	"go.uber.org/zap"
)

const liveKeyPrefix = "bypass:live:"

// DefaultLiveTTL bounds how long a pair snapshot survives without updates
const DefaultLiveTTL = 24 * time.Hour

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("[REDIS CONNECTION FAILED] cannot reach %s: %w", addr, err)
	}

	return rdb, nil
}

// LiveKey returns the Redis key holding the snapshot of pairID
func LiveKey(pairID string) string {
	return liveKeyPrefix + pairID
}

// LiveCache keeps the latest state of every pair in Redis so a restarted
// monitor can show the last known readings immediately
type LiveCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewLiveCache creates a live cache. A non-positive ttl uses DefaultLiveTTL.
func NewLiveCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *LiveCache {
	if ttl <= 0 {
		ttl = DefaultLiveTTL
	}
	return &LiveCache{rdb: rdb, ttl: ttl, logger: logger}
}

// Put stores the state of one pair
func (c *LiveCache) Put(ctx context.Context, state meter.PairState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal pair state: %w", err)
	}
	if err := c.rdb.Set(ctx, LiveKey(state.PairID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache pair state: %w", err)
	}
	return nil
}

// Get loads the cached state of pairID. The second result is false when
// nothing is cached.
func (c *LiveCache) Get(ctx context.Context, pairID string) (meter.PairState, bool, error) {
	data, err := c.rdb.Get(ctx, LiveKey(pairID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return meter.PairState{}, false, nil
	}
	if err != nil {
		return meter.PairState{}, false, fmt.Errorf("failed to read cached pair state: %w", err)
	}

	state, err := DecodeState(data)
	if err != nil {
		return meter.PairState{}, false, err
	}
	return state, true, nil
}

// Restore loads every cached pair. Restored pairs are marked offline until a
// fresh reading arrives. Entries that fail to decode are skipped.
func (c *LiveCache) Restore(ctx context.Context) ([]meter.PairState, error) {
	var states []meter.PairState

	iter := c.rdb.Scan(ctx, 0, liveKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}

		state, err := DecodeState(data)
		if err != nil {
			c.logger.Warn("skipping unreadable cached pair", zap.String("key", key), zap.Error(err))
			continue
		}
		state.DeviceActive = false
		states = append(states, state)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan cached pairs: %w", err)
	}

	return states, nil
}

// DecodeState parses a cached pair snapshot
func DecodeState(data []byte) (meter.PairState, error) {
	var state meter.PairState
	if err := json.Unmarshal(data, &state); err != nil {
		return meter.PairState{}, fmt.Errorf("failed to unmarshal pair state: %w", err)
	}
	if state.PairID == "" {
		return meter.PairState{}, errors.New("cached pair state has no pair_id")
	}
	return state, nil
}
