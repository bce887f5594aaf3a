package alert

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisThrottlePrefix = "bypass:alert:throttle:"

// RedisThrottle shares the per-pair throttle between monitor replicas. Keys
// expire after the window, so an existing key means the pair is cooling down.
// When Redis is unreachable it falls back to an in-process Throttle.
type RedisThrottle struct {
	rdb      *redis.Client
	window   time.Duration
	timeout  time.Duration
	fallback *Throttle
	logger   *zap.Logger
}

// NewRedisThrottle creates a Redis backed throttle
func NewRedisThrottle(rdb *redis.Client, window time.Duration, logger *zap.Logger) *RedisThrottle {
	if window <= 0 {
		window = ThrottleWindow
	}
	return &RedisThrottle{
		rdb:      rdb,
		window:   window,
		timeout:  2 * time.Second,
		fallback: NewThrottle(window),
		logger:   logger,
	}
}

// TryAcquire sets the pair key only if absent, with the window as its TTL
func (t *RedisThrottle) TryAcquire(key string, now time.Time) bool {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	ok, err := t.rdb.SetNX(ctx, redisThrottlePrefix+key, now.UnixMilli(), t.window).Result()
	if err != nil {
		t.logger.Warn("redis throttle unavailable, using local throttle",
			zap.String("pair_id", key),
			zap.Error(err),
		)
		return t.fallback.TryAcquire(key, now)
	}
	if ok {
		// keep the local copy warm for outages
		t.fallback.TryAcquire(key, now)
	}
	return ok
}

// TimeRemaining reads the key TTL
func (t *RedisThrottle) TimeRemaining(key string, now time.Time) time.Duration {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	ttl, err := t.rdb.PTTL(ctx, redisThrottlePrefix+key).Result()
	if err != nil {
		return t.fallback.TimeRemaining(key, now)
	}
	if ttl < 0 {
		return 0
	}
	return ttl
}
