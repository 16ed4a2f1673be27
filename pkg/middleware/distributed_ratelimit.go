package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisSlidingWindowLimiter implements Limiter on Redis sorted sets so that
// several gateway instances share one view of each key. Every key is a ZSET
// of attempt timestamps (microseconds) under the limiter's own prefix.
type RedisSlidingWindowLimiter struct {
	redis    *redis.Client
	config   *RateLimitConfig
	prefix   string
	failOpen bool
	now      func() time.Time
}

// NewRedisSlidingWindowLimiter creates a new Redis-backed limiter
func NewRedisSlidingWindowLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *RedisSlidingWindowLimiter {
	if config == nil {
		config = DefaultEventConfig()
	}
	if prefix == "" {
		prefix = "ratelimit"
	}

	return &RedisSlidingWindowLimiter{
		redis:    redisClient,
		config:   config,
		prefix:   prefix,
		failOpen: true,
		now:      time.Now,
	}
}

// SetFallbackEnabled controls what Check reports when Redis is unreachable:
// allowed (fail open, the default) or denied (fail closed). The error is
// returned either way.
func (l *RedisSlidingWindowLimiter) SetFallbackEnabled(enabled bool) {
	l.failOpen = enabled
}

// SetClock replaces the time source. Used by tests.
func (l *RedisSlidingWindowLimiter) SetClock(now func() time.Time) {
	l.now = now
}

// Config returns the limiter configuration
func (l *RedisSlidingWindowLimiter) Config() RateLimitConfig {
	return *l.config
}

func (l *RedisSlidingWindowLimiter) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

func (l *RedisSlidingWindowLimiter) cutoff(now time.Time) string {
	return strconv.FormatInt(now.Add(-l.config.Window).UnixMicro(), 10)
}

// Check reports whether key is under its limit
func (l *RedisSlidingWindowLimiter) Check(ctx context.Context, key string) (bool, error) {
	redisKey := l.redisKey(key)

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", l.cutoff(l.now()))
	card := pipe.ZCard(ctx, redisKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return l.failOpen, fmt.Errorf("redis error: %w", err)
	}

	return card.Val() < int64(l.config.MaxAttempts), nil
}

// Increment records one attempt for key
func (l *RedisSlidingWindowLimiter) Increment(ctx context.Context, key string) error {
	redisKey := l.redisKey(key)
	now := l.now()
	micros := now.UnixMicro()

	pipe := l.redis.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", l.cutoff(now))
	pipe.ZAdd(ctx, redisKey, &redis.Z{
		Score:  float64(micros),
		Member: fmt.Sprintf("%d-%s", micros, uuid.NewString()),
	})
	pipe.PExpire(ctx, redisKey, l.config.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

// Count returns the number of attempts currently inside the window for key
func (l *RedisSlidingWindowLimiter) Count(ctx context.Context, key string) (int64, error) {
	return l.redis.ZCount(ctx, l.redisKey(key), "("+l.cutoff(l.now()), "+inf").Result()
}

// TimeUntilReset returns how long until the oldest counted attempt leaves the window
func (l *RedisSlidingWindowLimiter) TimeUntilReset(ctx context.Context, key string) (time.Duration, error) {
	now := l.now()
	oldest, err := l.redis.ZRangeByScoreWithScores(ctx, l.redisKey(key), &redis.ZRangeBy{
		Min:   "(" + l.cutoff(now),
		Max:   "+inf",
		Count: 1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	if len(oldest) == 0 {
		return 0, nil
	}

	earliest := time.UnixMicro(int64(oldest[0].Score))
	remaining := earliest.Add(l.config.Window).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Reset clears the attempts for a key (admin purposes)
func (l *RedisSlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	return l.redis.Del(ctx, l.redisKey(key)).Err()
}

// Cleanup deletes every key under the limiter prefix
func (l *RedisSlidingWindowLimiter) Cleanup(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := l.redis.Scan(ctx, cursor, l.prefix+":*", 100).Result()
		if err != nil {
			return fmt.Errorf("redis error: %w", err)
		}
		if len(keys) > 0 {
			if err := l.redis.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis error: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// HealthCheck verifies Redis is reachable
func (l *RedisSlidingWindowLimiter) HealthCheck(ctx context.Context) error {
	return l.redis.Ping(ctx).Err()
}
