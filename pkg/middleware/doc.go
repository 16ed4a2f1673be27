// Package middleware provides the sliding window rate limiters used by the
// gateway.
//
// # Overview
//
// Two Limiter implementations share one contract: Check is read-only,
// Increment records one attempt, TimeUntilReset reports when the oldest
// counted attempt leaves the window, and Cleanup releases every key.
//
// SlidingWindowLimiter: in-process, per-key timestamp slices
//
//	limiter := middleware.NewSlidingWindowLimiter(middleware.ConnectionAttemptConfig())
//	dropped := limiter.Sweep() // from a periodic janitor
//
// RedisSlidingWindowLimiter: shared across instances, one ZSET per key
//
//	limiter := middleware.NewRedisSlidingWindowLimiter(redisClient, cfg, "ratelimit:conn")
//
// # Namespaces
//
// Connection attempts and per-event throughput use separate limiter
// instances. In-memory limiters never share maps; Redis limiters must be
// given distinct prefixes.
//
// # Defaults
//
// Connection attempts: 10 per 15 minutes, keyed by client address
// Events: 60 per minute, keyed by user and event name
//
// # Related Packages
//
//   - pkg/gateway: AuthenticationStage and EventThrottle
//   - pkg/config: limiter settings
package middleware
