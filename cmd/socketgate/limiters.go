package main

import (
	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/socketgate/pkg/gateway"
	"github.com/platinummonkey/socketgate/pkg/middleware"
)

// connLimiterPrefix namespaces connection attempts in Redis
const connLimiterPrefix = "socketgate:conn"

// eventLimiterPrefix namespaces one event policy in Redis
func eventLimiterPrefix(policy string) string {
	if policy == "" {
		policy = "default"
	}
	return "socketgate:event:" + policy
}

// redisLimiters builds the connection limiter and event limiter factory shared
// by every replica
func redisLimiters(rdb *redis.Client, conn *middleware.RateLimitConfig) (*middleware.RedisSlidingWindowLimiter, gateway.LimiterFactory) {
	factory := func(name string, cfg *middleware.RateLimitConfig) middleware.Limiter {
		return middleware.NewRedisSlidingWindowLimiter(rdb, cfg, eventLimiterPrefix(name))
	}
	return middleware.NewRedisSlidingWindowLimiter(rdb, conn, connLimiterPrefix), factory
}
