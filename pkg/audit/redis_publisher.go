package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/socketgate/pkg/observability"
)

// MonitorChannel is the reserved broadcast channel for administrative observers
const MonitorChannel = "admin:audit"

// RedisPublisher publishes monitoring events over Redis pub/sub so every
// gateway instance can relay them to its admin connections
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRedisPublisher publishes on channel, or MonitorChannel when empty.
// logger and metrics may be nil.
func NewRedisPublisher(client *redis.Client, channel string, logger *observability.Logger, metrics *observability.Metrics) *RedisPublisher {
	if channel == "" {
		channel = MonitorChannel
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.WithField("channel", channel),
		metrics: metrics,
	}
}

// Publish sends one event
func (p *RedisPublisher) Publish(ctx context.Context, event MonitorEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode monitor event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish monitor event: %w", err)
	}
	return nil
}

// Relay subscribes to the channel and hands every decoded event to next
// until ctx is done. Undecodable payloads are skipped. Relay failures are
// logged and counted; they never stop the subscription.
func (p *RedisPublisher) Relay(ctx context.Context, next Publisher) error {
	sub := p.client.Subscribe(ctx, p.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", p.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event MonitorEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				p.logger.WithError(err).Debug("Skipping undecodable monitor event")
				continue
			}
			if err := next.Publish(ctx, event); err != nil {
				p.metrics.ObserveAuditFailure("relay")
				p.logger.WithError(err).WithField("connection_id", event.ConnectionID).Debug("Failed to relay monitor event")
			}
		}
	}
}
