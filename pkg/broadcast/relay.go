package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis channel events are relayed on.
const DefaultChannel = "enricher:events"

// RedisRelay carries events between processes over Redis pub/sub. Workers
// publish; every process running Run delivers to its own subscribers.
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisRelay creates a relay on channel. An empty channel uses
// DefaultChannel.
func NewRedisRelay(client *redis.Client, channel string, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

// Channel returns the Redis channel name.
func (r *RedisRelay) Channel() string { return r.channel }

// Publish sends msg to every process listening on the channel.
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("relay: marshal: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

// Run subscribes to the channel and hands each message to b.Deliver until ctx
// is cancelled. ready, when non-nil, is closed once the subscription is live.
func (r *RedisRelay) Run(ctx context.Context, b *Broadcaster, ready chan<- struct{}) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("relay: subscribe %s: %w", r.channel, err)
	}
	if ready != nil {
		close(ready)
	}
	r.logger.Info("event relay subscribed", "channel", r.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger.Warn("dropping malformed relayed event", "channel", r.channel, "error", err)
				continue
			}
			b.Deliver(ctx, msg)
		}
	}
}
