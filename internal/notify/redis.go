package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channel carrying link events for the downstream notification service.
const Channel = "careconnect:link-events"

// RedisNotifier publishes link events to a Redis channel consumed by the
// platform's notification dispatcher.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier creates a notifier on an existing Redis connection.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Publish sends the event to the link-events channel.
func (n *RedisNotifier) Publish(ctx context.Context, event LinkEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal link event: %w", err)
	}

	if err := n.client.Publish(ctx, Channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish link event: %w", err)
	}

	return nil
}
