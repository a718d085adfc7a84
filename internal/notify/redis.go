package notify

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher pushes events onto a pub/sub channel for out-of-process
// dispatchers (push senders, websocket gateways). Failures are logged and
// dropped: delivery is best-effort.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("notify: failed to marshal event type=%s user=%s: %v", event.Type, event.UserID, err)
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		log.Printf("notify: failed to publish event type=%s user=%s: %v", event.Type, event.UserID, err)
	}
}
