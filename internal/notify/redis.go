package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultChannel = "tramando:events"

// RedisNotifier publishes events as JSON on a Redis pub/sub channel, so
// every connected session sees them regardless of which API instance
// produced them.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

// NewRedisNotifier connects to Redis and verifies the connection before
// returning.
func NewRedisNotifier(redisURL string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisNotifier{client: client, channel: defaultChannel}, nil
}

func (n *RedisNotifier) Notify(ctx context.Context, event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("notify: marshal event %s: %v", event.Type, err)
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		log.Printf("notify: publish %s: %v", event.Type, err)
	}
}

// Subscribe returns a pub/sub subscription on the event channel. The caller
// owns the subscription and must Close it.
func (n *RedisNotifier) Subscribe(ctx context.Context) *redis.PubSub {
	return n.client.Subscribe(ctx, n.channel)
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

// LogNotifier writes events to the process log. It is the fallback when no
// Redis URL is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event Event) {
	log.Printf("notify: %s chunk=%s %s", event.Type, event.ChunkID, event.Message)
}
