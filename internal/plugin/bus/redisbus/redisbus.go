package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/openpaas/chat-service/internal/config"
	registrybus "github.com/openpaas/chat-service/internal/registry/bus"
	"github.com/openpaas/chat-service/internal/security"
	"github.com/redis/go-redis/v9"
)

func init() {
	registrybus.Register(registrybus.Plugin{
		Name: "redis",
		Loader: func(ctx context.Context) (registrybus.EventBus, error) {
			cfg := config.FromContext(ctx)
			url := cfg.RedisURL
			if url == "" {
				url = "redis://localhost:6379"
			}
			opts, err := redis.ParseURL(url)
			if err != nil {
				return nil, fmt.Errorf("invalid Redis URL: %w", err)
			}
			client := redis.NewClient(opts)
			if err := client.Ping(ctx).Err(); err != nil {
				return nil, fmt.Errorf("failed to ping Redis: %w", err)
			}
			return &redisBus{client: client}, nil
		},
	})
}

// redisBus carries events over Redis Pub/Sub channels. Delivery is
// best-effort: subscribers that are down when an event fires never see it.
type redisBus struct {
	client *redis.Client

	mu   sync.Mutex
	subs []*redis.PubSub
}

func (b *redisBus) Publish(ctx context.Context, topic registrybus.Topic, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event for topic %s: %w", topic, err)
	}
	if err := b.client.Publish(ctx, string(topic), data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	if security.EventsPublishedTotal != nil {
		security.EventsPublishedTotal.WithLabelValues(string(topic)).Inc()
	}
	return nil
}

func (b *redisBus) Subscribe(topic registrybus.Topic, h registrybus.Handler) (func(), error) {
	ctx := context.Background()
	pubsub := b.client.Subscribe(ctx, string(topic))
	// Receive forces the SUBSCRIBE round trip so a Publish issued after
	// Subscribe returns is observed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	go func() {
		for msg := range pubsub.Channel() {
			h(ctx, []byte(msg.Payload))
		}
	}()

	return func() {
		if err := pubsub.Close(); err != nil {
			log.Warn("Failed to unsubscribe", "topic", topic, "err", err)
		}
	}, nil
}

func (b *redisBus) Close() error {
	b.mu.Lock()
	for _, s := range b.subs {
		s.Close()
	}
	b.subs = nil
	b.mu.Unlock()
	return b.client.Close()
}
