package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
	"github.com/openpaas/chat-service/internal/config"
	registrybus "github.com/openpaas/chat-service/internal/registry/bus"
	"github.com/openpaas/chat-service/internal/security"
)

func init() {
	registrybus.Register(registrybus.Plugin{
		Name: "nats",
		Loader: func(ctx context.Context) (registrybus.EventBus, error) {
			cfg := config.FromContext(ctx)
			url := cfg.NATSURL
			if url == "" {
				url = nats.DefaultURL
			}
			opts := []nats.Option{
				nats.Name("chat-service"),
				nats.MaxReconnects(-1),
				nats.ReconnectWait(2 * time.Second),
				nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
					log.Warn("NATS disconnected", "err", err)
				}),
				nats.ReconnectHandler(func(nc *nats.Conn) {
					log.Info("NATS reconnected", "url", nc.ConnectedUrl())
				}),
			}
			nc, err := nats.Connect(url, opts...)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to NATS: %w", err)
			}
			return &natsBus{conn: nc}, nil
		},
	})
}

// natsBus carries events over core NATS publish/subscribe. Topic names map
// directly to NATS subjects.
type natsBus struct {
	conn *nats.Conn
}

func (b *natsBus) Publish(ctx context.Context, topic registrybus.Topic, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event for topic %s: %w", topic, err)
	}
	if err := b.conn.Publish(string(topic), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	if security.EventsPublishedTotal != nil {
		security.EventsPublishedTotal.WithLabelValues(string(topic)).Inc()
	}
	return nil
}

func (b *natsBus) Subscribe(topic registrybus.Topic, h registrybus.Handler) (func(), error) {
	sub, err := b.conn.Subscribe(string(topic), func(m *nats.Msg) {
		h(context.Background(), m.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn("Failed to unsubscribe", "topic", topic, "err", err)
		}
	}, nil
}

func (b *natsBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
