package localbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	registrybus "github.com/openpaas/chat-service/internal/registry/bus"
	"github.com/openpaas/chat-service/internal/security"
)

func init() {
	registrybus.Register(registrybus.Plugin{
		Name: "local",
		Loader: func(ctx context.Context) (registrybus.EventBus, error) {
			return New(), nil
		},
	})
}

// LocalBus is an in-process EventBus for single-node deployments and tests.
// Handlers run synchronously inside Publish, so a returned Publish means every
// current subscriber has already observed the event.
type LocalBus struct {
	mu       sync.Mutex
	nextID   int
	handlers map[registrybus.Topic]map[int]registrybus.Handler
	closed   bool
}

func New() *LocalBus {
	return &LocalBus{handlers: map[registrybus.Topic]map[int]registrybus.Handler{}}
}

func (b *LocalBus) Publish(ctx context.Context, topic registrybus.Topic, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode event for topic %s: %w", topic, err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	hs := make([]registrybus.Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(ctx, data)
	}
	if security.EventsPublishedTotal != nil {
		security.EventsPublishedTotal.WithLabelValues(string(topic)).Inc()
	}
	return nil
}

func (b *LocalBus) Subscribe(topic registrybus.Topic, h registrybus.Handler) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}
	if b.handlers[topic] == nil {
		b.handlers[topic] = map[int]registrybus.Handler{}
	}
	id := b.nextID
	b.nextID++
	b.handlers[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[topic], id)
	}, nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = map[registrybus.Topic]map[int]registrybus.Handler{}
	return nil
}
