package events

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"

	"go-wiki-engine/internal/logger"
)

// RedisBus propagates events across nodes over Redis pub/sub. Redis pub/sub
// is fire-and-forget per connected subscriber; combined with idempotent
// handlers this gives the at-least-once semantics cache invalidation needs.
type RedisBus struct {
	client *redis.Client
	prefix string
	log    logger.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewRedisBus connects to Redis at the given URL and verifies the
// connection. The prefix namespaces channels (e.g. "wiki:").
func NewRedisBus(ctx context.Context, url, prefix string, log logger.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &RedisBus{client: client, prefix: prefix, log: log}, nil
}

func (b *RedisBus) channel(event string) string {
	return b.prefix + event
}

// Emit publishes the payload on the event's channel.
func (b *RedisBus) Emit(ctx context.Context, event, payload string) error {
	return b.client.Publish(ctx, b.channel(event), payload).Err()
}

// Subscribe starts a goroutine delivering every message on the event's
// channel to the handler. The goroutine exits when the context is cancelled
// or the bus is closed.
func (b *RedisBus) Subscribe(ctx context.Context, event string, handler func(payload string)) error {
	sub := b.client.Subscribe(ctx, b.channel(event))
	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(msg.Payload)
			}
		}
	}()
	return nil
}

// Close tears down all subscriptions and the client connection.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		if err := sub.Close(); err != nil {
			b.log.Warn("Failed to close redis subscription: " + err.Error())
		}
	}
	b.subs = nil
	b.mu.Unlock()
	return b.client.Close()
}
