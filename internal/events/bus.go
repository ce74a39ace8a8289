package events

import (
	"context"
	"sync"
)

// Event names propagated between nodes.
const (
	EventDeletePageFromCache = "deletePageFromCache"
	EventFlushCache          = "flushCache"
)

// Bus is a pub/sub channel with at-least-once delivery. Handlers must be
// idempotent: the same payload may be delivered more than once, and a node
// receives its own emissions.
type Bus interface {
	Emit(ctx context.Context, event, payload string) error
	Subscribe(ctx context.Context, event string, handler func(payload string)) error
	Close() error
}

// LocalBus is the in-process Bus used on single-node deployments and in
// tests. Delivery is synchronous.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string][]func(payload string)
}

// NewLocalBus creates an empty in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{handlers: make(map[string][]func(payload string))}
}

// Emit delivers the payload to every handler subscribed to the event.
func (b *LocalBus) Emit(_ context.Context, event, payload string) error {
	b.mu.RLock()
	handlers := b.handlers[event]
	b.mu.RUnlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

// Subscribe registers a handler for the event.
func (b *LocalBus) Subscribe(_ context.Context, event string, handler func(payload string)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
	return nil
}

// Close is a no-op for the in-process bus.
func (b *LocalBus) Close() error {
	return nil
}
