package events

import (
	"context"
	"sync"
)

// EventBus defines the interface for event publishing and subscription
type EventBus interface {
	// Publish publishes an event to the bus
	Publish(ctx context.Context, event Event) error

	// Subscribe creates a subscription to events matching a pattern
	Subscribe(ctx context.Context, pattern string, consumerName string, handler Handler) error

	// Close closes the event bus connection
	Close()

	// Health checks the event bus connection
	Health() error
}

// Ensure Bus implements EventBus
var _ EventBus = (*Bus)(nil)

// MemoryBus is an in-process EventBus used in tests and when KurrentDB is
// not configured. Delivery is synchronous.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	events   []Event
}

// NewMemoryBus creates an in-process event bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]Handler)}
}

// Publish delivers the event to all handlers whose pattern matches.
func (m *MemoryBus) Publish(ctx context.Context, event Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	var matched []Handler
	for pattern, hs := range m.handlers {
		if matchesPattern(event.Type, pattern) {
			matched = append(matched, hs...)
		}
	}
	m.mu.Unlock()

	for _, h := range matched {
		if err := h(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Subscribe registers a handler for a pattern.
func (m *MemoryBus) Subscribe(_ context.Context, pattern string, _ string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[pattern] = append(m.handlers[pattern], handler)
	return nil
}

// Published returns a copy of all events published so far.
func (m *MemoryBus) Published() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Close is a no-op for the in-process bus.
func (m *MemoryBus) Close() {}

// Health always succeeds for the in-process bus.
func (m *MemoryBus) Health() error { return nil }

var _ EventBus = (*MemoryBus)(nil)
