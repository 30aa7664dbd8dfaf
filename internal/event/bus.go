// Package event provides the in-memory pub/sub bus the discovery engine
// publishes lifecycle notifications through. The orchestrator owns its bus;
// collaborators subscribe at construction time.
package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is a single lifecycle notification.
type Event struct {
	Topic     string    `json:"topic"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// Handler consumes events. Handlers must not block for long in synchronous
// dispatch; slow consumers should subscribe with async publication in mind.
type Handler func(ctx context.Context, e Event)

type subscription struct {
	token   uint64
	handler Handler
}

// Bus is an in-memory event bus. Publish runs handlers in the caller's
// goroutine; PublishAsync dispatches each handler in its own goroutine.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]subscription
	anySub []subscription
	next   uint64
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		topics: make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for one topic and returns an unsubscribe
// function.
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	token := b.next
	b.next++
	b.topics[topic] = append(b.topics[topic], subscription{token: token, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.topics[topic]
		for i, s := range subs {
			if s.token == token {
				b.topics[topic] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAll registers a handler for every topic and returns an unsubscribe
// function.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	token := b.next
	b.next++
	b.anySub = append(b.anySub, subscription{token: token, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.anySub {
			if s.token == token {
				b.anySub = append(b.anySub[:i], b.anySub[i+1:]...)
				return
			}
		}
	}
}

// Publish dispatches an event synchronously to all matching handlers.
func (b *Bus) Publish(ctx context.Context, e Event) {
	for _, s := range b.matching(e.Topic) {
		b.safeCall(ctx, s.handler, e)
	}
}

// PublishAsync dispatches an event with each handler in its own goroutine.
func (b *Bus) PublishAsync(ctx context.Context, e Event) {
	for _, s := range b.matching(e.Topic) {
		go b.safeCall(ctx, s.handler, e)
	}
}

// matching returns a copy of the subscriptions interested in topic, so
// handlers can unsubscribe during dispatch without corrupting iteration.
func (b *Bus) matching(topic string) []subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]subscription, 0, len(b.topics[topic])+len(b.anySub))
	out = append(out, b.topics[topic]...)
	out = append(out, b.anySub...)
	return out
}

func (b *Bus) safeCall(ctx context.Context, h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", e.Topic),
				zap.String("source", e.Source),
				zap.Any("panic", r),
			)
		}
	}()
	h(ctx, e)
}
