// Package eventbus carries the commands and notifications exchanged
// between the chat flow and the editor bridge inside one process.
package eventbus

import (
	"context"
	"log/slog"
	"sync"

	"draftpilot/internal/domain"
)

// Bus fans events out to registered handlers. Handlers run on their own
// goroutines, so Publish never blocks on a slow subscriber.
type Bus struct {
	logger *slog.Logger

	mu     sync.Mutex
	nextID uint64
	byType map[domain.EventType]map[uint64]domain.EventHandler
	every  map[uint64]domain.EventHandler
	closed bool

	inflight sync.WaitGroup
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		byType: make(map[domain.EventType]map[uint64]domain.EventHandler),
		every:  make(map[uint64]domain.EventHandler),
	}
}

// Publish delivers an event to every handler subscribed to its type and
// to every catch-all handler. Events published after Close are dropped.
func (b *Bus) Publish(ctx context.Context, event domain.Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	handlers := make([]domain.EventHandler, 0, len(b.byType[event.Type])+len(b.every))
	for _, h := range b.byType[event.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.every {
		handlers = append(handlers, h)
	}
	b.inflight.Add(len(handlers))
	b.mu.Unlock()

	for _, h := range handlers {
		go b.run(ctx, event, h)
	}
}

func (b *Bus) run(ctx context.Context, event domain.Event, handler domain.EventHandler) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				"event", string(event.Type),
				"panic", r,
			)
		}
	}()
	handler(ctx, event)
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe function.
func (b *Bus) Subscribe(eventType domain.EventType, handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.byType[eventType] == nil {
		b.byType[eventType] = make(map[uint64]domain.EventHandler)
	}
	b.byType[eventType][id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.byType[eventType], id)
	}
}

// SubscribeAll registers a handler for every event and returns its
// unsubscribe function.
func (b *Bus) SubscribeAll(handler domain.EventHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.every[id] = handler
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.every, id)
	}
}

// Close stops delivery and waits for the handlers already running.
// Idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.inflight.Wait()
}
