package changefeed

import (
	"context"
	"sync"

	"messaging-service/internal/models"
)

// MemoryFeed is a synchronous in-process feed. Publish invokes every
// registered handler before returning, which keeps tests deterministic and
// serves single-node deployments without a broker.
type MemoryFeed struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewMemoryFeed builds an empty feed.
func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{}
}

// Publish delivers the event to every handler in registration order.
func (f *MemoryFeed) Publish(_ context.Context, event models.ConversationEvent) error {
	f.mu.RLock()
	handlers := f.handlers
	closed := f.closed
	f.mu.RUnlock()

	if closed {
		return nil
	}
	for _, h := range handlers {
		h(event)
	}
	return nil
}

// Consume registers the handler.
func (f *MemoryFeed) Consume(_ context.Context, handler Handler) error {
	f.mu.Lock()
	f.handlers = append(f.handlers, handler)
	f.mu.Unlock()
	return nil
}

// Close stops further deliveries.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	f.closed = true
	f.handlers = nil
	f.mu.Unlock()
	return nil
}
