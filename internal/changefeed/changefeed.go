// Package changefeed carries committed row events from the store to the
// realtime broadcaster. The production feed rides a RabbitMQ topic
// exchange; the in-memory feed backs tests and single-node deployments.
package changefeed

import (
	"context"

	"messaging-service/internal/models"
)

// Publisher emits one event per committed mutation.
type Publisher interface {
	Publish(ctx context.Context, event models.ConversationEvent) error
}

// Handler receives consumed events. Delivery is at-least-once; handlers
// must be idempotent.
type Handler func(event models.ConversationEvent)

// Subscriber attaches a handler to the feed.
type Subscriber interface {
	Consume(ctx context.Context, handler Handler) error
}

// Feed is both ends of the change feed.
type Feed interface {
	Publisher
	Subscriber
	Close() error
}
