package models

import "time"

// EventType enumerates the realtime events emitted per conversation.
type EventType string

const (
	EventMessageInserted     EventType = "message_inserted"
	EventMessageUpdated      EventType = "message_updated"
	EventMessageDeleted      EventType = "message_deleted"
	EventCommentInserted     EventType = "comment_inserted"
	EventConversationRemoved EventType = "conversation_removed"
	EventReceiptUpdated      EventType = "receipt_updated"
)

// ConversationEvent is published by the store on every commit and fanned
// out to subscribers. Delivery is at-least-once; consumers dedupe by ID.
// Seq orders events within one conversation; there is no ordering across
// conversations.
type ConversationEvent struct {
	ID             string     `json:"id"`
	Type           EventType  `json:"type"`
	ConversationID string     `json:"conversation_id"`
	Seq            int64      `json:"seq"`
	Message        *Message   `json:"message,omitempty"`
	MessageID      string     `json:"message_id,omitempty"`
	UserID         string     `json:"user_id,omitempty"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
}
