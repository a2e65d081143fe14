package models

import "time"

// Role expresses a participant's role within a conversation.
type Role string

const (
	RoleMember  Role = "member"
	RoleManager Role = "manager"
)

// Conversation groups participants and messages; 1:1 or group.
type Conversation struct {
	ID        string    `db:"id" json:"id"`
	IsGroup   bool      `db:"is_group" json:"is_group"`
	Name      *string   `db:"name" json:"name,omitempty"`
	LastSeq   int64     `db:"last_seq" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Participant associates a user to a conversation and carries the
// read watermark. LastReadAt only ever moves forward.
type Participant struct {
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Role           Role       `db:"role" json:"role"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}

// ConversationSummary is the API-friendly view used by conversation lists.
type ConversationSummary struct {
	ConversationID string     `db:"id" json:"conversation_id"`
	Name           *string    `db:"name" json:"name,omitempty"`
	IsGroup        bool       `db:"is_group" json:"is_group"`
	LastMessageAt  *time.Time `db:"last_message_at" json:"last_message_at,omitempty"`
	UnreadCount    int        `db:"unread_count" json:"unread_count"`
}
