package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// BlockKind tags a content block variant.
type BlockKind string

const (
	BlockText     BlockKind = "text"
	BlockImage    BlockKind = "image"
	BlockDocument BlockKind = "document"
	BlockAudio    BlockKind = "audio"
)

// ContentBlock is one ordered segment of a message body. Text blocks carry
// Text; attachment blocks carry URL, Filename and SizeBytes. Interleaving
// of text and attachments is preserved exactly as submitted.
type ContentBlock struct {
	Kind      BlockKind `json:"kind"`
	Text      string    `json:"text,omitempty"`
	URL       string    `json:"url,omitempty"`
	Filename  string    `json:"filename,omitempty"`
	SizeBytes int64     `json:"size_bytes,omitempty"`
}

// IsAttachment reports whether the block references stored media.
func (b ContentBlock) IsAttachment() bool {
	return b.Kind == BlockImage || b.Kind == BlockDocument || b.Kind == BlockAudio
}

// ContentBlocks is stored as a JSONB column.
type ContentBlocks []ContentBlock

// Value implements driver.Valuer.
func (cb ContentBlocks) Value() (driver.Value, error) {
	return json.Marshal(cb)
}

// Scan implements sql.Scanner.
func (cb *ContentBlocks) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, cb)
	case string:
		return json.Unmarshal([]byte(v), cb)
	case nil:
		*cb = nil
		return nil
	default:
		return fmt.Errorf("unsupported content blocks type %T", src)
	}
}

// Message is a single entry in a conversation. Seq is assigned inside the
// send transaction and is unique and monotonic per conversation.
type Message struct {
	ID             string        `db:"id" json:"id"`
	ConversationID string        `db:"conversation_id" json:"conversation_id"`
	SenderID       string        `db:"sender_id" json:"sender_id"`
	Seq            int64         `db:"seq" json:"seq"`
	Blocks         ContentBlocks `db:"blocks" json:"blocks"`
	ReplyToID      *string       `db:"reply_to_id" json:"reply_to_id,omitempty"`
	IsEdited       bool          `db:"is_edited" json:"is_edited"`
	EditedAt       *time.Time    `db:"edited_at" json:"edited_at,omitempty"`
	DeletedAt      *time.Time    `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// Tombstoned reports whether the message has been soft deleted.
func (m Message) Tombstoned() bool {
	return m.DeletedAt != nil
}
