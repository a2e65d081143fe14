package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

// MessageRepository abstracts message persistence. Mutating methods return
// the event sequence assigned inside their transaction so broadcast events
// can be replayed in commit order.
type MessageRepository interface {
	CreateMessage(ctx context.Context, conversationID string, senderID string, blocks models.ContentBlocks, replyToID *string) (models.Message, error)
	GetMessage(ctx context.Context, messageID string) (models.Message, error)
	ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error)
	UpdateMessageBlocks(ctx context.Context, messageID string, blocks models.ContentBlocks) (models.Message, int64, error)
	TombstoneMessage(ctx context.Context, messageID string) (models.Message, int64, error)
}

const messageColumns = `id, conversation_id, sender_id, seq, blocks, reply_to_id, is_edited, edited_at, deleted_at, created_at`

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage appends a message inside a transaction that bumps the
// conversation sequence counter. The counter update takes the conversation
// row lock, so a send can never interleave with a cascading conversation
// delete: it either commits before the purge (and is swept away with it) or
// observes the row gone and fails with NotFound.
func (r *MessageRepo) CreateMessage(ctx context.Context, conversationID string, senderID string, blocks models.ContentBlocks, replyToID *string) (models.Message, error) {
	if len(blocks) == 0 {
		return models.Message{}, apperr.Validation("a message needs at least one content block")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.GetContext(ctx, &seq,
		`UPDATE conversations SET last_seq = last_seq + 1 WHERE id=$1 RETURNING last_seq`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, apperr.NotFound("conversation %s not found", conversationID)
	}
	if err != nil {
		return models.Message{}, err
	}

	if replyToID != nil {
		var parentConversation string
		err = tx.GetContext(ctx, &parentConversation,
			`SELECT conversation_id FROM messages WHERE id=$1`, *replyToID)
		if errors.Is(err, sql.ErrNoRows) {
			return models.Message{}, apperr.Validation("reply target %s does not exist", *replyToID)
		}
		if err != nil {
			return models.Message{}, err
		}
		if parentConversation != conversationID {
			return models.Message{}, apperr.Validation("reply target belongs to another conversation")
		}
	}

	msg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Seq:            seq,
		Blocks:         blocks,
		ReplyToID:      replyToID,
		CreatedAt:      time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, seq, blocks, reply_to_id, created_at)
            VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		msg.ID, msg.ConversationID, msg.SenderID, msg.Seq, msg.Blocks, msg.ReplyToID, msg.CreatedAt); err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// GetMessage retrieves a single message, tombstoned or not.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, apperr.NotFound("message %s not found", messageID)
	}
	return msg, err
}

// ListMessages returns non-tombstoned messages in sequence order. afterSeq
// supports resume-from-offset re-fetch; pass 0 for the beginning.
func (r *MessageRepo) ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 200
	}
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs,
		`SELECT `+messageColumns+` FROM messages
            WHERE conversation_id=$1 AND seq > $2 AND deleted_at IS NULL
            ORDER BY seq ASC LIMIT $3`,
		conversationID, afterSeq, limit)
	return msgs, err
}

// UpdateMessageBlocks replaces the content of a live message and marks it
// edited. Returns the updated row and the event sequence of the edit.
func (r *MessageRepo) UpdateMessageBlocks(ctx context.Context, messageID string, blocks models.ContentBlocks) (models.Message, int64, error) {
	if len(blocks) == 0 {
		return models.Message{}, 0, apperr.Validation("a message needs at least one content block")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, 0, err
	}
	defer tx.Rollback()

	var msg models.Message
	err = tx.GetContext(ctx, &msg,
		`UPDATE messages SET blocks=$2, is_edited=TRUE, edited_at=NOW()
            WHERE id=$1 AND deleted_at IS NULL
            RETURNING `+messageColumns, messageID, blocks)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, 0, apperr.NotFound("message %s not found", messageID)
	}
	if err != nil {
		return models.Message{}, 0, err
	}

	var seq int64
	if err := tx.GetContext(ctx, &seq,
		`UPDATE conversations SET last_seq = last_seq + 1 WHERE id=$1 RETURNING last_seq`,
		msg.ConversationID); err != nil {
		return models.Message{}, 0, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, 0, err
	}
	return msg, seq, nil
}

// TombstoneMessage soft-deletes a message. The row is kept so replies can
// keep pointing at it and render a removed-message placeholder.
func (r *MessageRepo) TombstoneMessage(ctx context.Context, messageID string) (models.Message, int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, 0, err
	}
	defer tx.Rollback()

	var msg models.Message
	err = tx.GetContext(ctx, &msg,
		`UPDATE messages SET deleted_at=NOW()
            WHERE id=$1 AND deleted_at IS NULL
            RETURNING `+messageColumns, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, 0, apperr.NotFound("message %s not found", messageID)
	}
	if err != nil {
		return models.Message{}, 0, err
	}

	var seq int64
	if err := tx.GetContext(ctx, &seq,
		`UPDATE conversations SET last_seq = last_seq + 1 WHERE id=$1 RETURNING last_seq`,
		msg.ConversationID); err != nil {
		return models.Message{}, 0, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, 0, err
	}
	return msg, seq, nil
}
