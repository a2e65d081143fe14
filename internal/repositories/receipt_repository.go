package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"messaging-service/internal/apperr"
	"messaging-service/internal/models"
)

// ReceiptRepository tracks per-participant read watermarks.
type ReceiptRepository interface {
	MarkRead(ctx context.Context, conversationID string, userID string, upTo time.Time) (time.Time, error)
	UnreadCount(ctx context.Context, conversationID string, userID string) (int, error)
	IsMessageRead(ctx context.Context, msg models.Message) (bool, error)
}

// ReceiptRepo is a sqlx implementation of ReceiptRepository.
type ReceiptRepo struct {
	db *sqlx.DB
}

// NewReceiptRepo constructs a ReceiptRepo.
func NewReceiptRepo(db *sqlx.DB) *ReceiptRepo {
	return &ReceiptRepo{db: db}
}

// MarkRead advances the watermark to max(current, upTo). GREATEST makes the
// update idempotent and commutative, so concurrent sessions of the same
// user converge without locking no matter the arrival order.
func (r *ReceiptRepo) MarkRead(ctx context.Context, conversationID string, userID string, upTo time.Time) (time.Time, error) {
	var lastRead time.Time
	err := r.db.GetContext(ctx, &lastRead,
		`UPDATE participants
            SET last_read_at = GREATEST(COALESCE(last_read_at, 'epoch'::timestamptz), $3)
            WHERE conversation_id=$1 AND user_id=$2
            RETURNING last_read_at`,
		conversationID, userID, upTo)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, apperr.NotFound("participant %s not found in conversation %s", userID, conversationID)
	}
	return lastRead, err
}

// UnreadCount counts live messages from other senders past the watermark.
func (r *ReceiptRepo) UnreadCount(ctx context.Context, conversationID string, userID string) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages m
            JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id = $2
            WHERE m.conversation_id=$1
            AND m.deleted_at IS NULL
            AND m.sender_id <> $2
            AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)`,
		conversationID, userID)
	return count, err
}

// IsMessageRead reports whether some other participant's watermark covers
// the message.
func (r *ReceiptRepo) IsMessageRead(ctx context.Context, msg models.Message) (bool, error) {
	var read bool
	err := r.db.GetContext(ctx, &read,
		`SELECT EXISTS(SELECT 1 FROM participants
            WHERE conversation_id=$1 AND user_id <> $2 AND last_read_at >= $3)`,
		msg.ConversationID, msg.SenderID, msg.CreatedAt)
	return read, err
}
