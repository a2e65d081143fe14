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

// ConversationRepository abstracts conversation and participant persistence.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, creatorID string, participantIDs []string, name *string, isGroup bool) (models.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error)
	GetParticipant(ctx context.Context, conversationID string, userID string) (models.Participant, error)
	ListParticipants(ctx context.Context, conversationID string) ([]models.Participant, error)
	ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error)
	NextEventSeq(ctx context.Context, conversationID string) (int64, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// CreateConversation creates a conversation and its participant rows in one
// transaction. A non-group conversation has exactly two participants; a
// group has at least two and a name. The creator of a group is its manager.
func (r *ConversationRepo) CreateConversation(ctx context.Context, creatorID string, participantIDs []string, name *string, isGroup bool) (models.Conversation, error) {
	members := dedupeWithCreator(creatorID, participantIDs)
	if len(members) < 2 {
		return models.Conversation{}, apperr.Validation("a conversation needs at least one other participant")
	}
	if !isGroup && len(members) != 2 {
		return models.Conversation{}, apperr.Validation("a direct conversation has exactly two participants")
	}
	if isGroup && (name == nil || *name == "") {
		return models.Conversation{}, apperr.Validation("a group conversation needs a name")
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer tx.Rollback()

	conv := models.Conversation{
		ID:        uuid.NewString(),
		IsGroup:   isGroup,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (id, is_group, name, created_at) VALUES ($1, $2, $3, $4)`,
		conv.ID, conv.IsGroup, conv.Name, conv.CreatedAt); err != nil {
		return models.Conversation{}, err
	}

	for _, userID := range members {
		role := models.RoleMember
		if isGroup && userID == creatorID {
			role = models.RoleManager
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (conversation_id, user_id, role) VALUES ($1, $2, $3)`,
			conv.ID, userID, role); err != nil {
			return models.Conversation{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// GetConversation fetches a conversation by id.
func (r *ConversationRepo) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT id, is_group, name, last_seq, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, apperr.NotFound("conversation %s not found", conversationID)
	}
	return conv, err
}

// IsParticipant checks whether the user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID)
	return exists, err
}

// GetParticipant fetches a single participant row.
func (r *ConversationRepo) GetParticipant(ctx context.Context, conversationID string, userID string) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p,
		`SELECT conversation_id, user_id, role, last_read_at FROM participants WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, apperr.NotFound("participant %s not found in conversation %s", userID, conversationID)
	}
	return p, err
}

// ListParticipants returns every participant of the conversation.
func (r *ConversationRepo) ListParticipants(ctx context.Context, conversationID string) ([]models.Participant, error) {
	var parts []models.Participant
	err := r.db.SelectContext(ctx, &parts,
		`SELECT conversation_id, user_id, role, last_read_at FROM participants WHERE conversation_id=$1 ORDER BY user_id`,
		conversationID)
	return parts, err
}

// ListConversations returns summaries visible to the user, newest activity
// first, each carrying the unread count derived from the read watermark.
func (r *ConversationRepo) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	query := `SELECT c.id, c.name, c.is_group,
            (SELECT MAX(m.created_at) FROM messages m
                WHERE m.conversation_id = c.id AND m.deleted_at IS NULL) AS last_message_at,
            (SELECT COUNT(*) FROM messages m
                WHERE m.conversation_id = c.id
                AND m.deleted_at IS NULL
                AND m.sender_id <> p.user_id
                AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)) AS unread_count
        FROM conversations c
        JOIN participants p ON p.conversation_id = c.id
        WHERE p.user_id = $1
        ORDER BY last_message_at DESC NULLS LAST, c.created_at DESC`
	var summaries []models.ConversationSummary
	err := r.db.SelectContext(ctx, &summaries, query, userID)
	return summaries, err
}

// NextEventSeq bumps and returns the conversation's event sequence. Every
// mutation routed through it is therefore totally ordered within the
// conversation.
func (r *ConversationRepo) NextEventSeq(ctx context.Context, conversationID string) (int64, error) {
	var seq int64
	err := r.db.GetContext(ctx, &seq,
		`UPDATE conversations SET last_seq = last_seq + 1 WHERE id=$1 RETURNING last_seq`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, apperr.NotFound("conversation %s not found", conversationID)
	}
	return seq, err
}

// DeleteConversation removes the conversation and cascades messages and
// participants. The exclusive row lock serializes the purge against
// in-flight sends: a send that loses the race observes a missing row and
// fails, one that wins commits and is swept away by the cascade.
func (r *ConversationRepo) DeleteConversation(ctx context.Context, conversationID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var id string
	err = tx.GetContext(ctx, &id, `SELECT id FROM conversations WHERE id=$1 FOR UPDATE`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("conversation %s not found", conversationID)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id=$1`, conversationID); err != nil {
		return err
	}
	return tx.Commit()
}

func dedupeWithCreator(creatorID string, participantIDs []string) []string {
	seen := map[string]struct{}{creatorID: {}}
	members := []string{creatorID}
	for _, id := range participantIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	return members
}
