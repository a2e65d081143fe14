package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"messaging-service/internal/changefeed"
	"messaging-service/internal/models"
	"messaging-service/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) CreateConversation(ctx context.Context, creatorID string, participantIDs []string, name *string, isGroup bool) (models.Conversation, error) {
	args := m.Called(ctx, creatorID, participantIDs, name, isGroup)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) GetConversation(ctx context.Context, conversationID string) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID string, userID string) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) GetParticipant(ctx context.Context, conversationID string, userID string) (models.Participant, error) {
	args := m.Called(ctx, conversationID, userID)
	var p models.Participant
	if val := args.Get(0); val != nil {
		p = val.(models.Participant)
	}
	return p, args.Error(1)
}

func (m *ConversationRepositoryMock) ListParticipants(ctx context.Context, conversationID string) ([]models.Participant, error) {
	args := m.Called(ctx, conversationID)
	var parts []models.Participant
	if val := args.Get(0); val != nil {
		parts = val.([]models.Participant)
	}
	return parts, args.Error(1)
}

func (m *ConversationRepositoryMock) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) NextEventSeq(ctx context.Context, conversationID string) (int64, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *ConversationRepositoryMock) DeleteConversation(ctx context.Context, conversationID string) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, conversationID string, senderID string, blocks models.ContentBlocks, replyToID *string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, blocks, replyToID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID string) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListMessages(ctx context.Context, conversationID string, afterSeq int64, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, afterSeq, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateMessageBlocks(ctx context.Context, messageID string, blocks models.ContentBlocks) (models.Message, int64, error) {
	args := m.Called(ctx, messageID, blocks)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Get(1).(int64), args.Error(2)
}

func (m *MessageRepositoryMock) TombstoneMessage(ctx context.Context, messageID string) (models.Message, int64, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Get(1).(int64), args.Error(2)
}

type ReceiptRepositoryMock struct {
	mock.Mock
}

func (m *ReceiptRepositoryMock) MarkRead(ctx context.Context, conversationID string, userID string, upTo time.Time) (time.Time, error) {
	args := m.Called(ctx, conversationID, userID, upTo)
	var ts time.Time
	if val := args.Get(0); val != nil {
		ts = val.(time.Time)
	}
	return ts, args.Error(1)
}

func (m *ReceiptRepositoryMock) UnreadCount(ctx context.Context, conversationID string, userID string) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

func (m *ReceiptRepositoryMock) IsMessageRead(ctx context.Context, msg models.Message) (bool, error) {
	args := m.Called(ctx, msg)
	return args.Bool(0), args.Error(1)
}

type BlobRepositoryMock struct {
	mock.Mock
}

func (m *BlobRepositoryMock) CreateBlob(ctx context.Context, blob models.Blob) error {
	args := m.Called(ctx, blob)
	return args.Error(0)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, event models.ConversationEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

var _ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.ReceiptRepository = (*ReceiptRepositoryMock)(nil)
var _ repositories.BlobRepository = (*BlobRepositoryMock)(nil)
var _ changefeed.Publisher = (*PublisherMock)(nil)
