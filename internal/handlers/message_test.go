package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/mocks"
	"messaging-service/internal/models"
	"messaging-service/internal/policy"
)

func setupMessageRouter(handler *MessageHandler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	})
	r.GET("/conversations/:conversation_id/messages", handler.ListMessages)
	r.POST("/conversations/:conversation_id/messages", handler.SendMessage)
	r.GET("/conversations/:conversation_id/messages/:message_id/read", handler.MessageReadStatus)
	r.PATCH("/conversations/:conversation_id/messages/:message_id", handler.EditMessage)
	r.DELETE("/conversations/:conversation_id/messages/:message_id", handler.DeleteMessage)
	return r
}

func textBlocks(text string) models.ContentBlocks {
	return models.ContentBlocks{{Kind: models.BlockText, Text: text}}
}

func TestSendMessagePublishesInsert(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	feed := new(mocks.PublisherMock)
	handler := NewMessageHandler(convRepo, msgRepo, nil, policy.NewEnforcer(capsStub{}, nil), feed)
	router := setupMessageRouter(handler, "alice")

	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("CreateMessage", mock.Anything, "c1", "alice", textBlocks("hi"), (*string)(nil)).
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Seq: 5}, nil).Once()
	feed.On("Publish", mock.Anything, mock.MatchedBy(func(ev models.ConversationEvent) bool {
		return ev.Type == models.EventMessageInserted && ev.Seq == 5 && ev.Message != nil && ev.Message.ID == "m1"
	})).Return(nil).Once()

	body := bytes.NewBufferString(`{"blocks":[{"kind":"text","text":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	convRepo.AssertExpectations(t)
	msgRepo.AssertExpectations(t)
	feed.AssertExpectations(t)
}

func TestSendReplyPublishesCommentInserted(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	feed := new(mocks.PublisherMock)
	handler := NewMessageHandler(convRepo, msgRepo, nil, policy.NewEnforcer(capsStub{}, nil), feed)
	router := setupMessageRouter(handler, "alice")

	parentID := "m1"
	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("CreateMessage", mock.Anything, "c1", "alice", textBlocks("re"), &parentID).
		Return(models.Message{ID: "m2", ConversationID: "c1", SenderID: "alice", Seq: 6, ReplyToID: &parentID}, nil).Once()
	feed.On("Publish", mock.Anything, mock.MatchedBy(func(ev models.ConversationEvent) bool {
		return ev.Type == models.EventCommentInserted
	})).Return(nil).Once()

	body := bytes.NewBufferString(`{"blocks":[{"kind":"text","text":"re"}],"reply_to_id":"m1"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	feed.AssertExpectations(t)
}

func TestSendMessageNonParticipant(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, nil, policy.NewEnforcer(capsStub{}, nil), nil)
	router := setupMessageRouter(handler, "mallory")

	convRepo.On("IsParticipant", mock.Anything, "c1", "mallory").Return(false, nil).Once()

	body := bytes.NewBufferString(`{"blocks":[{"kind":"text","text":"hi"}]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	msgRepo.AssertNotCalled(t, "CreateMessage")
}

func TestListMessagesFlagsRemovedReplyTarget(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, nil, policy.NewEnforcer(capsStub{}, nil), nil)
	router := setupMessageRouter(handler, "alice")

	goneID := "gone"
	removedAt := time.Now()
	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("ListMessages", mock.Anything, "c1", int64(0), 0).
		Return([]models.Message{{ID: "m2", ConversationID: "c1", Seq: 2, ReplyToID: &goneID}}, nil).Once()
	msgRepo.On("GetMessage", mock.Anything, "gone").
		Return(models.Message{ID: "gone", DeletedAt: &removedAt}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []struct {
			ID           string `json:"id"`
			ReplyRemoved bool   `json:"reply_removed"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 1)
	assert.True(t, resp.Messages[0].ReplyRemoved)
}

func TestListMessagesDoesNotFlagInPageReply(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, nil, policy.NewEnforcer(capsStub{}, nil), nil)
	router := setupMessageRouter(handler, "alice")

	parentID := "m1"
	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("ListMessages", mock.Anything, "c1", int64(0), 0).
		Return([]models.Message{
			{ID: "m1", ConversationID: "c1", Seq: 1},
			{ID: "m2", ConversationID: "c1", Seq: 2, ReplyToID: &parentID},
		}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	msgRepo.AssertNotCalled(t, "GetMessage")
}

func TestMessageReadStatus(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	receiptRepo := new(mocks.ReceiptRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, receiptRepo, policy.NewEnforcer(capsStub{}, nil), nil)
	router := setupMessageRouter(handler, "alice")

	msg := models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", Seq: 1}
	convRepo.On("IsParticipant", mock.Anything, "c1", "alice").Return(true, nil).Once()
	msgRepo.On("GetMessage", mock.Anything, "m1").Return(msg, nil).Once()
	receiptRepo.On("IsMessageRead", mock.Anything, msg).Return(true, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/c1/messages/m1/read", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "true")
	receiptRepo.AssertExpectations(t)
}

func TestEditMessageWithinWindow(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	feed := new(mocks.PublisherMock)
	now := time.Now()
	enforcer := policy.NewEnforcer(capsStub{}, func() time.Time { return now })
	handler := NewMessageHandler(convRepo, msgRepo, nil, enforcer, feed)
	router := setupMessageRouter(handler, "alice")

	msgRepo.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-100 * time.Second)}, nil).Once()
	msgRepo.On("UpdateMessageBlocks", mock.Anything, "m1", textBlocks("fixed")).
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", IsEdited: true}, int64(8), nil).Once()
	feed.On("Publish", mock.Anything, mock.MatchedBy(func(ev models.ConversationEvent) bool {
		return ev.Type == models.EventMessageUpdated && ev.Seq == 8
	})).Return(nil).Once()

	body := bytes.NewBufferString(`{"blocks":[{"kind":"text","text":"fixed"}]}`)
	req := httptest.NewRequest(http.MethodPatch, "/conversations/c1/messages/m1", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	msgRepo.AssertExpectations(t)
	feed.AssertExpectations(t)
}

func TestEditMessageWindowExpired(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	now := time.Now()
	enforcer := policy.NewEnforcer(capsStub{}, func() time.Time { return now })
	handler := NewMessageHandler(convRepo, msgRepo, nil, enforcer, nil)
	router := setupMessageRouter(handler, "alice")

	msgRepo.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: now.Add(-301 * time.Second)}, nil).Once()

	body := bytes.NewBufferString(`{"blocks":[{"kind":"text","text":"too late"}]}`)
	req := httptest.NewRequest(http.MethodPatch, "/conversations/c1/messages/m1", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	msgRepo.AssertNotCalled(t, "UpdateMessageBlocks")
}

func TestDeleteMessageBySenderAfterWindow(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	feed := new(mocks.PublisherMock)
	handler := NewMessageHandler(convRepo, msgRepo, nil, policy.NewEnforcer(capsStub{}, nil), feed)
	router := setupMessageRouter(handler, "alice")

	msgRepo.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice", CreatedAt: time.Now().Add(-time.Hour)}, nil).Once()
	msgRepo.On("TombstoneMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1"}, int64(11), nil).Once()
	feed.On("Publish", mock.Anything, mock.MatchedBy(func(ev models.ConversationEvent) bool {
		return ev.Type == models.EventMessageDeleted && ev.MessageID == "m1" && ev.Seq == 11
	})).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1/messages/m1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	msgRepo.AssertExpectations(t)
	feed.AssertExpectations(t)
}

func TestDeleteMessageByStranger(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	msgRepo := new(mocks.MessageRepositoryMock)
	handler := NewMessageHandler(convRepo, msgRepo, nil, policy.NewEnforcer(capsStub{}, nil), nil)
	router := setupMessageRouter(handler, "mallory")

	msgRepo.On("GetMessage", mock.Anything, "m1").
		Return(models.Message{ID: "m1", ConversationID: "c1", SenderID: "alice"}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1/messages/m1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	msgRepo.AssertNotCalled(t, "TombstoneMessage")
}
