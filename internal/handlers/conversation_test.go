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
)

type capsStub struct {
	granted map[string]bool
}

func (s capsStub) HasCapability(userID string, capability string) bool {
	return s.granted[userID+":"+capability]
}

func setupConversationRouter(handler *ConversationHandler, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", userID)
		c.Next()
	})
	r.POST("/conversations", handler.CreateConversation)
	r.GET("/conversations", handler.ListConversations)
	r.POST("/conversations/:conversation_id/read", handler.MarkRead)
	r.DELETE("/conversations/:conversation_id", handler.DeleteConversation)
	return r
}

func TestCreateConversationSuccess(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, capsStub{}, nil, nil)
	router := setupConversationRouter(handler, "alice")

	convRepo.On("CreateConversation", mock.Anything, "alice", []string{"alice", "bob"}, (*string)(nil), false).
		Return(models.Conversation{ID: "c1"}, nil).Once()

	body := bytes.NewBufferString(`{"participant_ids":["alice","bob"]}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	convRepo.AssertExpectations(t)
}

func TestCreateConversationValidationError(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, capsStub{}, nil, nil)
	router := setupConversationRouter(handler, "alice")

	body := bytes.NewBufferString(`{"is_group":true}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	convRepo.AssertNotCalled(t, "CreateConversation")
}

func TestListConversations(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, capsStub{}, nil, nil)
	router := setupConversationRouter(handler, "alice")

	convRepo.On("ListConversations", mock.Anything, "alice").
		Return([]models.ConversationSummary{{ConversationID: "c1", UnreadCount: 3}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 1)
	assert.Equal(t, 3, resp.Conversations[0].UnreadCount)
	convRepo.AssertExpectations(t)
}

func TestMarkReadPublishesReceipt(t *testing.T) {
	receiptRepo := new(mocks.ReceiptRepositoryMock)
	feed := new(mocks.PublisherMock)
	handler := NewConversationHandler(nil, receiptRepo, capsStub{}, feed, nil)
	router := setupConversationRouter(handler, "alice")

	upTo := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	receiptRepo.On("MarkRead", mock.Anything, "c1", "alice", upTo).Return(upTo, nil).Once()
	receiptRepo.On("UnreadCount", mock.Anything, "c1", "alice").Return(0, nil).Once()
	feed.On("Publish", mock.Anything, mock.MatchedBy(func(ev models.ConversationEvent) bool {
		return ev.Type == models.EventReceiptUpdated && ev.ConversationID == "c1" &&
			ev.UserID == "alice" && ev.Seq == 0 && ev.ID != ""
	})).Return(nil).Once()

	body := bytes.NewBufferString(`{"up_to":"2026-02-01T10:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/c1/read", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	receiptRepo.AssertExpectations(t)
	feed.AssertExpectations(t)
}

func TestDeleteConversationAsManager(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	feed := new(mocks.PublisherMock)
	handler := NewConversationHandler(convRepo, nil, capsStub{}, feed, nil)
	router := setupConversationRouter(handler, "alice")

	convRepo.On("GetParticipant", mock.Anything, "c1", "alice").
		Return(models.Participant{ConversationID: "c1", UserID: "alice", Role: models.RoleManager}, nil).Once()
	convRepo.On("NextEventSeq", mock.Anything, "c1").Return(int64(9), nil).Once()
	convRepo.On("DeleteConversation", mock.Anything, "c1").Return(nil).Once()
	feed.On("Publish", mock.Anything, mock.MatchedBy(func(ev models.ConversationEvent) bool {
		return ev.Type == models.EventConversationRemoved && ev.Seq == 9
	})).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
	feed.AssertExpectations(t)
}

func TestDeleteConversationForbiddenForMember(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	handler := NewConversationHandler(convRepo, nil, capsStub{}, nil, nil)
	router := setupConversationRouter(handler, "bob")

	convRepo.On("GetParticipant", mock.Anything, "c1", "bob").
		Return(models.Participant{ConversationID: "c1", UserID: "bob", Role: models.RoleMember}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	convRepo.AssertNotCalled(t, "DeleteConversation")
}

func TestDeleteConversationWithCapability(t *testing.T) {
	convRepo := new(mocks.ConversationRepositoryMock)
	feed := new(mocks.PublisherMock)
	caps := capsStub{granted: map[string]bool{"bob:manage_messaging": true}}
	handler := NewConversationHandler(convRepo, nil, caps, feed, nil)
	router := setupConversationRouter(handler, "bob")

	convRepo.On("GetParticipant", mock.Anything, "c1", "bob").
		Return(models.Participant{ConversationID: "c1", UserID: "bob", Role: models.RoleMember}, nil).Once()
	convRepo.On("NextEventSeq", mock.Anything, "c1").Return(int64(4), nil).Once()
	convRepo.On("DeleteConversation", mock.Anything, "c1").Return(nil).Once()
	feed.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/c1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	convRepo.AssertExpectations(t)
}
