package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/changefeed"
	"messaging-service/internal/models"
	"messaging-service/internal/policy"
	"messaging-service/internal/repositories"
	"messaging-service/internal/telemetry"
)

// ConversationHandler manages conversation lifecycle and read receipts.
type ConversationHandler struct {
	convRepo    repositories.ConversationRepository
	receiptRepo repositories.ReceiptRepository
	caps        policy.CapabilityChecker
	feed        changefeed.Publisher
	audit       *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(convRepo repositories.ConversationRepository, receiptRepo repositories.ReceiptRepository, caps policy.CapabilityChecker, feed changefeed.Publisher, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{
		convRepo:    convRepo,
		receiptRepo: receiptRepo,
		caps:        caps,
		feed:        feed,
		audit:       audit,
	}
}

// CreateConversation creates a 1:1 or group conversation.
func (h *ConversationHandler) CreateConversation(c *gin.Context) {
	var req struct {
		ParticipantIDs []string `json:"participant_ids" binding:"required"`
		Name           *string  `json:"name"`
		IsGroup        bool     `json:"is_group"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := userIDFromContext(c)
	conv, err := h.convRepo.CreateConversation(c.Request.Context(), userID, req.ParticipantIDs, req.Name, req.IsGroup)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, conv)
}

// ListConversations returns the caller's conversations with unread counts,
// newest activity first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := userIDFromContext(c)

	summaries, err := h.convRepo.ListConversations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversations"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// MarkRead advances the caller's read watermark. Safe to call from several
// sessions at once in any order.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := userIDFromContext(c)

	var req struct {
		UpTo time.Time `json:"up_to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lastRead, err := h.receiptRepo.MarkRead(c.Request.Context(), conversationID, userID, req.UpTo)
	if err != nil {
		respondError(c, err)
		return
	}

	publishEvent(c, h.feed, models.ConversationEvent{
		Type:           models.EventReceiptUpdated,
		ConversationID: conversationID,
		UserID:         userID,
		LastReadAt:     &lastRead,
	})

	unread, err := h.receiptRepo.UnreadCount(c.Request.Context(), conversationID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"last_read_at": lastRead, "unread_count": unread})
}

// DeleteConversation cascades the purge of a conversation. Restricted to
// managers of the conversation (or holders of the manage capability). The
// removal event goes out before the rows are purged so no client is left
// holding orphan references.
func (h *ConversationHandler) DeleteConversation(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := userIDFromContext(c)

	participant, err := h.convRepo.GetParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if participant.Role != models.RoleManager && !h.caps.HasCapability(userID, policy.CapabilityManageMessaging) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only a conversation manager may delete it"})
		return
	}

	seq, err := h.convRepo.NextEventSeq(c.Request.Context(), conversationID)
	if err != nil {
		respondError(c, err)
		return
	}

	publishEvent(c, h.feed, models.ConversationEvent{
		Type:           models.EventConversationRemoved,
		ConversationID: conversationID,
		Seq:            seq,
	})

	if err := h.convRepo.DeleteConversation(c.Request.Context(), conversationID); err != nil {
		respondError(c, err)
		return
	}

	h.audit.Emit(c.Request.Context(), "WARN", "conversation deleted", requestIDFromContext(c), &userID)
	c.Status(http.StatusNoContent)
}
