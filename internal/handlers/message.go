package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/apperr"
	"messaging-service/internal/changefeed"
	"messaging-service/internal/models"
	"messaging-service/internal/policy"
	"messaging-service/internal/repositories"
)

// MessageHandler serves the per-conversation message timeline and the
// send/edit/delete mutations.
type MessageHandler struct {
	convRepo    repositories.ConversationRepository
	msgRepo     repositories.MessageRepository
	receiptRepo repositories.ReceiptRepository
	enforcer    *policy.Enforcer
	feed        changefeed.Publisher
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(convRepo repositories.ConversationRepository, msgRepo repositories.MessageRepository, receiptRepo repositories.ReceiptRepository, enforcer *policy.Enforcer, feed changefeed.Publisher) *MessageHandler {
	return &MessageHandler{
		convRepo:    convRepo,
		msgRepo:     msgRepo,
		receiptRepo: receiptRepo,
		enforcer:    enforcer,
		feed:        feed,
	}
}

// messageView is a Message plus reply decoration. ReplyRemoved is set when
// the replied-to message has since been removed, so clients can render the
// placeholder instead of dangling a broken preview.
type messageView struct {
	models.Message
	ReplyRemoved bool `json:"reply_removed,omitempty"`
}

// ListMessages returns non-deleted messages after a sequence cursor, oldest
// first.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := userIDFromContext(c)

	ok, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	afterSeq, _ := strconv.ParseInt(c.Query("after_seq"), 10, 64)
	limit, _ := strconv.Atoi(c.Query("limit"))

	messages, err := h.msgRepo.ListMessages(c.Request.Context(), conversationID, afterSeq, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}

	views := make([]messageView, 0, len(messages))
	alive := make(map[string]bool, len(messages))
	for _, msg := range messages {
		alive[msg.ID] = true
	}
	for _, msg := range messages {
		view := messageView{Message: msg}
		if msg.ReplyToID != nil && !alive[*msg.ReplyToID] {
			// The target is outside the page or tombstoned. Only flag
			// it when it is actually gone.
			target, err := h.msgRepo.GetMessage(c.Request.Context(), *msg.ReplyToID)
			if err != nil || target.Tombstoned() {
				view.ReplyRemoved = true
			}
		}
		views = append(views, view)
	}

	c.JSON(http.StatusOK, gin.H{"messages": views})
}

// MessageReadStatus reports whether any other participant has read the
// message, derived from the read watermarks.
func (h *MessageHandler) MessageReadStatus(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	messageID := c.Param("message_id")
	userID := userIDFromContext(c)

	ok, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	msg, err := h.msgRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return
	}

	read, err := h.receiptRepo.IsMessageRead(c.Request.Context(), msg)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"read": read})
}

// SendMessage appends a message to the conversation and broadcasts it.
func (h *MessageHandler) SendMessage(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	userID := userIDFromContext(c)

	var req struct {
		Blocks    models.ContentBlocks `json:"blocks" binding:"required"`
		ReplyToID *string              `json:"reply_to_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ok, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return
	}

	msg, err := h.msgRepo.CreateMessage(c.Request.Context(), conversationID, userID, req.Blocks, req.ReplyToID)
	if err != nil {
		respondError(c, err)
		return
	}

	eventType := models.EventMessageInserted
	if msg.ReplyToID != nil {
		eventType = models.EventCommentInserted
	}
	publishEvent(c, h.feed, models.ConversationEvent{
		Type:           eventType,
		ConversationID: conversationID,
		Seq:            msg.Seq,
		Message:        &msg,
	})

	c.JSON(http.StatusCreated, msg)
}

// EditMessage replaces a message's content blocks. Sender only, and only
// within the edit window.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := userIDFromContext(c)

	var req struct {
		Blocks models.ContentBlocks `json:"blocks" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.msgRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return
	}

	decision := h.enforcer.Decide(policy.OpEdit, msg, policy.Requester{UserID: userID})
	if !decision.Allowed {
		respondError(c, apperr.Permission(string(decision.Reason)))
		return
	}

	updated, seq, err := h.msgRepo.UpdateMessageBlocks(c.Request.Context(), messageID, req.Blocks)
	if err != nil {
		respondError(c, err)
		return
	}

	publishEvent(c, h.feed, models.ConversationEvent{
		Type:           models.EventMessageUpdated,
		ConversationID: updated.ConversationID,
		Seq:            seq,
		Message:        &updated,
	})

	c.JSON(http.StatusOK, updated)
}

// DeleteMessage tombstones a message. The sender may delete at any age;
// anyone with the manage capability may delete on their behalf.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID := c.Param("message_id")
	userID := userIDFromContext(c)

	msg, err := h.msgRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return
	}

	decision := h.enforcer.Decide(policy.OpDelete, msg, policy.Requester{UserID: userID})
	if !decision.Allowed {
		respondError(c, apperr.Permission(string(decision.Reason)))
		return
	}

	_, seq, err := h.msgRepo.TombstoneMessage(c.Request.Context(), messageID)
	if err != nil {
		respondError(c, err)
		return
	}

	publishEvent(c, h.feed, models.ConversationEvent{
		Type:           models.EventMessageDeleted,
		ConversationID: msg.ConversationID,
		Seq:            seq,
		MessageID:      messageID,
	})

	c.Status(http.StatusNoContent)
}
