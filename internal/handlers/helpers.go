package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"messaging-service/internal/apperr"
	"messaging-service/internal/changefeed"
	"messaging-service/internal/models"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) string {
	return c.GetString("userID")
}

// respondError maps the error taxonomy to HTTP statuses. Untyped errors
// stay opaque to the client.
func respondError(c *gin.Context, err error) {
	message := "internal error"
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": message})
}

func publishEvent(c *gin.Context, feed changefeed.Publisher, event models.ConversationEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := feed.Publish(c.Request.Context(), event); err != nil {
		log.Error().Err(err).
			Str("type", string(event.Type)).
			Str("conversation_id", event.ConversationID).
			Msg("publish conversation event")
	}
}
