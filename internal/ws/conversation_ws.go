package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"messaging-service/internal/auth"
	"messaging-service/internal/observability"
	"messaging-service/internal/repositories"
)

// ConversationWebSocketHandler upgrades clients into conversation rooms.
type ConversationWebSocketHandler struct {
	hub      *Hub
	convRepo repositories.ConversationRepository
	verifier auth.TokenVerifier
}

// NewConversationWebSocketHandler constructs the handler.
func NewConversationWebSocketHandler(hub *Hub, convRepo repositories.ConversationRepository, verifier auth.TokenVerifier) *ConversationWebSocketHandler {
	return &ConversationWebSocketHandler{hub: hub, convRepo: convRepo, verifier: verifier}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var tracer trace.Tracer = otel.Tracer("messaging-service/ws")

// Handle upgrades the connection and registers the client. The connection
// is read only to detect closure; events flow out through the hub.
func (h *ConversationWebSocketHandler) Handle(c *gin.Context) {
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := tracer.Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}

	userID, err := h.validateToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.convRepo.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(conversationID, conn, info)

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	log.Info().
		Str("conn_id", info.ConnID).
		Str("conversation_id", conversationID).
		Str("user_id", userID).
		Msg("websocket connected")

	// Keep connection alive and clean up on close.
	go func() {
		defer func() {
			h.hub.RemoveClient(conversationID, conn)
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					observability.IncWSEvent("ws_error")
					log.Warn().
						Err(err).
						Str("conn_id", info.ConnID).
						Dur("connected", time.Since(info.ConnectedAt)).
						Msg("websocket closed abnormally")
				}
				return
			}
		}
	}()
}

func (h *ConversationWebSocketHandler) validateToken(ctx context.Context, header string) (string, error) {
	parts := strings.Split(header, " ")
	if len(parts) == 2 {
		return h.verifier.VerifyToken(ctx, parts[1])
	}
	return "", fmt.Errorf("invalid token")
}
