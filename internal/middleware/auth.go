package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"messaging-service/internal/auth"
)

// AuthMiddleware validates the Authorization header using the identity
// service and stores the authenticated user id on the request context.
// When a session context is supplied, the first authenticated request of
// a user establishes their capability session.
func AuthMiddleware(verifier auth.TokenVerifier, sessions *auth.SessionContext) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		userID, err := verifier.VerifyToken(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if sessions != nil && !sessions.Active(userID) {
			if err := sessions.Login(c.Request.Context(), userID); err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session setup failed"})
				return
			}
		}

		c.Set("userID", userID)
		c.Next()
	}
}
