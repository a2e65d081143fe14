package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/auth"
)

type verifierStub struct {
	userID string
	err    error
}

func (v verifierStub) VerifyToken(ctx context.Context, token string) (string, error) {
	return v.userID, v.err
}

type loaderStub struct {
	caps  []string
	calls int
}

func (l *loaderStub) LoadCapabilities(ctx context.Context, userID string) ([]string, error) {
	l.calls++
	return l.caps, nil
}

func setupRouter(verifier auth.TokenVerifier, sessions *auth.SessionContext) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/whoami", AuthMiddleware(verifier, sessions), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("userID")})
	})
	return r
}

func TestAuthMiddlewareMissingHeader(t *testing.T) {
	router := setupRouter(verifierStub{userID: "alice"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareInvalidToken(t *testing.T) {
	router := setupRouter(verifierStub{err: errors.New("expired")}, nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareSetsUserID(t *testing.T) {
	router := setupRouter(verifierStub{userID: "alice"}, nil)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "alice")
}

func TestAuthMiddlewareEstablishesSessionOnce(t *testing.T) {
	loader := &loaderStub{caps: []string{"manage_messaging"}}
	sessions := auth.NewSessionContext(loader)
	router := setupRouter(verifierStub{userID: "alice"}, sessions)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
		req.Header.Set("Authorization", "Bearer good")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	require.Equal(t, 1, loader.calls)
	require.True(t, sessions.HasCapability("alice", "manage_messaging"))
}
