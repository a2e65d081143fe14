package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (string, error)
}

// HTTPTokenVerifier validates tokens against the identity service.
type HTTPTokenVerifier struct {
	baseURL string
	client  *http.Client
}

// NewHTTPTokenVerifier builds a verifier against the identity service base URL.
func NewHTTPTokenVerifier(baseURL string, timeout time.Duration) *HTTPTokenVerifier {
	return &HTTPTokenVerifier{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// VerifyToken calls POST {base}/tokens/verify.
func (v *HTTPTokenVerifier) VerifyToken(ctx context.Context, token string) (string, error) {
	body := strings.NewReader(fmt.Sprintf(`{"token":%q}`, token))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/tokens/verify", body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New("invalid token")
	}

	var out struct {
		Valid  bool   `json:"valid"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	if !out.Valid || out.UserID == "" {
		return "", errors.New("invalid token")
	}
	return out.UserID, nil
}
