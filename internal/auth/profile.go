package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPProfileLoader fetches capabilities from the identity service.
type HTTPProfileLoader struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProfileLoader builds a loader against the identity service base URL.
func NewHTTPProfileLoader(baseURL string, timeout time.Duration) *HTTPProfileLoader {
	return &HTTPProfileLoader{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// LoadCapabilities calls GET {base}/users/{id}/capabilities.
func (l *HTTPProfileLoader) LoadCapabilities(ctx context.Context, userID string) ([]string, error) {
	url := fmt.Sprintf("%s/users/%s/capabilities", l.baseURL, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load capabilities: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Capabilities []string `json:"capabilities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("load capabilities: %w", err)
	}
	return body.Capabilities, nil
}
