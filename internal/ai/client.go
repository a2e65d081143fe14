// Package ai wraps the external inference collaborators. Both calls are
// plain request/response with a hard timeout; a failure surfaces as one
// typed error and is never retried here.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"messaging-service/internal/apperr"
)

// Client calls the transcription and generation endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient builds a Client with the per-call timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// Transcribe converts audio bytes to text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcriptions", bytes.NewReader(audio))
	if err != nil {
		return "", apperr.Transcription(err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Transcription(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Transcription(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Transcription(err)
	}
	return out.Text, nil
}

// Generate produces text from a prompt plus conversation context.
func (c *Client) Generate(ctx context.Context, prompt string, contextText string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(map[string]string{
		"prompt":  prompt,
		"context": contextText,
	})
	if err != nil {
		return "", apperr.Generation(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generations", bytes.NewReader(body))
	if err != nil {
		return "", apperr.Generation(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", apperr.Generation(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", apperr.Generation(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", apperr.Generation(err)
	}
	return out.Text, nil
}
