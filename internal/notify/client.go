// Package notify carries terminal job outcomes from the worker process back
// to the API process. The callback channel is the only consistency mechanism
// between the two; the shared (sessionId, filename) key is the only coupling.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/davidobi/askmydocs/internal/core"
	"github.com/davidobi/askmydocs/internal/models"
)

const (
	completePath = "/api/ingest/complete"
	maxAttempts  = 3
)

type Client struct {
	baseURL string
	http    *http.Client
}

var _ core.CompletionNotifier = (*Client)(nil)

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type completeRequest struct {
	SessionID  string `json:"sessionId"`
	Filename   string `json:"filename"`
	Kind       string `json:"kind"`
	Status     string `json:"status"`
	Transcript string `json:"transcript,omitempty"`
}

// NotifyComplete POSTs the completion contract, retrying a couple of times.
// The caller treats failure as best-effort; redelivery or status polling
// covers a lost notification.
func (c *Client) NotifyComplete(ctx context.Context, sessionID, filename string, kind models.MediaKind, status models.FileStatus, transcript string) error {
	body, err := json.Marshal(completeRequest{
		SessionID:  sessionID,
		Filename:   filename,
		Kind:       string(kind),
		Status:     string(status),
		Transcript: transcript,
	})
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completePath, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build completion request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("completion callback failed after %d attempts: %w", maxAttempts, lastErr)
}
