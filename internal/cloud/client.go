// Package cloud is a thin client for the external playback-position sync
// service. The service is opaque: shelfkeeper only pushes positions at it
// and treats any 2xx as acceptance.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Position is one playback position update.
type Position struct {
	BookID          int64   `json:"book_id"`
	Title           string  `json:"title"`
	PositionSeconds float64 `json:"position_seconds"`
	UpdatedAt       int64   `json:"updated_at"`
}

// Client talks to the position-sync endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a Client for baseURL. token may be empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// PushPosition uploads one position. Non-2xx responses are errors; the body
// is sampled into the message for the operation log.
func (c *Client) PushPosition(ctx context.Context, pos Position) error {
	payload, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/positions", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build position request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("push position for book %d: %w", pos.BookID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("push position for book %d: %s: %s",
			pos.BookID, resp.Status, bytes.TrimSpace(body))
	}
	return nil
}
