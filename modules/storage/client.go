package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	domain "github.com/example/realtime-gateway/domain/realtime"
)

// Defaults for the retry loop.
const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 200 * time.Millisecond
	defaultAttemptTimeout = 5 * time.Second
)

// Client talks to the external chat storage service. Writes are idempotent
// on the storage side: a duplicate message id is a no-op success, so retrying
// a possibly-delivered request is safe.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	maxAttempts    int
	initialBackoff time.Duration
	attemptTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithMaxAttempts overrides the number of persistence attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff overrides the initial retry backoff.
func WithBackoff(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.initialBackoff = d
		}
	}
}

// WithAttemptTimeout overrides the per-attempt request timeout.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// NewClient creates a storage client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        baseURL,
		httpClient:     &http.Client{},
		maxAttempts:    defaultMaxAttempts,
		initialBackoff: defaultInitialBackoff,
		attemptTimeout: defaultAttemptTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromEnv creates a storage client from the STORAGE_URL environment
// variable.
func NewClientFromEnv() *Client {
	baseURL := os.Getenv("STORAGE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8003"
	}
	return NewClient(baseURL)
}

// saveMessageRequest is the body of POST /chats/{room_id}/messages.
type saveMessageRequest struct {
	Message   string `json:"message"`
	SenderID  string `json:"sender_id"`
	MessageID string `json:"message_id"`
}

// SaveMessage persists the message, retrying transport failures and non-2xx
// responses with increasing backoff. It returns the last error once all
// attempts are exhausted or the context is done.
func (c *Client) SaveMessage(ctx context.Context, msg domain.Message) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		lastErr = c.post(ctx, msg)
		if lastErr == nil {
			return nil
		}

		c.logger.Warn("persist attempt failed",
			"messageID", msg.ID,
			"roomID", msg.RoomID,
			"attempt", attempt,
			"error", lastErr)

		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("persist message %s: %w", msg.ID, ctx.Err())
		case <-time.After(c.initialBackoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("persist message %s after %d attempts: %w", msg.ID, c.maxAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, msg domain.Message) error {
	body, err := json.Marshal(saveMessageRequest{
		Message:   msg.Content,
		SenderID:  msg.UserID,
		MessageID: msg.ID,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/chats/%s/messages", c.baseURL, msg.RoomID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("storage unreachable: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	// 200 and 201 are both success; "already exists" comes back as 200.
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("storage returned status %d", resp.StatusCode)
	}
	return nil
}
