package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/njoerd114/itemrelay/internal/auth"
	"github.com/njoerd114/itemrelay/internal/model"
)

const (
	itemsPath  = "/api/item"
	healthPath = "/api/health"

	// maxErrorBody bounds how much of an error response is read into
	// RejectedError.Message.
	maxErrorBody = 4 << 10
)

// Client talks to the item server's REST API. Every request carries the
// current bearer token from the [auth.TokenSource]. Create one with [New].
type Client struct {
	baseURL     string
	tokens      *auth.TokenSource
	hc          *http.Client
	maxAttempts int
	log         *slog.Logger
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default http.Client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithMaxAttempts sets how many times retryable failures are attempted.
// Values below 1 are treated as 1.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n < 1 {
			n = 1
		}
		c.maxAttempts = n
	}
}

// New creates a Client for the server at baseURL.
func New(baseURL string, tokens *auth.TokenSource, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		tokens:      tokens,
		hc:          &http.Client{Timeout: 30 * time.Second},
		maxAttempts: defaultMaxAttempts,
		log:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping checks that the server is reachable. It does not retry, so callers can
// use it as a cheap connectivity check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.do(ctx, "ping", http.MethodGet, healthPath, nil, nil, false); err != nil {
		return fmt.Errorf("ping server: %w", err)
	}
	return nil
}

// List returns every item the server holds for the current user.
func (c *Client) List(ctx context.Context) ([]model.Item, error) {
	var items []model.Item
	err := Retry(ctx, c.maxAttempts, func() error {
		items = nil
		return c.do(ctx, "list items", http.MethodGet, itemsPath, nil, &items, true)
	})
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// Create posts a new item and returns the server's copy.
func (c *Client) Create(ctx context.Context, item model.Item) (model.Item, error) {
	var created model.Item
	err := Retry(ctx, c.maxAttempts, func() error {
		return c.do(ctx, "create item", http.MethodPost, itemsPath, item, &created, true)
	})
	if err != nil {
		return model.Item{}, fmt.Errorf("create item %q: %w", item.ID, err)
	}
	return created, nil
}

// Update replaces the item stored under id and returns the server's copy.
func (c *Client) Update(ctx context.Context, id string, item model.Item) (model.Item, error) {
	var updated model.Item
	err := Retry(ctx, c.maxAttempts, func() error {
		return c.do(ctx, "update item", http.MethodPut, itemPath(id), item, &updated, true)
	})
	if err != nil {
		return model.Item{}, fmt.Errorf("update item %q: %w", id, err)
	}
	return updated, nil
}

// Delete removes the item stored under id.
func (c *Client) Delete(ctx context.Context, id string) error {
	err := Retry(ctx, c.maxAttempts, func() error {
		return c.do(ctx, "delete item", http.MethodDelete, itemPath(id), nil, nil, true)
	})
	if err != nil {
		return fmt.Errorf("delete item %q: %w", id, err)
	}
	return nil
}

func itemPath(id string) string {
	return itemsPath + "/" + url.PathEscape(id)
}

// do performs one request. in is JSON-encoded when non-nil; out is decoded
// from a 2xx body when non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, in, out any, authed bool) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		bearer, err := c.tokens.Bearer()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		req.Header.Set("Authorization", bearer)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		rejected := &RejectedError{Op: op, StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
		c.log.Debug("server rejected request", "op", op, "status", resp.StatusCode, "message", rejected.Message)
		return rejected
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// readMessage extracts {"message": "..."} or {"error": "..."} from an error
// body, falling back to the trimmed raw text.
func readMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
