// Package backend is the HTTP client for the agent backend: projects, chats,
// tools and attachments. Every request carries the bearer token of the
// current UserSession when one is set.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"agentflow/pkg/cache"
	"agentflow/pkg/telemetry"
)

// DefaultURL is the backend base URL used when none is configured.
const DefaultURL = "http://localhost:8000/v1"

// maxErrorBody caps how much of a failed response is kept in an APIError.
const maxErrorBody = 4 << 10

// UserSession holds the signed-in user. It is shared by the client and the
// chat session and may be updated at any time.
type UserSession struct {
	mu    sync.RWMutex
	id    int
	email string
	token string
}

// NewUserSession returns a session for the given user. A zero id and empty
// token mean unauthenticated.
func NewUserSession(id int, email, token string) *UserSession {
	return &UserSession{id: id, email: email, token: token}
}

// Set replaces the signed-in user.
func (s *UserSession) Set(id int, email, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id, s.email, s.token = id, email, token
}

// Clear signs the user out.
func (s *UserSession) Clear() { s.Set(0, "", "") }

func (s *UserSession) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *UserSession) UserID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

func (s *UserSession) Email() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.email
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// StatusCode returns the HTTP status of err when it is an APIError, else 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// Client talks to the backend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	session    *UserSession
	cache      *cache.Store
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

func WithSession(s *UserSession) Option { return func(c *Client) { c.session = s } }

// WithCache enables offline fallback: list responses are written to store and
// served from it when the backend cannot be reached.
func WithCache(store *cache.Store) Option { return func(c *Client) { c.cache = store } }

func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient returns a client for the backend at baseURL with a 10-second
// timeout.
func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		session:    &UserSession{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the user session whose token the client sends.
func (c *Client) Session() *UserSession { return c.session }

// doJSON sends body as JSON (when non-nil) and decodes the response into out
// (when non-nil).
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	return c.do(ctx, method, path, r, contentType, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) (err error) {
	ctx, span := telemetry.StartClientSpan(ctx, method, path)
	defer func() { telemetry.EndSpan(span, err) }()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

// list fetches a collection and keeps the durable cache in step with it.
// When the backend is unreachable the cached copy is served instead; an
// APIError is returned as is because the server did answer.
func (c *Client) list(ctx context.Context, path, cacheName string, out any) error {
	err := c.doJSON(ctx, http.MethodGet, path, nil, out)
	if err == nil {
		if c.cache != nil {
			if cerr := c.cache.Put(cacheName, out); cerr != nil {
				c.logger.Warn("cache write failed", "name", cacheName, "error", cerr)
			}
		}
		return nil
	}

	var apiErr *APIError
	if c.cache == nil || errors.As(err, &apiErr) || ctx.Err() != nil {
		return err
	}
	updated, cerr := c.cache.Get(cacheName, out)
	if cerr != nil {
		c.logger.Debug("no cached copy", "name", cacheName, "error", cerr)
		return err
	}
	c.logger.Warn("backend unreachable, serving cached list",
		"name", cacheName, "cached_at", updated, "error", err)
	return nil
}
