// Package client talks to a classicboard server over its JSON API and
// follows the live feed stream.
package client

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
	"time"

	"classicboard/app/auth"
	"classicboard/app/models"
	"classicboard/app/services"
)

// APIError is a non-2xx answer of the server.
type APIError struct {
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Unwrap maps the answer onto the error sentinels of the server side, so
// callers can use errors.Is with auth and services errors.
func (e *APIError) Unwrap() error {
	if err := auth.FromCode(e.Code); err != nil {
		return err
	}
	switch e.Status {
	case http.StatusUnauthorized:
		return services.ErrAuthRequired
	case http.StatusUnprocessableEntity:
		return services.ErrValidationFailed
	case http.StatusServiceUnavailable:
		return services.ErrWriteFailed
	}
	return nil
}

// isClientError reports a 4xx answer; repeating the request cannot help.
func isClientError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 500
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for plain requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithBackoff sets the reconnect policy of Watch.
func WithBackoff(attempts uint, delay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.attempts = attempts
		c.delay = delay
		c.maxDelay = maxDelay
		c.maxJitter = delay
	}
}

// Client is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	stream  *http.Client
	logger  *slog.Logger

	attempts  uint
	delay     time.Duration
	maxDelay  time.Duration
	maxJitter time.Duration
}

// New creates a client for the server at baseURL.
func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		stream:    &http.Client{},
		logger:    logger,
		attempts:  10,
		delay:     time.Second,
		maxDelay:  2 * time.Minute,
		maxJitter: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string           `json:"token"`
	User  *models.Identity `json:"user"`
}

type feedResponse struct {
	Posts []*models.Post `json:"posts"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// SignUp creates an account and returns its session token.
func (c *Client) SignUp(ctx context.Context, email, password string) (string, *models.Identity, error) {
	var res sessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", "", credentials{email, password}, &res); err != nil {
		return "", nil, err
	}
	return res.Token, res.User, nil
}

// SignIn opens a session for an existing account.
func (c *Client) SignIn(ctx context.Context, email, password string) (string, *models.Identity, error) {
	var res sessionResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", credentials{email, password}, &res); err != nil {
		return "", nil, err
	}
	return res.Token, res.User, nil
}

// SignOut ends the session of token.
func (c *Client) SignOut(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// Me resolves token to its identity.
func (c *Client) Me(ctx context.Context, token string) (*models.Identity, error) {
	var id models.Identity
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", token, nil, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// Submit posts as the owner of token. It makes a single request; failures
// are returned, not retried.
func (c *Client) Submit(ctx context.Context, token, title, content string) error {
	body := struct {
		Title   string `json:"title,omitempty"`
		Content string `json:"content"`
	}{title, content}
	return c.do(ctx, http.MethodPost, "/api/posts", token, body, nil)
}

// Snapshot returns the current feed, newest first.
func (c *Client) Snapshot(ctx context.Context) ([]*models.Post, error) {
	var res feedResponse
	if err := c.do(ctx, http.MethodGet, "/api/posts", "", nil, &res); err != nil {
		return nil, err
	}
	if res.Posts == nil {
		res.Posts = []*models.Post{}
	}
	return res.Posts, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body any) (*http.Request, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	req, err := c.newRequest(ctx, method, path, token, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return readAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Code = body.Code
	}
	return apiErr
}
