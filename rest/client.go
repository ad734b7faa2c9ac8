package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// TextCodeBackendStatus marks errors built from a non 2xx response
	TextCodeBackendStatus = "BACKEND_STATUS"
	// TextCodeBackendUnreachable marks transport failures
	TextCodeBackendUnreachable = "BACKEND_UNREACHABLE"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10
)

// TokenSource returns the bearer token to attach to a request. It is read
// for every request so a refreshed token is used on the next call.
type TokenSource interface {
	Token() string
}

// TokenSourceFunc adapts a func to TokenSource
type TokenSourceFunc func() string

func (f TokenSourceFunc) Token() string {
	return f()
}

// Client talks JSON to the backend. A client built with NewAuthenticated
// attaches "Authorization: Bearer <token>". Neither variant reacts to 401
// or 403, the status is handed back to the caller.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	tokens     TokenSource
	headers    http.Header
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout sets the timeout of the default http.Client
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// WithHeader adds a static header to every request
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

// NewPublic returns a client for unauthenticated endpoints
func NewPublic(baseURL string, opts ...Option) (*Client, error) {
	return newClient(baseURL, nil, opts...)
}

// NewAuthenticated returns a client that reads its bearer token from tokens
func NewAuthenticated(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("rest: authenticated client requires a token source")
	}
	return newClient(baseURL, tokens, opts...)
}

func newClient(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("rest: invalid base url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("rest: base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout},
		tokens:     tokens,
		headers:    http.Header{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Authenticated reports whether the client attaches a bearer token
func (c *Client) Authenticated() bool {
	return c.tokens != nil
}

// URL resolves path against the base url
func (c *Client) URL(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = c.baseURL.Path + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// Get decodes the JSON response of GET path into out
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, c.URL(path, query), nil, out)
}

// Post sends body as JSON and decodes the response into out
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, c.URL(path, nil), body, out)
}

// Patch sends body as JSON and decodes the response into out
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPatch, c.URL(path, nil), body, out)
}

// Delete issues a DELETE and decodes the response into out
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, c.URL(path, nil), nil, out)
}

// Do performs the request. Responses outside 2xx are returned as a rich
// error whose Code is the HTTP status, see StatusCode.
func (c *Client) Do(ctx context.Context, method, target string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to encode request body")
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "failed to build request")
	}

	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return goerrors.Wrap(err, goerrors.CategoryExternal, "backend request failed").
			WithTextCode(TextCodeBackendUnreachable).
			WithMetadata(map[string]any{"method": method, "url": target})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(method, target, resp.StatusCode, raw)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to decode backend response").
			WithMetadata(map[string]any{"method": method, "url": target})
	}

	return nil
}

func statusError(method, target string, status int, raw []byte) error {
	message := backendMessage(raw)
	if message == "" {
		message = http.StatusText(status)
	}

	return goerrors.New(message, goerrors.HTTPStatusToCategory(status)).
		WithCode(status).
		WithTextCode(TextCodeBackendStatus).
		WithMetadata(map[string]any{
			"method": method,
			"url":    target,
			"status": status,
		})
}

// backendMessage picks the message out of common error bodies
func backendMessage(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}

	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, "<") {
		return ""
	}
	return text
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.TextCode == TextCodeBackendStatus {
		return richErr.Code
	}
	return 0
}

// IsStatus reports whether err is a backend response with status
func IsStatus(err error, status int) bool {
	return StatusCode(err) == status
}
