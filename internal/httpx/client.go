// Package httpx provides the JSON-over-HTTP client shared by the provider
// clients, with bounded exponential-backoff retries for transient failures.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
)

// maxErrorBody caps how much of a failed response body is kept in errors.
const maxErrorBody = 512

// DefaultMaxResponseBytes caps a response body unless WithMaxResponseBytes
// says otherwise.
const DefaultMaxResponseBytes int64 = 512 << 20

// ErrResponseTooLarge is returned, without retrying, when a response body
// exceeds the client's limit.
var ErrResponseTooLarge = errors.New("response body too large")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// HTTPStatusCode returns the response status code.
func (e *StatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Retryable reports whether the status is worth retrying (429 or 5xx).
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client performs JSON requests with retries.
type Client struct {
	name        string
	httpClient  *http.Client
	maxRetries  uint64
	baseBackoff time.Duration
	maxBody     int64
	headers     http.Header
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(hc *Client) {
		if c != nil {
			hc.httpClient = c
		}
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) Option {
	return func(hc *Client) {
		if n >= 0 {
			hc.maxRetries = uint64(n)
		}
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) Option {
	return func(hc *Client) {
		if d > 0 {
			hc.baseBackoff = d
		}
	}
}

// WithMaxResponseBytes caps the size of a response body.
func WithMaxResponseBytes(n int64) Option {
	return func(hc *Client) {
		if n > 0 {
			hc.maxBody = n
		}
	}
}

// WithBearerToken sets the Authorization header on every request.
func WithBearerToken(token string) Option {
	return func(hc *Client) {
		hc.headers.Set("Authorization", "Bearer "+token)
	}
}

// WithHeader sets a header on every request.
func WithHeader(key, value string) Option {
	return func(hc *Client) {
		hc.headers.Set(key, value)
	}
}

// New creates a Client. name prefixes error messages (e.g. "runpod").
func New(name string, opts ...Option) *Client {
	c := &Client{
		name:        name,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: time.Second,
		maxBody:     DefaultMaxResponseBytes,
		headers:     make(http.Header),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DoJSON sends body (if non-nil) as JSON and decodes the response into result
// (if non-nil). Network errors, 429 and 5xx responses are retried.
func (c *Client) DoJSON(ctx context.Context, method, url string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
	}

	respBody, _, err := c.do(ctx, method, url, payload, "application/json")
	if err != nil {
		return err
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%s: unmarshal response: %w", c.name, err)
		}
	}
	return nil
}

// Fetch downloads url and returns the body and its Content-Type header.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	return c.do(ctx, http.MethodGet, url, nil, "")
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte, contentType string) ([]byte, string, error) {
	backoff := retry.WithMaxRetries(c.maxRetries, retry.NewExponential(c.baseBackoff))

	var (
		respBody []byte
		respType string
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		respBody, respType, err = c.once(ctx, method, url, payload, contentType)
		return err
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) || errors.Is(err, context.Canceled) {
			return nil, "", err
		}
		return nil, "", fmt.Errorf("%s: %s %s: %w", c.name, method, url, err)
	}
	return respBody, respType, nil
}

func (c *Client) once(ctx context.Context, method, url string, payload []byte, contentType string) ([]byte, string, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", err
		}
		return nil, "", retry.RetryableError(fmt.Errorf("request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody+1))
		se := &StatusError{Op: c.name, StatusCode: resp.StatusCode, Body: truncate(errBody)}
		if se.Retryable() {
			return nil, "", retry.RetryableError(se)
		}
		return nil, "", se
	}

	if resp.ContentLength > c.maxBody {
		return nil, "", fmt.Errorf("%w: %d bytes exceeds %d", ErrResponseTooLarge, resp.ContentLength, c.maxBody)
	}
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, "", retry.RetryableError(fmt.Errorf("read response: %w", err))
	}
	if int64(len(respBody)) > c.maxBody {
		return nil, "", fmt.Errorf("%w: exceeds %d bytes", ErrResponseTooLarge, c.maxBody)
	}

	return respBody, resp.Header.Get("Content-Type"), nil
}

func truncate(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
