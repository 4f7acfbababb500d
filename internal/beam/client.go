package beam

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/maauso/mediagen-api/internal/httpx"
)

// Static errors for Beam client operations.
var (
	// ErrQueueURLRequired is returned when the task queue URL is not provided.
	ErrQueueURLRequired = errors.New("beam: queue URL is required")
	// ErrTokenNotSet is returned when no token is configured.
	ErrTokenNotSet = errors.New("beam: token is required")
	// ErrTaskIDRequired is returned when the task ID is not provided.
	ErrTaskIDRequired = errors.New("beam: task ID is required")
	// ErrNoTaskIDReturned is returned when the submit response contains no task ID.
	ErrNoTaskIDReturned = errors.New("beam: submit failed: no task ID returned")
	// ErrSubmitFailed is returned when the submit operation fails.
	ErrSubmitFailed = errors.New("beam: submit failed")
)

// Client defines the interface for interacting with a Beam task queue.
type Client interface {
	// Submit enqueues a task with the given JSON payload and returns the task ID.
	Submit(ctx context.Context, payload map[string]any) (taskID string, err error)

	// Poll checks the status of a task and returns the result.
	Poll(ctx context.Context, taskID string) (PollResult, error)

	// Cancel requests cancellation of a task.
	Cancel(ctx context.Context, taskID string) error
}

// HTTPClient is the HTTP implementation of the Beam Client interface.
type HTTPClient struct {
	token       string
	queueURL    string
	apiBaseURL  string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	http        *httpx.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithToken sets the bearer token for authentication.
func WithToken(token string) ClientOption {
	return func(hc *HTTPClient) {
		hc.token = token
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithAPIBaseURL sets the base URL of the task status API.
func WithAPIBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		if url != "" {
			hc.apiBaseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new Beam HTTP client for the given task queue URL.
// The token can be set via WithToken; otherwise BEAM_TOKEN is used.
func NewClient(queueURL string, opts ...ClientOption) (*HTTPClient, error) {
	if queueURL == "" {
		return nil, ErrQueueURLRequired
	}

	c := &HTTPClient{
		queueURL:    queueURL,
		apiBaseURL:  "https://api.beam.cloud/v2",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.token == "" {
		c.token = os.Getenv("BEAM_TOKEN")
	}

	if c.token == "" {
		return nil, ErrTokenNotSet
	}

	c.http = httpx.New("beam",
		httpx.WithHTTPClient(c.httpClient),
		httpx.WithBearerToken(c.token),
		httpx.WithMaxRetries(c.maxRetries),
		httpx.WithBaseBackoff(c.baseBackoff),
	)

	return c, nil
}

// Submit enqueues a task and returns its ID.
func (c *HTTPClient) Submit(ctx context.Context, payload map[string]any) (string, error) {
	var resp taskResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.queueURL, payload, &resp); err != nil {
		return "", err
	}

	if resp.TaskID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return "", ErrNoTaskIDReturned
	}

	return resp.TaskID, nil
}

// Poll checks the status of a task and returns the result.
func (c *HTTPClient) Poll(ctx context.Context, taskID string) (PollResult, error) {
	if taskID == "" {
		return PollResult{}, ErrTaskIDRequired
	}

	url := fmt.Sprintf("%s/task/%s/", c.apiBaseURL, taskID)

	var resp statusResponse
	if err := c.http.DoJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return PollResult{}, err
	}

	var mapped Status
	switch resp.Status {
	case "COMPLETED", "COMPLETE":
		mapped = StatusCompleted
	case "FAILED", "ERROR":
		mapped = StatusFailed
	default:
		mapped = Status(resp.Status)
	}

	result := PollResult{
		Status: mapped,
	}

	switch result.Status {
	case StatusCompleted:
		for _, o := range resp.Outputs {
			if o.URL != "" {
				result.Outputs = append(result.Outputs, o)
			}
		}
	case StatusFailed, StatusCanceled, StatusTimeout:
		result.Error = resp.Error
		if result.Error == "" {
			result.Error = "task " + strings.ToLower(string(result.Status))
		}
	}

	return result, nil
}

// Cancel requests cancellation of a task.
func (c *HTTPClient) Cancel(ctx context.Context, taskID string) error {
	if taskID == "" {
		return ErrTaskIDRequired
	}
	url := c.apiBaseURL + "/task/cancel/"
	return c.http.DoJSON(ctx, http.MethodPost, url, cancelRequest{TaskIDs: []string{taskID}}, nil)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
