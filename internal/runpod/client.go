package runpod

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

// Static errors for RunPod client operations.
var (
	// ErrEndpointIDRequired is returned when the endpoint ID is not provided.
	ErrEndpointIDRequired = errors.New("runpod: endpoint ID is required")
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("runpod: API key is not set")
	// ErrJobIDRequired is returned when the job ID is not provided.
	ErrJobIDRequired = errors.New("runpod: job ID is required")
	// ErrNoJobIDReturned is returned when the submit response contains no job ID.
	ErrNoJobIDReturned = errors.New("runpod: submit failed: no job ID returned")
	// ErrSubmitFailed is returned when the submit operation fails.
	ErrSubmitFailed = errors.New("runpod: submit failed")
)

// Client defines the interface for interacting with a RunPod endpoint.
type Client interface {
	// Run submits an asynchronous job with the given worker input and returns the job ID.
	Run(ctx context.Context, input map[string]any) (jobID string, err error)

	// Status checks the status of a job.
	Status(ctx context.Context, jobID string) (StatusResult, error)

	// Cancel requests cancellation of a queued or running job.
	Cancel(ctx context.Context, jobID string) error
}

// HTTPClient is the HTTP implementation of the RunPod Client interface.
type HTTPClient struct {
	apiKey      string
	endpointID  string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	http        *httpx.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the RunPod API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		if url != "" {
			hc.baseURL = strings.TrimRight(url, "/")
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

// NewClient creates a new RunPod HTTP client.
// The API key can be set via the WithAPIKey option. If not provided,
// it is read from the environment variable RUNPOD_API_KEY.
// The endpoint ID must be provided.
func NewClient(endpointID string, opts ...ClientOption) (*HTTPClient, error) {
	if endpointID == "" {
		return nil, ErrEndpointIDRequired
	}

	c := &HTTPClient{
		endpointID:  endpointID,
		baseURL:     "https://api.runpod.ai/v2",
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
	}

	// Apply options first to allow WithAPIKey to set the API key
	for _, opt := range opts {
		opt(c)
	}

	// If API key was not set via option, try environment variable
	if c.apiKey == "" {
		c.apiKey = os.Getenv("RUNPOD_API_KEY")
	}

	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	c.http = httpx.New("runpod",
		httpx.WithHTTPClient(c.httpClient),
		httpx.WithBearerToken(c.apiKey),
		httpx.WithMaxRetries(c.maxRetries),
		httpx.WithBaseBackoff(c.baseBackoff),
	)

	return c, nil
}

// Run submits a job to the endpoint and returns the job ID.
func (c *HTTPClient) Run(ctx context.Context, input map[string]any) (string, error) {
	url := fmt.Sprintf("%s/%s/run", c.baseURL, c.endpointID)

	var resp runResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, url, runRequest{Input: input}, &resp); err != nil {
		return "", err
	}

	if resp.ID == "" {
		if resp.Error != "" {
			return "", fmt.Errorf("%w: %s", ErrSubmitFailed, resp.Error)
		}
		return "", ErrNoJobIDReturned
	}

	return resp.ID, nil
}

// Status checks the status of a job and returns the result.
func (c *HTTPClient) Status(ctx context.Context, jobID string) (StatusResult, error) {
	if jobID == "" {
		return StatusResult{}, ErrJobIDRequired
	}

	url := fmt.Sprintf("%s/%s/status/%s", c.baseURL, c.endpointID, jobID)

	var resp statusResponse
	if err := c.http.DoJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return StatusResult{}, err
	}

	result := StatusResult{
		Status:        Status(resp.Status),
		DelayTime:     resp.DelayTime,
		ExecutionTime: resp.ExecutionTime,
	}

	switch result.Status {
	case StatusCompleted:
		result.Output = resp.Output
	case StatusFailed, StatusCancelled, StatusTimedOut:
		result.Error = resp.Error
		if result.Error == "" {
			result.Error = "job " + strings.ToLower(string(result.Status))
		}
	}

	return result, nil
}

// Cancel requests cancellation of a job.
func (c *HTTPClient) Cancel(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrJobIDRequired
	}
	url := fmt.Sprintf("%s/%s/cancel/%s", c.baseURL, c.endpointID, jobID)
	return c.http.DoJSON(ctx, http.MethodPost, url, nil, nil)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
