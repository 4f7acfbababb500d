// Package openai provides an HTTP client for OpenAI-compatible image
// generation APIs (POST /images/generations).
package openai

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/maauso/mediagen-api/internal/httpx"
)

// Static errors for OpenAI client operations.
var (
	// ErrAPIKeyNotSet is returned when no API key is configured.
	ErrAPIKeyNotSet = errors.New("openai: API key is not set")
	// ErrPromptRequired is returned when the prompt is empty.
	ErrPromptRequired = errors.New("openai: prompt is required")
)

// ImageRequest is the body of an image generation request.
type ImageRequest struct {
	Model          string `json:"model,omitempty"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	User           string `json:"user,omitempty"`
}

// ImageData is one generated image.
type ImageData struct {
	URL           string `json:"url,omitempty"`
	B64JSON       string `json:"b64_json,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

// ImageResponse is the response of an image generation request.
type ImageResponse struct {
	Created int64       `json:"created"`
	Data    []ImageData `json:"data"`
}

// Client defines the interface for the image generation API.
type Client interface {
	GenerateImages(ctx context.Context, req ImageRequest) (ImageResponse, error)
}

// HTTPClient is the HTTP implementation of Client.
type HTTPClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	http       *httpx.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key for authentication.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithBaseURL sets the API base URL (e.g. https://api.openai.com/v1).
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		if url != "" {
			hc.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// NewClient creates a new client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL: "https://api.openai.com/v1",
		// Image generation is synchronous and can take a while.
		httpClient: &http.Client{Timeout: 3 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiKey == "" {
		c.apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	// Generation is not idempotent; only the transport layer retries 429/5xx once.
	c.http = httpx.New("openai",
		httpx.WithHTTPClient(c.httpClient),
		httpx.WithBearerToken(c.apiKey),
		httpx.WithMaxRetries(1),
		httpx.WithBaseBackoff(2*time.Second),
	)
	return c, nil
}

// GenerateImages calls POST /images/generations.
func (c *HTTPClient) GenerateImages(ctx context.Context, req ImageRequest) (ImageResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return ImageResponse{}, ErrPromptRequired
	}

	var resp ImageResponse
	if err := c.http.DoJSON(ctx, http.MethodPost, c.baseURL+"/images/generations", req, &resp); err != nil {
		return ImageResponse{}, err
	}
	return resp, nil
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
