package generator

import (
	"context"
	"errors"
	"fmt"

	"github.com/maauso/mediagen-api/internal/openai"
	"github.com/maauso/mediagen-api/internal/storage"
)

// OpenAIAdapterName is the registry key of the OpenAI images adapter.
const OpenAIAdapterName = "openai"

// ErrInputImagesUnsupported is returned when a text-to-image provider
// receives reference images.
var ErrInputImagesUnsupported = errors.New("input images are not supported by this provider")

// OpenAIAdapter calls an OpenAI-compatible image endpoint. It is synchronous:
// Dispatch returns the final outputs.
type OpenAIAdapter struct {
	client openai.Client
}

// NewOpenAIAdapter creates an adapter over an existing client.
func NewOpenAIAdapter(client openai.Client) *OpenAIAdapter {
	return &OpenAIAdapter{client: client}
}

// NewOpenAIAdapterFromConfig builds the adapter from provider configuration.
func NewOpenAIAdapterFromConfig(cfg ProviderConfig) (Adapter, error) {
	opts := []openai.ClientOption{openai.WithAPIKey(cfg.APIKey), openai.WithBaseURL(cfg.APIEndpoint)}
	if cfg.HTTPClient != nil {
		opts = append(opts, openai.WithHTTPClient(cfg.HTTPClient))
	}
	client, err := openai.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return NewOpenAIAdapter(client), nil
}

// Name implements Adapter.
func (a *OpenAIAdapter) Name() string {
	return OpenAIAdapterName
}

// Dispatch generates the images and returns them as a success result.
func (a *OpenAIAdapter) Dispatch(ctx context.Context, req Request) (DispatchResult, error) {
	if len(req.InputImages) > 0 {
		return Failure(ErrInputImagesUnsupported.Error()), nil
	}

	imgReq := openai.ImageRequest{
		Model:   req.Model,
		Prompt:  req.Prompt,
		N:       req.NumberOfOutputs,
		Size:    stringParam(req.Parameters, "size"),
		Quality: stringParam(req.Parameters, "quality"),
		Style:   stringParam(req.Parameters, "style"),

		ResponseFormat: stringParam(req.Parameters, "response_format"),
	}

	resp, err := a.client.GenerateImages(ctx, imgReq)
	if err != nil {
		return DispatchResult{}, &DispatchError{Adapter: OpenAIAdapterName, Op: "generate", Err: err}
	}

	outputs := make([]Output, 0, len(resp.Data))
	for i, d := range resp.Data {
		u := d.URL
		if u == "" && d.B64JSON != "" {
			u, err = storage.DataURLFromBase64(d.B64JSON)
			if err != nil {
				return Failure(fmt.Sprintf("image %d: %v", i, err)), nil
			}
		}
		if u == "" {
			continue
		}
		meta := map[string]any{}
		if d.RevisedPrompt != "" {
			meta["revised_prompt"] = d.RevisedPrompt
		}
		outputs = append(outputs, Output{Type: "image", URL: u, Metadata: meta})
	}
	if len(outputs) == 0 {
		return Failure(ErrEmptyOutput.Error()), nil
	}
	return Success(outputs, ""), nil
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}
