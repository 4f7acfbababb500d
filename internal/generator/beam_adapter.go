package generator

import (
	"context"
	"strings"

	"github.com/maauso/mediagen-api/internal/beam"
)

// BeamAdapterName is the registry key of the Beam adapter.
const BeamAdapterName = "beam"

// BeamAdapter dispatches generations to a Beam.cloud task queue.
type BeamAdapter struct {
	client     beam.Client
	outputType string
}

// NewBeamAdapter creates an adapter over an existing Beam client.
func NewBeamAdapter(client beam.Client, outputType string) *BeamAdapter {
	if outputType == "" {
		outputType = "video"
	}
	return &BeamAdapter{client: client, outputType: outputType}
}

// NewBeamAdapterFromConfig builds the adapter from provider configuration.
// APIEndpoint is the task queue URL; Extra["api_base_url"] overrides the
// status API.
func NewBeamAdapterFromConfig(cfg ProviderConfig) (Adapter, error) {
	opts := []beam.ClientOption{beam.WithToken(cfg.APIKey)}
	if u := cfg.Extra["api_base_url"]; u != "" {
		opts = append(opts, beam.WithAPIBaseURL(u))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, beam.WithHTTPClient(cfg.HTTPClient))
	}
	client, err := beam.NewClient(cfg.APIEndpoint, opts...)
	if err != nil {
		return nil, err
	}
	return NewBeamAdapter(client, cfg.Extra["output_type"]), nil
}

// Name implements Adapter.
func (a *BeamAdapter) Name() string {
	return BeamAdapterName
}

// Dispatch submits the task and returns an in-progress result.
func (a *BeamAdapter) Dispatch(ctx context.Context, req Request) (DispatchResult, error) {
	payload := baseInput(req)
	if req.Model != "" {
		payload["model"] = req.Model
	}

	taskID, err := a.client.Submit(ctx, payload)
	if err != nil {
		return DispatchResult{}, &DispatchError{Adapter: BeamAdapterName, Op: "submit", Err: err}
	}
	return InProgress(taskID, nil, "submitted"), nil
}

// CheckStatus polls the task. Beam outputs are presigned URLs that expire,
// so their lifetime is carried in the metadata.
func (a *BeamAdapter) CheckStatus(ctx context.Context, providerTaskID string) (DispatchResult, error) {
	res, err := a.client.Poll(ctx, providerTaskID)
	if err != nil {
		return DispatchResult{}, &DispatchError{Adapter: BeamAdapterName, Op: "poll", Err: err}
	}

	switch res.Status {
	case beam.StatusCompleted:
		outputs := make([]Output, 0, len(res.Outputs))
		for _, o := range res.Outputs {
			if o.URL == "" {
				continue
			}
			meta := map[string]any{}
			if o.Name != "" {
				meta["name"] = o.Name
			}
			if o.ExpiresIn > 0 {
				meta["expires_in"] = o.ExpiresIn
			}
			outputs = append(outputs, Output{Type: a.outputType, URL: o.URL, Metadata: meta})
		}
		if len(outputs) == 0 {
			return Failure(ErrEmptyOutput.Error()), nil
		}
		return Success(outputs, ""), nil
	case beam.StatusFailed, beam.StatusCanceled, beam.StatusTimeout:
		msg := res.Error
		if msg == "" {
			msg = "task " + strings.ToLower(string(res.Status))
		}
		return Failure(msg), nil
	default:
		return InProgress(providerTaskID, nil, strings.ToLower(string(res.Status))), nil
	}
}

// Cancel implements Canceler.
func (a *BeamAdapter) Cancel(ctx context.Context, providerTaskID string) error {
	if err := a.client.Cancel(ctx, providerTaskID); err != nil {
		return &DispatchError{Adapter: BeamAdapterName, Op: "cancel", Err: err}
	}
	return nil
}
