package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/maauso/mediagen-api/internal/runpod"
	"github.com/maauso/mediagen-api/internal/storage"
)

// RunPodAdapterName is the registry key of the RunPod adapter.
const RunPodAdapterName = "runpod"

// ErrEmptyOutput is returned when a provider reports completion without outputs.
var ErrEmptyOutput = errors.New("provider returned no outputs")

// RunPodAdapter dispatches generations to a RunPod serverless endpoint.
// RunPod is asynchronous: Dispatch returns an in-progress result that is
// completed via CheckStatus.
type RunPodAdapter struct {
	client     runpod.Client
	outputType string
}

// NewRunPodAdapter creates an adapter over an existing RunPod client.
func NewRunPodAdapter(client runpod.Client, outputType string) *RunPodAdapter {
	if outputType == "" {
		outputType = "image"
	}
	return &RunPodAdapter{client: client, outputType: outputType}
}

// NewRunPodAdapterFromConfig builds the adapter from provider configuration.
// Extra["endpoint_id"] selects the serverless endpoint and Extra["output_type"]
// the default result type.
func NewRunPodAdapterFromConfig(cfg ProviderConfig) (Adapter, error) {
	opts := []runpod.ClientOption{runpod.WithAPIKey(cfg.APIKey)}
	if cfg.APIEndpoint != "" {
		opts = append(opts, runpod.WithBaseURL(cfg.APIEndpoint))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, runpod.WithHTTPClient(cfg.HTTPClient))
	}
	client, err := runpod.NewClient(cfg.Extra["endpoint_id"], opts...)
	if err != nil {
		return nil, err
	}
	return NewRunPodAdapter(client, cfg.Extra["output_type"]), nil
}

// Name implements Adapter.
func (a *RunPodAdapter) Name() string {
	return RunPodAdapterName
}

// Dispatch submits the job and returns an in-progress result.
func (a *RunPodAdapter) Dispatch(ctx context.Context, req Request) (DispatchResult, error) {
	input := baseInput(req)
	if req.Model != "" {
		input["model"] = req.Model
	}

	jobID, err := a.client.Run(ctx, input)
	if err != nil {
		return DispatchResult{}, &DispatchError{Adapter: RunPodAdapterName, Op: "run", Err: err}
	}
	return InProgress(jobID, nil, "queued"), nil
}

// CheckStatus polls the job and converts its output on completion.
func (a *RunPodAdapter) CheckStatus(ctx context.Context, providerTaskID string) (DispatchResult, error) {
	res, err := a.client.Status(ctx, providerTaskID)
	if err != nil {
		return DispatchResult{}, &DispatchError{Adapter: RunPodAdapterName, Op: "status", Err: err}
	}

	switch res.Status {
	case runpod.StatusCompleted:
		outputs, err := a.parseOutput(res.Output)
		if err != nil {
			return Failure(err.Error()), nil
		}
		for i := range outputs {
			if outputs[i].Metadata == nil {
				outputs[i].Metadata = map[string]any{}
			}
			outputs[i].Metadata["execution_time_ms"] = res.ExecutionTime
		}
		return Success(outputs, ""), nil
	case runpod.StatusFailed, runpod.StatusCancelled, runpod.StatusTimedOut:
		return Failure(res.Error), nil
	default:
		return InProgress(providerTaskID, nil, strings.ToLower(string(res.Status))), nil
	}
}

// Cancel implements Canceler.
func (a *RunPodAdapter) Cancel(ctx context.Context, providerTaskID string) error {
	if err := a.client.Cancel(ctx, providerTaskID); err != nil {
		return &DispatchError{Adapter: RunPodAdapterName, Op: "cancel", Err: err}
	}
	return nil
}

// outputKeys are the object fields RunPod workers commonly place results in.
var outputKeys = []string{"images", "image", "video", "videos", "audio", "url", "urls", "output"}

// parseOutput accepts a string, an array or an object holding any of outputKeys.
// Values are URLs, data URLs or raw base64 payloads.
func (a *RunPodAdapter) parseOutput(raw json.RawMessage) ([]Output, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrEmptyOutput
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode runpod output: %w", err)
	}

	var outputs []Output
	if err := a.collect(v, a.outputType, &outputs); err != nil {
		return nil, err
	}
	if len(outputs) == 0 {
		return nil, ErrEmptyOutput
	}
	return outputs, nil
}

func (a *RunPodAdapter) collect(v any, kind string, out *[]Output) error {
	switch val := v.(type) {
	case string:
		u, err := normalizeOutputURL(val)
		if err != nil {
			return err
		}
		*out = append(*out, Output{Type: kind, URL: u})
	case []any:
		for _, item := range val {
			if err := a.collect(item, kind, out); err != nil {
				return err
			}
		}
	case map[string]any:
		for _, key := range outputKeys {
			item, ok := val[key]
			if !ok {
				continue
			}
			if err := a.collect(item, keyKind(key, kind), out); err != nil {
				return err
			}
		}
	}
	return nil
}

func keyKind(key, fallback string) string {
	switch key {
	case "image", "images":
		return "image"
	case "video", "videos":
		return "video"
	case "audio":
		return "audio"
	default:
		return fallback
	}
}

// normalizeOutputURL turns a bare base64 payload into a data URL.
func normalizeOutputURL(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || storage.IsDataURL(s) {
		return s, nil
	}
	u, err := storage.DataURLFromBase64(s)
	if err != nil {
		return "", fmt.Errorf("unrecognized output value: %w", err)
	}
	return u, nil
}
