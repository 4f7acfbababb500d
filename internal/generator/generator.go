// Package generator provides the uniform provider-adapter abstraction.
// Every generation provider is reached through an Adapter whose Dispatch
// returns a DispatchResult; asynchronous providers also implement
// StatusChecker so the poller can drive them to completion.
package generator

import (
	"context"
	"fmt"
	"maps"
)

// Kind tags the variant held by a DispatchResult.
type Kind int

// DispatchResult variants.
const (
	KindSuccess Kind = iota + 1
	KindInProgress
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindInProgress:
		return "in_progress"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Output is one raw provider result.
type Output struct {
	Type     string
	URL      string
	Metadata map[string]any
}

// DispatchResult is the outcome of a dispatch or status check.
// Exactly one variant is populated, selected by Kind.
type DispatchResult struct {
	Kind Kind
	// Outputs is set for KindSuccess.
	Outputs []Output
	// ProviderTaskID is set for KindInProgress.
	ProviderTaskID string
	// Progress is an optional completion fraction for KindInProgress.
	Progress *float64
	// Message is optional for KindSuccess and KindInProgress and required for KindError.
	Message string
}

// Success returns a KindSuccess result.
func Success(outputs []Output, message string) DispatchResult {
	return DispatchResult{Kind: KindSuccess, Outputs: outputs, Message: message}
}

// InProgress returns a KindInProgress result.
func InProgress(providerTaskID string, progress *float64, message string) DispatchResult {
	return DispatchResult{Kind: KindInProgress, ProviderTaskID: providerTaskID, Progress: progress, Message: message}
}

// Failure returns a KindError result.
func Failure(message string) DispatchResult {
	if message == "" {
		message = "provider reported an error"
	}
	return DispatchResult{Kind: KindError, Message: message}
}

// Request is the uniform generation request handed to adapters.
type Request struct {
	TaskID string
	// Model is the provider-side model identifier.
	Model string
	// OutputType is the model's declared output type (image, video, audio).
	OutputType      string
	Prompt          string
	InputImages     []string
	NumberOfOutputs int
	Parameters      map[string]any
}

// Adapter is implemented once per generation provider.
type Adapter interface {
	// Name returns the adapter's registry key.
	Name() string

	// Dispatch starts a generation. A non-nil error means the provider
	// call itself failed and is equivalent to a KindError result.
	Dispatch(ctx context.Context, req Request) (DispatchResult, error)
}

// StatusChecker is implemented by asynchronous adapters.
type StatusChecker interface {
	// CheckStatus reports the state of a previously dispatched generation.
	CheckStatus(ctx context.Context, providerTaskID string) (DispatchResult, error)
}

// Canceler is implemented by adapters that can cancel provider-side work.
type Canceler interface {
	Cancel(ctx context.Context, providerTaskID string) error
}

// DispatchError wraps a failed provider call.
type DispatchError struct {
	Adapter string
	Op      string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Adapter, e.Op, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// baseInput merges the validated parameters with the uniform request fields.
func baseInput(req Request) map[string]any {
	input := make(map[string]any, len(req.Parameters)+4)
	maps.Copy(input, req.Parameters)
	input["prompt"] = req.Prompt
	if req.NumberOfOutputs > 0 {
		input["num_outputs"] = req.NumberOfOutputs
	}
	if len(req.InputImages) > 0 {
		input["image_url"] = req.InputImages[0]
		input["image_urls"] = req.InputImages
	}
	return input
}
