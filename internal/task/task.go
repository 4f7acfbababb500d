// Package task provides the GenerationTask aggregate and its lifecycle.
// It includes the state machine, the Update patch type applied under the
// terminal-state guard, the Repository port and the Manager that owns all
// task mutations.
package task

import (
	"errors"
	"time"

	"github.com/maauso/mediagen-api/internal/task/id"
)

// Status represents the current state of a Task.
type Status string

const (
	// StatusPending indicates the task was created but dispatch has not begun.
	StatusPending Status = "PENDING"
	// StatusProcessing indicates the provider call is in flight or being polled.
	StatusProcessing Status = "PROCESSING"
	// StatusSuccess indicates the provider produced results.
	StatusSuccess Status = "SUCCESS"
	// StatusFailed indicates dispatch, polling or the provider failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the task was cancelled by an operator.
	StatusCancelled Status = "CANCELLED"
)

// Errors returned by state transitions.
var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrTerminal is returned by Apply when the task is already terminal.
	// Repositories and the Manager translate it into a no-op.
	ErrTerminal = errors.New("task is in a terminal state")
)

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusSuccess, StatusFailed, StatusCancelled},
	StatusSuccess:    {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCancelled
}

// IsValid returns true if s is a known status.
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Result is a single generated output.
type Result struct {
	// Type is the output media type (image, video, audio).
	Type string `json:"type"`
	// URL locates the artifact; rewritten to the object-store URL when re-hosted.
	URL string `json:"url"`
	// Metadata is provider-specific and passed through untouched.
	Metadata map[string]any `json:"metadata,omitempty"`
	// Durable is false when the URL is the provider's original, possibly ephemeral, link.
	Durable bool `json:"durable"`
}

// Task represents a media generation task.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ModelID references the catalog model used for generation.
	ModelID string `json:"modelId"`
	// Prompt is the text input.
	Prompt string `json:"prompt"`
	// InputImages are ordered reference image URLs.
	InputImages []string `json:"inputImages,omitempty"`
	// NumberOfOutputs is the requested output count.
	NumberOfOutputs int `json:"numberOfOutputs"`
	// Parameters are validated, provider-specific options.
	Parameters map[string]any `json:"parameters,omitempty"`
	// Status is the current task state.
	Status Status `json:"status"`
	// ProviderTaskID is assigned by asynchronous providers.
	ProviderTaskID string `json:"providerTaskId,omitempty"`
	// Progress is the provider-reported completion fraction in [0,1].
	Progress *float64 `json:"progress,omitempty"`
	// Results is non-nil only when Status is SUCCESS.
	Results []Result `json:"results"`
	// ErrorMessage is set only when Status is FAILED.
	ErrorMessage string `json:"errorMessage,omitempty"`
	// Version increments on every applied update (optimistic locking).
	Version int `json:"version"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the task was last updated.
	UpdatedAt time.Time `json:"updatedAt"`
	// StartedAt is when dispatch began.
	StartedAt time.Time `json:"startedAt,omitzero"`
	// CompletedAt is when the task reached a terminal state.
	CompletedAt time.Time `json:"completedAt,omitzero"`
	// DurationMs is wall-clock time from dispatch start to the terminal state.
	DurationMs *int64 `json:"durationMs,omitempty"`
}

// New creates a new Task in PENDING with a generated ID.
func New(modelID, prompt string, now time.Time) *Task {
	return &Task{
		ID:              id.Task(),
		ModelID:         modelID,
		Prompt:          prompt,
		NumberOfOutputs: 1,
		Status:          StatusPending,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// IsTerminal returns true if the task is in a terminal state.
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Elapsed returns the time since dispatch start, or since creation when
// dispatch has not been stamped.
func (t *Task) Elapsed(now time.Time) time.Duration {
	if !t.StartedAt.IsZero() {
		return now.Sub(t.StartedAt)
	}
	return now.Sub(t.CreatedAt)
}

// Apply applies upd to the task and bumps UpdatedAt and Version.
// It returns ErrTerminal if the task is already terminal and
// ErrInvalidTransition if the requested status change is not allowed.
// On error the task is left unchanged.
func (t *Task) Apply(upd Update, now time.Time) error {
	if t.Status.IsTerminal() {
		return ErrTerminal
	}

	next := t.Status
	if upd.Status != nil && *upd.Status != t.Status {
		if !CanTransition(t.Status, *upd.Status) {
			return ErrInvalidTransition
		}
		next = *upd.Status
	}

	if upd.ProviderTaskID != nil {
		t.ProviderTaskID = *upd.ProviderTaskID
	}
	if upd.Progress != nil {
		p := clamp01(*upd.Progress)
		t.Progress = &p
	}
	if upd.Results != nil {
		t.Results = cloneResults(upd.Results)
	}
	if upd.ErrorMessage != nil {
		t.ErrorMessage = *upd.ErrorMessage
	}

	t.Status = next
	t.UpdatedAt = now
	t.Version++

	if next == StatusProcessing && t.StartedAt.IsZero() {
		t.StartedAt = now
	}

	// Results and error message are only meaningful in their own terminal state.
	switch next {
	case StatusSuccess:
		if t.Results == nil {
			t.Results = []Result{}
		}
		t.ErrorMessage = ""
	case StatusFailed:
		t.Results = nil
		if t.ErrorMessage == "" {
			t.ErrorMessage = "generation failed"
		}
	default:
		t.Results = nil
		t.ErrorMessage = ""
	}

	if next.IsTerminal() {
		if t.CompletedAt.IsZero() {
			t.CompletedAt = now
		}
		switch {
		case upd.DurationMs != nil:
			d := *upd.DurationMs
			t.DurationMs = &d
		case !t.StartedAt.IsZero():
			d := t.CompletedAt.Sub(t.StartedAt).Milliseconds()
			t.DurationMs = &d
		}
		if next == StatusSuccess {
			one := 1.0
			t.Progress = &one
		}
	}

	return nil
}

// Clone creates a deep copy of the task for safe reads.
func (t *Task) Clone() *Task {
	c := *t
	if t.InputImages != nil {
		c.InputImages = append([]string(nil), t.InputImages...)
	}
	if t.Parameters != nil {
		c.Parameters = make(map[string]any, len(t.Parameters))
		for k, v := range t.Parameters {
			c.Parameters[k] = v
		}
	}
	if t.Progress != nil {
		p := *t.Progress
		c.Progress = &p
	}
	if t.DurationMs != nil {
		d := *t.DurationMs
		c.DurationMs = &d
	}
	c.Results = cloneResults(t.Results)
	return &c
}

func cloneResults(in []Result) []Result {
	if in == nil {
		return nil
	}
	out := make([]Result, len(in))
	for i, r := range in {
		out[i] = r
		if r.Metadata != nil {
			out[i].Metadata = make(map[string]any, len(r.Metadata))
			for k, v := range r.Metadata {
				out[i].Metadata[k] = v
			}
		}
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
