// Package server provides the HTTP transport of the generation API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/mediagen-api/internal/domain"
	"github.com/maauso/mediagen-api/internal/results"
	"github.com/maauso/mediagen-api/internal/task"
)

// CreateGenerationRequest is the HTTP request body for starting a generation.
type CreateGenerationRequest struct {
	// ModelID is the catalog model id or slug.
	ModelID string `json:"modelId" validate:"required,max=200"`
	// Prompt is the text input.
	Prompt string `json:"prompt" validate:"required,max=10000"`
	// InputImages are optional reference image URLs.
	InputImages []string `json:"inputImages" validate:"omitempty,max=16,dive,url"`
	// NumberOfOutputs defaults to the model's default when omitted.
	NumberOfOutputs int `json:"numberOfOutputs" validate:"omitempty,min=1,max=16"`
	// Parameters are validated against the model's declared parameters.
	Parameters map[string]any `json:"parameters"`
}

// ResultResponse is one generated output.
type ResultResponse struct {
	Type     string         `json:"type"`
	URL      string         `json:"url"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Durable  bool           `json:"durable"`
}

// GenerationResponse is returned by POST /v1/generations.
type GenerationResponse struct {
	TaskID         string           `json:"taskId"`
	Status         string           `json:"status"`
	Results        []ResultResponse `json:"results,omitempty"`
	ProviderTaskID string           `json:"providerTaskId,omitempty"`
	Message        string           `json:"message,omitempty"`
}

// TaskResponse is the HTTP representation of a task.
type TaskResponse struct {
	ID              string           `json:"id"`
	ModelID         string           `json:"modelId"`
	Prompt          string           `json:"prompt"`
	InputImages     []string         `json:"inputImages,omitempty"`
	NumberOfOutputs int              `json:"numberOfOutputs"`
	Parameters      map[string]any   `json:"parameters,omitempty"`
	Status          string           `json:"status"`
	ProviderTaskID  string           `json:"providerTaskId,omitempty"`
	Progress        *float64         `json:"progress,omitempty"`
	Results         []ResultResponse `json:"results"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	CompletedAt     *time.Time       `json:"completedAt,omitempty"`
	DurationMs      *int64           `json:"durationMs,omitempty"`
}

// TaskListResponse is a page of tasks.
type TaskListResponse struct {
	Items  []TaskResponse `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// ArtifactResponse is a durably stored artifact.
type ArtifactResponse struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"taskId"`
	SourceURL  string    `json:"sourceUrl"`
	StoredURL  string    `json:"storedUrl"`
	StorageKey string    `json:"storageKey"`
	SizeBytes  int64     `json:"sizeBytes"`
	MimeType   string    `json:"mimeType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Fields lists invalid input fields for validation errors.
	Fields []domain.ValidationError `json:"fields,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func toResultResponses(in []task.Result) []ResultResponse {
	if in == nil {
		return nil
	}
	out := make([]ResultResponse, len(in))
	for i, r := range in {
		out[i] = ResultResponse{Type: r.Type, URL: r.URL, Metadata: r.Metadata, Durable: r.Durable}
	}
	return out
}

func toTaskResponse(t *task.Task) TaskResponse {
	resp := TaskResponse{
		ID:              t.ID,
		ModelID:         t.ModelID,
		Prompt:          t.Prompt,
		InputImages:     t.InputImages,
		NumberOfOutputs: t.NumberOfOutputs,
		Parameters:      t.Parameters,
		Status:          string(t.Status),
		ProviderTaskID:  t.ProviderTaskID,
		Progress:        t.Progress,
		Results:         toResultResponses(t.Results),
		ErrorMessage:    t.ErrorMessage,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		DurationMs:      t.DurationMs,
	}
	if !t.CompletedAt.IsZero() {
		c := t.CompletedAt
		resp.CompletedAt = &c
	}
	return resp
}

func toArtifactResponse(a *results.UploadedArtifact) ArtifactResponse {
	return ArtifactResponse{
		ID:         a.ID,
		TaskID:     a.TaskID,
		SourceURL:  a.SourceURL,
		StoredURL:  a.StoredURL,
		StorageKey: a.StorageKey,
		SizeBytes:  a.SizeBytes,
		MimeType:   a.MimeType,
		CreatedAt:  a.CreatedAt,
	}
}
