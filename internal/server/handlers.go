package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/domain"
	"github.com/maauso/mediagen-api/internal/generation"
	"github.com/maauso/mediagen-api/internal/results"
	"github.com/maauso/mediagen-api/internal/task"
)

// maxBodyBytes bounds request bodies; inline base64 images are not accepted.
const maxBodyBytes = 1 << 20

// Generator starts and cancels generations.
type Generator interface {
	SubmitGeneration(ctx context.Context, req generation.Request) (generation.Response, error)
	Cancel(ctx context.Context, id string) (*task.Task, error)
}

// TaskReader reads and deletes tasks.
type TaskReader interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasks(ctx context.Context, f task.Filter) (task.Page, error)
	DeleteTask(ctx context.Context, id string) error
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	generations Generator
	tasks       TaskReader
	artifacts   results.ArtifactRepository
	validator   *validator.Validate
	logger      *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(generations Generator, tasks TaskReader, artifacts results.ArtifactRepository, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		generations: generations,
		tasks:       tasks,
		artifacts:   artifacts,
		validator:   validator.New(),
		logger:      logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateGeneration handles POST /v1/generations requests.
// Generations that finish synchronously answer 200; accepted asynchronous
// work answers 202 with the task id to poll.
func (h *Handlers) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req CreateGenerationRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeValidation(w, fieldErrors(err))
		return
	}

	resp, err := h.generations.SubmitGeneration(r.Context(), generation.Request{
		ModelID:         req.ModelID,
		Prompt:          req.Prompt,
		InputImages:     req.InputImages,
		NumberOfOutputs: req.NumberOfOutputs,
		Parameters:      req.Parameters,
	})
	if err != nil {
		h.writeSubmitError(w, req.ModelID, err)
		return
	}

	noteTaskID(r, resp.TaskID)

	status := http.StatusOK
	if resp.Status == task.StatusProcessing {
		status = http.StatusAccepted
	}
	writeJSON(w, status, GenerationResponse{
		TaskID:         resp.TaskID,
		Status:         string(resp.Status),
		Results:        toResultResponses(resp.Results),
		ProviderTaskID: resp.ProviderTaskID,
		Message:        resp.Message,
	})
}

func (h *Handlers) writeSubmitError(w http.ResponseWriter, modelID string, err error) {
	var verrs domain.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeValidation(w, verrs)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
	case errors.Is(err, catalog.ErrModelNotFound):
		writeError(w, http.StatusNotFound, "model not found", "MODEL_NOT_FOUND")
	case errors.Is(err, catalog.ErrModelInactive), errors.Is(err, catalog.ErrProviderInactive):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), "MODEL_UNAVAILABLE")
	default:
		h.logger.Error("failed to submit generation",
			slog.String("model_id", modelID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to submit generation", "GENERATION_FAILED")
	}
}

// ListTasks handles GET /v1/tasks requests.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := task.Filter{
		Status:  task.Status(q.Get("status")),
		ModelID: q.Get("modelId"),
	}
	var ok bool
	if f.Limit, ok = intParam(w, q.Get("limit"), "limit"); !ok {
		return
	}
	if f.Offset, ok = intParam(w, q.Get("offset"), "offset"); !ok {
		return
	}

	page, err := h.tasks.ListTasks(r.Context(), f)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to list tasks", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list tasks", "TASK_LIST_FAILED")
		return
	}

	items := make([]TaskResponse, len(page.Items))
	for i, t := range page.Items {
		items[i] = toTaskResponse(t)
	}
	writeJSON(w, http.StatusOK, TaskListResponse{
		Items:  items,
		Total:  page.Total,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// GetTask handles GET /v1/tasks/{id} requests.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	t, err := h.tasks.GetTask(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, taskID, err, "failed to get task")
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// DeleteTask handles DELETE /v1/tasks/{id} requests.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	if err := h.tasks.DeleteTask(r.Context(), taskID); err != nil {
		h.writeTaskError(w, taskID, err, "failed to delete task")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelTask handles POST /v1/tasks/{id}/cancel requests.
func (h *Handlers) CancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	t, err := h.generations.Cancel(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			writeError(w, http.StatusConflict, "task already finished", "TASK_FINISHED")
			return
		}
		h.writeTaskError(w, taskID, err, "failed to cancel task")
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(t))
}

// ListArtifacts handles GET /v1/tasks/{id}/artifacts requests.
func (h *Handlers) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "id")

	arts, err := h.artifacts.ListByTask(r.Context(), taskID)
	if err != nil {
		h.writeTaskError(w, taskID, err, "failed to list artifacts")
		return
	}
	out := make([]ArtifactResponse, len(arts))
	for i, a := range arts {
		out[i] = toArtifactResponse(a)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) writeTaskError(w http.ResponseWriter, taskID string, err error, msg string) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found", "TASK_NOT_FOUND")
		return
	}
	h.logger.Error(msg,
		slog.String("task_id", taskID),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, msg, "INTERNAL_ERROR")
}

func intParam(w http.ResponseWriter, raw, name string) (int, bool) {
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer", "VALIDATION_ERROR")
		return 0, false
	}
	return n, true
}

// fieldErrors converts validator errors to domain validation errors.
func fieldErrors(err error) domain.ValidationErrors {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return domain.ValidationErrors{{Message: err.Error()}}
	}
	out := make(domain.ValidationErrors, 0, len(ves))
	for _, fe := range ves {
		msg := "failed " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, domain.ValidationError{Field: fe.Field(), Message: msg})
	}
	return out
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func writeValidation(w http.ResponseWriter, fields domain.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:  "validation failed",
		Code:   "VALIDATION_ERROR",
		Fields: fields,
	})
}
