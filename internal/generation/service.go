// Package generation orchestrates a generation request: it resolves the
// model, creates the task, dispatches to the provider adapter and either
// closes the task or hands it to the poller.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/domain"
	"github.com/maauso/mediagen-api/internal/generator"
	"github.com/maauso/mediagen-api/internal/poller"
	"github.com/maauso/mediagen-api/internal/task"
	"github.com/maauso/mediagen-api/internal/telemetry"
)

// ErrAlreadyFinished is returned when cancelling a terminal task.
var ErrAlreadyFinished = fmt.Errorf("task already finished: %w", domain.ErrConflict)

// Catalog is the model catalog collaborator.
type Catalog interface {
	ResolveModel(idOrSlug string) (catalog.Resolved, error)
	Lookup(idOrSlug string) (catalog.Resolved, bool)
	ValidateParameters(idOrSlug string, raw map[string]any) (map[string]any, error)
}

// TaskManager is the subset of task.Manager used here.
type TaskManager interface {
	CreateTask(ctx context.Context, in task.CreateInput) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	UpdateTask(ctx context.Context, id string, upd task.Update) (*task.Task, bool, error)
	IncrementModelUsage(ctx context.Context, modelID string)
}

// Request is a generation request.
type Request struct {
	ModelID         string
	Prompt          string
	InputImages     []string
	NumberOfOutputs int
	Parameters      map[string]any
}

// Response is the outcome of SubmitGeneration. Status is SUCCESS or
// FAILED for work that finished synchronously and PROCESSING otherwise.
type Response struct {
	TaskID         string
	Status         task.Status
	Results        []task.Result
	ProviderTaskID string
	Message        string
	Task           *task.Task
}

// Service runs generation requests.
type Service struct {
	catalog Catalog
	factory *Factory
	tasks   TaskManager
	results poller.ResultProcessor
	queue   poller.Queue
	logger  *slog.Logger
}

// NewService creates a Service.
func NewService(cat Catalog, factory *Factory, tasks TaskManager, processor poller.ResultProcessor, queue poller.Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		catalog: cat,
		factory: factory,
		tasks:   tasks,
		results: processor,
		queue:   queue,
		logger:  logger,
	}
}

// SubmitGeneration validates req, creates a task and dispatches it.
// Errors are returned only when no task was created; every failure after
// creation is recorded on the task, which is returned in FAILED.
func (s *Service) SubmitGeneration(ctx context.Context, req Request) (Response, error) {
	resolved, err := s.catalog.ResolveModel(req.ModelID)
	if err != nil {
		return Response{}, err
	}
	params, err := s.catalog.ValidateParameters(resolved.Model.ID, req.Parameters)
	if err != nil {
		return Response{}, err
	}

	n := req.NumberOfOutputs
	if n == 0 {
		n = resolved.Model.DefaultOutputs
	}
	if limit := resolved.Model.MaxOutputs; limit > 0 && n > limit {
		return Response{}, domain.ValidationErrors{{
			Field:   "numberOfOutputs",
			Message: fmt.Sprintf("must be at most %d", limit),
		}}
	}

	t, err := s.tasks.CreateTask(ctx, task.CreateInput{
		ModelID:         resolved.Model.ID,
		Prompt:          req.Prompt,
		InputImages:     req.InputImages,
		NumberOfOutputs: n,
		Parameters:      params,
	})
	if err != nil {
		return Response{}, err
	}

	// Dispatch still honours the caller, but every write after creation must
	// land even when the client has gone away.
	store := context.WithoutCancel(ctx)

	logger := s.logger.With(
		slog.String("task_id", t.ID),
		slog.String("model_id", t.ModelID),
		slog.String("adapter", resolved.Model.Adapter),
	)

	adapter, err := s.factory.Build(resolved)
	if err != nil {
		logger.Error("cannot build adapter", slog.String("error", err.Error()))
		return s.close(store, t.ID, task.Failed(generator.PublicMessage(err)))
	}

	if _, _, err := s.tasks.UpdateTask(store, t.ID, task.Processing()); err != nil {
		logger.Error("cannot start task", slog.String("error", err.Error()))
		s.abandon(store, t.ID, "could not start task", logger)
		return Response{}, fmt.Errorf("start task %s: %w", t.ID, err)
	}

	res := s.dispatch(ctx, adapter, t, resolved, logger)

	switch res.Kind {
	case generator.KindSuccess:
		processed := s.results.ProcessOutputs(store, t.ID, res.Outputs, policyOf(resolved.Provider))
		out, err := s.close(store, t.ID, task.Succeeded(processed))
		out.Message = res.Message
		return out, err

	case generator.KindInProgress:
		if _, ok := adapter.(generator.StatusChecker); !ok {
			logger.Error("adapter returned in-progress without status checks")
			return s.close(store, t.ID, task.Failed(ErrNotPollable.Error()))
		}
		upd := task.InProgress(res.ProviderTaskID)
		upd.Progress = res.Progress
		updated, _, err := s.tasks.UpdateTask(store, t.ID, upd)
		if err != nil {
			logger.Error("cannot record provider task",
				slog.String("provider_task_id", res.ProviderTaskID),
				slog.String("error", err.Error()),
			)
			s.abandon(store, t.ID, "could not record provider task", logger)
			return Response{}, fmt.Errorf("record provider task %s: %w", t.ID, err)
		}
		if updated.IsTerminal() {
			return responseOf(updated, ""), nil
		}
		if err := s.queue.Enqueue(store, poller.JobFromTask(updated)); err != nil {
			logger.Error("cannot schedule poll", slog.String("error", err.Error()))
			return s.close(store, t.ID, task.Failed("could not schedule status polling"))
		}
		logger.Info("generation accepted", slog.String("provider_task_id", res.ProviderTaskID))
		return responseOf(updated, res.Message), nil

	default:
		return s.close(store, t.ID, task.Failed(res.Message))
	}
}

// abandon makes a best-effort attempt to fail a task whose progress could
// not be recorded, so it does not linger in PROCESSING without a poller.
func (s *Service) abandon(ctx context.Context, id, message string, logger *slog.Logger) {
	if _, _, err := s.tasks.UpdateTask(ctx, id, task.Failed(message)); err != nil {
		logger.Error("cannot fail abandoned task", slog.String("error", err.Error()))
	}
}

func (s *Service) dispatch(ctx context.Context, adapter generator.Adapter, t *task.Task, r catalog.Resolved, logger *slog.Logger) generator.DispatchResult {
	model := r.Model.ProviderModel
	if model == "" {
		model = r.Model.ID
	}

	ctx, span := telemetry.StartDispatchSpan(ctx, t.ID, adapter.Name())
	res, err := adapter.Dispatch(ctx, generator.Request{
		TaskID:          t.ID,
		Model:           model,
		OutputType:      r.Model.OutputType,
		Prompt:          t.Prompt,
		InputImages:     t.InputImages,
		NumberOfOutputs: t.NumberOfOutputs,
		Parameters:      t.Parameters,
	})
	telemetry.EndSpan(span, err)

	if err != nil {
		logger.Error("dispatch failed", slog.String("error", err.Error()))
		return generator.Failure(generator.PublicMessage(err))
	}
	if res.Kind == generator.KindInProgress && res.ProviderTaskID == "" {
		return generator.Failure("provider returned no task id")
	}
	return res
}

// close applies a terminal update and builds the response from the stored task.
func (s *Service) close(ctx context.Context, id string, upd task.Update) (Response, error) {
	t, applied, err := s.tasks.UpdateTask(ctx, id, upd)
	if err != nil {
		return Response{}, fmt.Errorf("close task %s: %w", id, err)
	}
	if applied && t.Status == task.StatusSuccess {
		s.tasks.IncrementModelUsage(ctx, t.ModelID)
	}
	return responseOf(t, ""), nil
}

func responseOf(t *task.Task, message string) Response {
	if message == "" && t.Status == task.StatusFailed {
		message = t.ErrorMessage
	}
	return Response{
		TaskID:         t.ID,
		Status:         t.Status,
		Results:        t.Results,
		ProviderTaskID: t.ProviderTaskID,
		Message:        message,
		Task:           t,
	}
}

// Cancel cancels a task that has not reached a terminal state and asks the
// provider to stop its work when the adapter supports it.
func (s *Service) Cancel(ctx context.Context, id string) (*task.Task, error) {
	t, applied, err := s.tasks.UpdateTask(ctx, id, task.Cancelled())
	if err != nil {
		return nil, err
	}
	if !applied {
		return t, ErrAlreadyFinished
	}
	s.logger.Info("task cancelled", slog.String("task_id", id))

	if t.ProviderTaskID != "" {
		s.cancelProvider(ctx, t)
	}
	return t, nil
}

func (s *Service) cancelProvider(ctx context.Context, t *task.Task) {
	r, ok := s.catalog.Lookup(t.ModelID)
	if !ok {
		return
	}
	a, err := s.factory.Build(r)
	if err != nil {
		return
	}
	c, ok := a.(generator.Canceler)
	if !ok {
		return
	}
	if err := c.Cancel(ctx, t.ProviderTaskID); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("provider cancel failed",
			slog.String("task_id", t.ID),
			slog.String("provider_task_id", t.ProviderTaskID),
			slog.String("error", err.Error()),
		)
	}
}
