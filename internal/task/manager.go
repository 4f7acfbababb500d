package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maauso/mediagen-api/internal/domain"
	"github.com/maauso/mediagen-api/internal/telemetry"
)

const (
	// DefaultListLimit is the page size used when none is requested.
	DefaultListLimit = 20
	// MaxListLimit caps the requested page size.
	MaxListLimit = 100
)

// UsageCounter is the best-effort model usage side channel.
type UsageCounter interface {
	IncrementUsage(ctx context.Context, modelID string) error
}

// CreateInput contains the fields of a new task.
type CreateInput struct {
	ModelID         string
	Prompt          string
	InputImages     []string
	NumberOfOutputs int
	Parameters      map[string]any
}

// Page is one page of a task listing.
type Page struct {
	Items  []*Task
	Total  int
	Limit  int
	Offset int
}

// Manager owns the task lifecycle. All task mutations go through UpdateTask.
type Manager struct {
	repo    Repository
	cache   *SnapshotCache
	usage   UsageCounter
	metrics *telemetry.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithCache enables the terminal snapshot cache.
func WithCache(c *SnapshotCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithUsageCounter sets the model usage counter.
func WithUsageCounter(u UsageCounter) Option {
	return func(m *Manager) { m.usage = u }
}

// WithMetrics sets the metric instruments.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a new Manager.
func NewManager(repo Repository, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateTask creates and persists a new task in PENDING.
func (m *Manager) CreateTask(ctx context.Context, in CreateInput) (*Task, error) {
	var verrs domain.ValidationErrors
	if strings.TrimSpace(in.ModelID) == "" {
		verrs = append(verrs, domain.ValidationError{Field: "modelId", Message: "must not be empty"})
	}
	if strings.TrimSpace(in.Prompt) == "" {
		verrs = append(verrs, domain.ValidationError{Field: "prompt", Message: "must not be empty"})
	}
	if in.NumberOfOutputs < 0 {
		verrs = append(verrs, domain.ValidationError{Field: "numberOfOutputs", Message: "must be positive"})
	}
	if len(verrs) > 0 {
		return nil, verrs
	}

	t := New(in.ModelID, in.Prompt, m.now().UTC())
	if in.NumberOfOutputs > 0 {
		t.NumberOfOutputs = in.NumberOfOutputs
	}
	if len(in.InputImages) > 0 {
		t.InputImages = append([]string(nil), in.InputImages...)
	}
	if len(in.Parameters) > 0 {
		t.Parameters = in.Parameters
	}

	if err := m.repo.Create(ctx, t); err != nil {
		m.logger.Error("failed to save task",
			slog.String("task_id", t.ID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("create task: %w", err)
	}

	m.logger.Info("task created",
		slog.String("task_id", t.ID),
		slog.String("model_id", t.ModelID),
		slog.Int("number_of_outputs", t.NumberOfOutputs),
	)
	m.metrics.TaskCreated(ctx, t.ModelID)

	return t, nil
}

// UpdateTask applies upd to the task. Updates to a terminal task are a
// no-op: the stored snapshot is returned with applied == false.
func (m *Manager) UpdateTask(ctx context.Context, id string, upd Update) (*Task, bool, error) {
	if cached, ok := m.cache.Get(id); ok {
		return cached, false, nil
	}

	t, applied, err := m.repo.Update(ctx, id, upd, m.now().UTC())
	if err != nil {
		return t, false, fmt.Errorf("update task %s: %w", id, err)
	}
	if !applied {
		m.logger.Debug("update ignored for terminal task",
			slog.String("task_id", id),
			slog.String("status", string(t.Status)),
		)
		m.cache.Put(t)
		return t, false, nil
	}

	if upd.Status != nil {
		m.logger.Info("task transitioned",
			slog.String("task_id", t.ID),
			slog.String("status", string(t.Status)),
		)
	}
	if t.IsTerminal() {
		var d time.Duration
		if t.DurationMs != nil {
			d = time.Duration(*t.DurationMs) * time.Millisecond
		}
		m.metrics.TaskClosed(ctx, t.ModelID, string(t.Status), d)
		m.cache.Put(t)
	}
	return t, true, nil
}

// GetTask retrieves a task by ID.
func (m *Manager) GetTask(ctx context.Context, id string) (*Task, error) {
	if cached, ok := m.cache.Get(id); ok {
		return cached, nil
	}
	t, err := m.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.cache.Put(t)
	return t, nil
}

// ListTasks returns a page of tasks, newest first.
func (m *Manager) ListTasks(ctx context.Context, f Filter) (Page, error) {
	if f.Status != "" && !f.Status.IsValid() {
		return Page{}, domain.NewValidationError("status", "unknown status "+string(f.Status))
	}
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	items, total, err := m.repo.List(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("list tasks: %w", err)
	}
	return Page{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

// ListInFlight returns PROCESSING tasks that need a poller.
func (m *Manager) ListInFlight(ctx context.Context) ([]*Task, error) {
	return m.repo.ListInFlight(ctx)
}

// DeleteTask hard-deletes a task. Uploaded artifacts are retained.
func (m *Manager) DeleteTask(ctx context.Context, id string) error {
	if err := m.repo.Delete(ctx, id); err != nil {
		return err
	}
	m.cache.Del(id)
	m.logger.Info("task deleted", slog.String("task_id", id))
	return nil
}

// IncrementModelUsage bumps the usage counter for modelID. Failures are
// logged and never returned.
func (m *Manager) IncrementModelUsage(ctx context.Context, modelID string) {
	if m.usage == nil {
		return
	}
	if err := m.usage.IncrementUsage(ctx, modelID); err != nil {
		m.logger.Warn("failed to increment model usage",
			slog.String("model_id", modelID),
			slog.String("error", err.Error()),
		)
	}
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
