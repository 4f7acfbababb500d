// Package poller drives asynchronous generations to a terminal state.
// A Poller runs one job: it checks the provider until the generation
// resolves or the time budget measured from dispatch start runs out.
// Jobs are executed by the in-process Scheduler or the NATS-backed Queue.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/mediagen-api/internal/generator"
	"github.com/maauso/mediagen-api/internal/results"
	"github.com/maauso/mediagen-api/internal/storage"
	"github.com/maauso/mediagen-api/internal/task"
	"github.com/maauso/mediagen-api/internal/telemetry"
)

// Poller defaults.
const (
	DefaultInterval = 5 * time.Second
	DefaultTimeout  = 30 * time.Minute
)

// ErrPollTimeout is recorded when a generation does not resolve in time.
var ErrPollTimeout = errors.New("generation timed out")

// Job identifies one in-flight asynchronous generation.
type Job struct {
	TaskID         string    `json:"taskId"`
	ProviderTaskID string    `json:"providerTaskId"`
	ModelID        string    `json:"modelId"`
	StartedAt      time.Time `json:"startedAt"`
}

// JobFromTask builds the poll job of a PROCESSING task.
func JobFromTask(t *task.Task) Job {
	started := t.StartedAt
	if started.IsZero() {
		started = t.CreatedAt
	}
	return Job{
		TaskID:         t.ID,
		ProviderTaskID: t.ProviderTaskID,
		ModelID:        t.ModelID,
		StartedAt:      started,
	}
}

// Target is what a job needs from the catalog: the adapter to check and
// the provider's budget and upload policy.
type Target struct {
	Adapter  string
	Checker  generator.StatusChecker
	Interval time.Duration
	Timeout  time.Duration
	Policy   results.Policy
}

// TargetResolver resolves a model id to its poll target.
type TargetResolver interface {
	ResolveTarget(ctx context.Context, modelID string) (Target, error)
}

// TaskStore is the subset of task.Manager the poller uses.
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*task.Task, error)
	UpdateTask(ctx context.Context, id string, upd task.Update) (*task.Task, bool, error)
	IncrementModelUsage(ctx context.Context, modelID string)
}

// ResultProcessor applies the upload policy to provider outputs.
type ResultProcessor interface {
	ProcessOutputs(ctx context.Context, taskID string, outputs []generator.Output, policy results.Policy) []task.Result
}

// Config holds the global poll budget.
type Config struct {
	Interval time.Duration
	Timeout  time.Duration
}

// Poller runs poll jobs.
type Poller struct {
	tasks   TaskStore
	targets TargetResolver
	results ResultProcessor
	cfg     Config
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock overrides the time source and the sleep function.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		p.now = now
		p.sleep = sleep
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// New creates a Poller. Zero budget values fall back to the defaults.
func New(tasks TaskStore, targets TargetResolver, processor ResultProcessor, cfg Config, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	p := &Poller{
		tasks:   tasks,
		targets: targets,
		results: processor,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls job until its task reaches a terminal state. It returns nil
// once the task is terminal, whichever path closed it, and the context
// error when interrupted, leaving the task PROCESSING for a later resume.
func (p *Poller) Run(ctx context.Context, job Job) error {
	logger := p.logger.With(
		slog.String("task_id", job.TaskID),
		slog.String("provider_task_id", job.ProviderTaskID),
	)

	target, err := p.targets.ResolveTarget(ctx, job.ModelID)
	if err != nil {
		logger.Error("cannot resolve poll target", slog.String("error", err.Error()))
		return p.finish(ctx, job, task.Failed("cannot poll provider: "+generator.PublicMessage(err)), logger)
	}
	interval, timeout := p.budget(target)
	logger = logger.With(slog.String("adapter", target.Adapter))

	for {
		elapsed := p.now().Sub(job.StartedAt)
		if elapsed >= timeout {
			logger.Warn("poll timed out", slog.Duration("timeout", timeout))
			msg := fmt.Errorf("%w after %s waiting for the provider", ErrPollTimeout, timeout).Error()
			return p.finish(ctx, job, task.Failed(msg), logger)
		}

		if err := p.sleep(ctx, min(interval, timeout-elapsed)); err != nil {
			return err
		}

		current, err := p.tasks.GetTask(ctx, job.TaskID)
		if err != nil {
			if task.IsNotFound(err) {
				logger.Info("task deleted, stopping poll")
				return nil
			}
			logger.Warn("failed to read task", slog.String("error", err.Error()))
			continue
		}
		if current.IsTerminal() {
			logger.Info("task already closed, stopping poll", slog.String("status", string(current.Status)))
			return nil
		}

		res, err := p.check(ctx, job, target)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if storage.IsRetryable(err) {
				logger.Warn("status check failed, will retry", slog.String("error", err.Error()))
				continue
			}
			logger.Error("status check failed", slog.String("error", err.Error()))
			return p.finish(ctx, job, task.Failed(generator.PublicMessage(err)), logger)
		}

		switch res.Kind {
		case generator.KindInProgress:
			if res.Progress != nil {
				if _, _, err := p.tasks.UpdateTask(ctx, job.TaskID, task.Progressed(*res.Progress)); err != nil {
					logger.Warn("failed to record progress", slog.String("error", err.Error()))
				}
			}
		case generator.KindSuccess:
			processed := p.results.ProcessOutputs(ctx, job.TaskID, res.Outputs, target.Policy)
			return p.finish(ctx, job, task.Succeeded(processed), logger)
		default:
			return p.finish(ctx, job, task.Failed(res.Message), logger)
		}
	}
}

func (p *Poller) check(ctx context.Context, job Job, target Target) (generator.DispatchResult, error) {
	ctx, span := telemetry.StartPollSpan(ctx, job.TaskID, job.ProviderTaskID)
	res, err := target.Checker.CheckStatus(ctx, job.ProviderTaskID)
	telemetry.EndSpan(span, err)
	p.metrics.PollChecked(ctx, target.Adapter)
	return res, err
}

// finish applies the terminal update. A task closed by another path makes
// the update a no-op.
func (p *Poller) finish(ctx context.Context, job Job, upd task.Update, logger *slog.Logger) error {
	t, applied, err := p.tasks.UpdateTask(ctx, job.TaskID, upd)
	if err != nil {
		if task.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("close task %s: %w", job.TaskID, err)
	}
	if !applied {
		logger.Info("task was closed concurrently", slog.String("status", string(t.Status)))
		return nil
	}
	if t.Status == task.StatusSuccess {
		p.tasks.IncrementModelUsage(ctx, t.ModelID)
	}
	logger.Info("poll finished", slog.String("status", string(t.Status)))
	return nil
}

func (p *Poller) budget(t Target) (interval, timeout time.Duration) {
	interval, timeout = p.cfg.Interval, p.cfg.Timeout
	if t.Interval > 0 {
		interval = t.Interval
	}
	if t.Timeout > 0 {
		timeout = t.Timeout
	}
	return interval, timeout
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
