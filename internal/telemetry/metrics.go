package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "mediagen"

// Metrics holds all metric instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	TasksCreated   metric.Int64Counter
	TasksSucceeded metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TasksCancelled metric.Int64Counter
	PollChecks     metric.Int64Counter
	UploadAttempts metric.Int64Counter
	UploadFailures metric.Int64Counter
	TaskDuration   metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksCreated, err = meter.Int64Counter("mediagen.tasks.created",
		metric.WithDescription("Number of generation tasks created"))
	if err != nil {
		return nil, err
	}

	m.TasksSucceeded, err = meter.Int64Counter("mediagen.tasks.succeeded",
		metric.WithDescription("Number of generation tasks that succeeded"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("mediagen.tasks.failed",
		metric.WithDescription("Number of generation tasks that failed"))
	if err != nil {
		return nil, err
	}

	m.TasksCancelled, err = meter.Int64Counter("mediagen.tasks.cancelled",
		metric.WithDescription("Number of generation tasks cancelled"))
	if err != nil {
		return nil, err
	}

	m.PollChecks, err = meter.Int64Counter("mediagen.poll.checks",
		metric.WithDescription("Number of provider status checks"))
	if err != nil {
		return nil, err
	}

	m.UploadAttempts, err = meter.Int64Counter("mediagen.upload.attempts",
		metric.WithDescription("Number of object store upload attempts"))
	if err != nil {
		return nil, err
	}

	m.UploadFailures, err = meter.Int64Counter("mediagen.upload.failures",
		metric.WithDescription("Number of uploads that exhausted retries or failed permanently"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("mediagen.task.duration_seconds",
		metric.WithDescription("Task duration from dispatch start to terminal state"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// TaskCreated records a new task for modelID.
func (m *Metrics) TaskCreated(ctx context.Context, modelID string) {
	if m == nil {
		return
	}
	m.TasksCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("model.id", modelID)))
}

// TaskClosed records a terminal transition. status is SUCCESS, FAILED or CANCELLED.
func (m *Metrics) TaskClosed(ctx context.Context, modelID, status string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("model.id", modelID))
	switch status {
	case "SUCCESS":
		m.TasksSucceeded.Add(ctx, 1, attrs)
	case "FAILED":
		m.TasksFailed.Add(ctx, 1, attrs)
	case "CANCELLED":
		m.TasksCancelled.Add(ctx, 1, attrs)
	}
	if d > 0 {
		m.TaskDuration.Record(ctx, d.Seconds(), metric.WithAttributes(
			attribute.String("model.id", modelID),
			attribute.String("task.status", status),
		))
	}
}

// PollChecked records one provider status check.
func (m *Metrics) PollChecked(ctx context.Context, adapter string) {
	if m == nil {
		return
	}
	m.PollChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("adapter", adapter)))
}

// UploadAttempted records one upload attempt.
func (m *Metrics) UploadAttempted(ctx context.Context) {
	if m == nil {
		return
	}
	m.UploadAttempts.Add(ctx, 1)
}

// UploadFailed records an upload that will not be retried further.
func (m *Metrics) UploadFailed(ctx context.Context, retryable bool) {
	if m == nil {
		return
	}
	m.UploadFailures.Add(ctx, 1, metric.WithAttributes(attribute.Bool("retryable", retryable)))
}
