package poller

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maauso/mediagen-api/internal/task"
)

// InFlightLister lists PROCESSING tasks awaiting a poll.
type InFlightLister interface {
	ListInFlight(ctx context.Context) ([]*task.Task, error)
}

// Resume re-enqueues every in-flight task. Budgets are measured from each
// task's persisted dispatch start, so time spent down counts against them.
func Resume(ctx context.Context, tasks InFlightLister, queue Queue, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	inFlight, err := tasks.ListInFlight(ctx)
	if err != nil {
		return 0, fmt.Errorf("list in-flight tasks: %w", err)
	}
	n := 0
	for _, t := range inFlight {
		if err := queue.Enqueue(ctx, JobFromTask(t)); err != nil {
			logger.Error("failed to resume poll",
				slog.String("task_id", t.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
	}
	if n > 0 {
		logger.Info("resumed in-flight polls", slog.Int("count", n))
	}
	return n, nil
}
