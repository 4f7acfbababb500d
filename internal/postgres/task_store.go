package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maauso/mediagen-api/internal/domain"
	"github.com/maauso/mediagen-api/internal/task"
)

// maxUpdateRetries bounds the optimistic-locking loop in TaskStore.Update.
const maxUpdateRetries = 5

// Compile-time check that TaskStore implements task.Repository.
var _ task.Repository = (*TaskStore)(nil)

const taskColumns = `id, model_id, prompt, input_images, number_of_outputs, parameters, status,
	provider_task_id, progress, results, error_message, version, created_at, updated_at,
	started_at, completed_at, duration_ms`

// TaskStore implements task.Repository using PostgreSQL.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore creates a TaskStore backed by pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

// Create persists a new task.
func (s *TaskStore) Create(ctx context.Context, t *task.Task) error {
	row, err := encodeTask(t)
	if err != nil {
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO generation_tasks (`+taskColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		t.ID, t.ModelID, t.Prompt, row.inputImages, t.NumberOfOutputs, row.parameters, string(t.Status),
		t.ProviderTaskID, t.Progress, row.results, t.ErrorMessage, t.Version, t.CreatedAt, t.UpdatedAt,
		nullTime(t.StartedAt), nullTime(t.CompletedAt), t.DurationMs)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create task %s: %w", t.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create task %s: %w", t.ID, err)
	}
	return nil
}

// FindByID retrieves a task by its ID.
func (s *TaskStore) FindByID(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM generation_tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// List returns matching tasks ordered by created_at descending.
func (s *TaskStore) List(ctx context.Context, f task.Filter) ([]*task.Task, int, error) {
	where := `WHERE ($1 = '' OR status = $1) AND ($2 = '' OR model_id = $2)`

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM generation_tasks `+where,
		string(f.Status), f.ModelID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	limit := any(nil)
	if f.Limit > 0 {
		limit = f.Limit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM generation_tasks `+where+`
		 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4`,
		string(f.Status), f.ModelID, limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// Update reads the task, applies upd in memory and writes it back only if
// neither the version nor the non-terminal status changed in between.
// A lost race is retried against the fresh row; once the row is terminal the
// update becomes a no-op.
func (s *TaskStore) Update(ctx context.Context, id string, upd task.Update, now time.Time) (*task.Task, bool, error) {
	for range maxUpdateRetries {
		stored, err := s.FindByID(ctx, id)
		if err != nil {
			return nil, false, err
		}

		next := stored.Clone()
		if err := next.Apply(upd, now); err != nil {
			if errors.Is(err, task.ErrTerminal) {
				return stored, false, nil
			}
			return stored, false, err
		}

		row, err := encodeTask(next)
		if err != nil {
			return stored, false, fmt.Errorf("update task %s: %w", id, err)
		}

		tag, err := s.pool.Exec(ctx,
			`UPDATE generation_tasks SET status = $3, provider_task_id = $4, progress = $5, results = $6,
			   error_message = $7, version = $8, updated_at = $9, started_at = $10, completed_at = $11, duration_ms = $12
			 WHERE id = $1 AND version = $2 AND status IN ('PENDING', 'PROCESSING')`,
			id, stored.Version, string(next.Status), next.ProviderTaskID, next.Progress, row.results,
			next.ErrorMessage, next.Version, next.UpdatedAt, nullTime(next.StartedAt), nullTime(next.CompletedAt), next.DurationMs)
		if err != nil {
			return stored, false, fmt.Errorf("update task %s: %w", id, err)
		}
		if tag.RowsAffected() == 1 {
			return next, true, nil
		}
	}
	return nil, false, fmt.Errorf("update task %s: %w", id, domain.ErrConflict)
}

// ListInFlight returns PROCESSING tasks that carry a provider task id.
func (s *TaskStore) ListInFlight(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM generation_tasks
		 WHERE status = 'PROCESSING' AND provider_task_id <> ''
		 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list in-flight tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// Delete removes a task.
func (s *TaskStore) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM generation_tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

type encodedTask struct {
	inputImages []byte
	parameters  []byte
	results     []byte
}

func encodeTask(t *task.Task) (encodedTask, error) {
	var (
		out encodedTask
		err error
	)
	images := t.InputImages
	if images == nil {
		images = []string{}
	}
	if out.inputImages, err = json.Marshal(images); err != nil {
		return out, fmt.Errorf("marshal input images: %w", err)
	}
	params := t.Parameters
	if params == nil {
		params = map[string]any{}
	}
	if out.parameters, err = json.Marshal(params); err != nil {
		return out, fmt.Errorf("marshal parameters: %w", err)
	}
	if t.Results != nil {
		if out.results, err = json.Marshal(t.Results); err != nil {
			return out, fmt.Errorf("marshal results: %w", err)
		}
	}
	return out, nil
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t                       task.Task
		status                  string
		images, params, results []byte
		startedAt, completedAt  *time.Time
	)
	err := row.Scan(&t.ID, &t.ModelID, &t.Prompt, &images, &t.NumberOfOutputs, &params, &status,
		&t.ProviderTaskID, &t.Progress, &results, &t.ErrorMessage, &t.Version, &t.CreatedAt, &t.UpdatedAt,
		&startedAt, &completedAt, &t.DurationMs)
	if err != nil {
		return nil, err
	}
	t.Status = task.Status(status)

	if len(images) > 0 {
		if err := json.Unmarshal(images, &t.InputImages); err != nil {
			return nil, fmt.Errorf("unmarshal input images: %w", err)
		}
		if len(t.InputImages) == 0 {
			t.InputImages = nil
		}
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &t.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
		if len(t.Parameters) == 0 {
			t.Parameters = nil
		}
	}
	if results != nil {
		t.Results = []task.Result{}
		if err := json.Unmarshal(results, &t.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	if startedAt != nil {
		t.StartedAt = startedAt.UTC()
	}
	if completedAt != nil {
		t.CompletedAt = completedAt.UTC()
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}

func collectTasks(rows pgx.Rows) ([]*task.Task, error) {
	tasks := make([]*task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
