package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maauso/mediagen-api/internal/domain"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It uses a map with RWMutex for thread-safe access.
// Used when no DATABASE_URL is configured and in tests.
type MemoryRepository struct {
	mu    sync.RWMutex
	tasks map[string]*Task
}

// NewMemoryRepository creates a new in-memory task repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks: make(map[string]*Task),
	}
}

// Create persists a new task. Creates a clone to avoid external mutations.
func (r *MemoryRepository) Create(_ context.Context, t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, domain.ErrConflict)
	}
	r.tasks[t.ID] = t.Clone()
	return nil
}

// FindByID retrieves a task by its ID.
// Returns a clone to prevent external mutations.
func (r *MemoryRepository) FindByID(_ context.Context, id string) (*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return t.Clone(), nil
}

// List returns matching tasks, newest first.
func (r *MemoryRepository) List(_ context.Context, f Filter) ([]*Task, int, error) {
	r.mu.RLock()
	matched := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.ModelID != "" && t.ModelID != f.ModelID {
			continue
		}
		matched = append(matched, t.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return []*Task{}, total, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

// Update applies upd under the write lock, skipping terminal tasks.
func (r *MemoryRepository) Update(_ context.Context, id string, upd Update, now time.Time) (*Task, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.tasks[id]
	if !ok {
		return nil, false, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}

	next := stored.Clone()
	if err := next.Apply(upd, now); err != nil {
		if errors.Is(err, ErrTerminal) {
			return stored.Clone(), false, nil
		}
		return stored.Clone(), false, err
	}
	r.tasks[id] = next
	return next.Clone(), true, nil
}

// ListInFlight returns PROCESSING tasks awaiting a poll.
func (r *MemoryRepository) ListInFlight(_ context.Context) ([]*Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*Task, 0)
	for _, t := range r.tasks {
		if t.Status == StatusProcessing && t.ProviderTaskID != "" {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// Delete removes a task from storage.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	delete(r.tasks, id)
	return nil
}
