package task

import (
	"context"
	"time"
)

// Filter narrows a task listing.
type Filter struct {
	Status  Status
	ModelID string
	Limit   int
	Offset  int
}

// Repository defines the interface for task persistence.
// It acts as a port in the hexagonal architecture pattern.
type Repository interface {
	// Create persists a new task.
	Create(ctx context.Context, t *Task) error

	// FindByID retrieves a task by its unique identifier.
	// Returns domain.ErrNotFound if the task does not exist.
	FindByID(ctx context.Context, id string) (*Task, error)

	// List returns tasks matching f ordered by CreatedAt descending,
	// plus the total number of matches ignoring pagination.
	List(ctx context.Context, f Filter) ([]*Task, int, error)

	// Update applies upd to the task only if it is not terminal. The write
	// is conditional: two concurrent closers produce exactly one winner.
	// It returns the stored snapshot and whether upd was applied.
	// Returns domain.ErrNotFound if the task does not exist and
	// ErrInvalidTransition if the status change is illegal.
	Update(ctx context.Context, id string, upd Update, now time.Time) (*Task, bool, error)

	// ListInFlight returns PROCESSING tasks that carry a provider task id.
	ListInFlight(ctx context.Context) ([]*Task, error)

	// Delete removes a task from storage.
	// Returns domain.ErrNotFound if the task does not exist.
	Delete(ctx context.Context, id string) error
}
