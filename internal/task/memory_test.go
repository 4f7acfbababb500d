package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maauso/mediagen-api/internal/domain"
)

func TestMemoryRepository_Create(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	task := New("m", "p", t0)

	if err := repo.Create(ctx, task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	saved, err := repo.FindByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.ID != task.ID {
		t.Errorf("expected ID %s, got %s", task.ID, saved.ID)
	}

	if err := repo.Create(ctx, task); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate create, got %v", err)
	}
}

func TestMemoryRepository_FindByID_NotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.FindByID(context.Background(), "nonexistent")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryRepository_FindByID_ReturnsClone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	task := New("m", "p", t0)
	_ = repo.Create(ctx, task)

	found, _ := repo.FindByID(ctx, task.ID)
	found.Status = StatusSuccess

	original, _ := repo.FindByID(ctx, task.ID)
	if original.Status != StatusPending {
		t.Error("modifying returned task should not affect repository")
	}
}

func TestMemoryRepository_Update(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	task := New("m", "p", t0)
	_ = repo.Create(ctx, task)

	updated, applied, err := repo.Update(ctx, task.ID, Processing(), t0.Add(time.Second))
	if err != nil || !applied {
		t.Fatalf("expected applied update, got applied=%v err=%v", applied, err)
	}
	if updated.Status != StatusProcessing {
		t.Errorf("expected PROCESSING, got %s", updated.Status)
	}

	_, _, err = repo.Update(ctx, "missing", Processing(), t0)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	_, applied, err = repo.Update(ctx, task.ID, Update{Status: ptr(StatusPending)}, t0)
	if !errors.Is(err, ErrInvalidTransition) || applied {
		t.Errorf("expected ErrInvalidTransition, got applied=%v err=%v", applied, err)
	}
}

func TestMemoryRepository_List(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		task := New("m", "p", t0.Add(time.Duration(i)*time.Minute))
		if i%2 == 0 {
			task.ModelID = "other"
		}
		_ = repo.Create(ctx, task)
	}

	all, total, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 5 || len(all) != 5 {
		t.Fatalf("expected 5 tasks, got total=%d len=%d", total, len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.After(all[i-1].CreatedAt) {
			t.Error("expected tasks ordered by createdAt descending")
		}
	}

	page, total, _ := repo.List(ctx, Filter{ModelID: "other", Limit: 2, Offset: 1})
	if total != 3 {
		t.Errorf("expected 3 matching tasks, got %d", total)
	}
	if len(page) != 2 {
		t.Errorf("expected page of 2, got %d", len(page))
	}

	empty, _, _ := repo.List(ctx, Filter{Offset: 10})
	if len(empty) != 0 {
		t.Errorf("expected empty page past the end, got %d", len(empty))
	}
}

func TestMemoryRepository_ListInFlight(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	pending := New("m", "p", t0)
	_ = repo.Create(ctx, pending)

	polling := New("m", "p", t0)
	_ = repo.Create(ctx, polling)
	_, _, _ = repo.Update(ctx, polling.ID, InProgress("abc"), t0)

	inflight, err := repo.ListInFlight(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inflight) != 1 || inflight[0].ID != polling.ID {
		t.Errorf("expected only the polling task, got %v", inflight)
	}
}

func TestMemoryRepository_Delete(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	task := New("m", "p", t0)
	_ = repo.Create(ctx, task)

	if err := repo.Delete(ctx, task.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := repo.FindByID(ctx, task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Error("expected task to be deleted")
	}
	if err := repo.Delete(ctx, task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
