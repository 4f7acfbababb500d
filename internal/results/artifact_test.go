package results

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediagen-api/internal/domain"
)

func TestMemoryArtifactRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryArtifactRepository()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, &UploadedArtifact{ID: "art_2", TaskID: "task_1", StorageKey: "b", CreatedAt: t0.Add(time.Second)}))
	require.NoError(t, repo.Create(ctx, &UploadedArtifact{ID: "art_1", TaskID: "task_1", StorageKey: "a", CreatedAt: t0}))
	require.NoError(t, repo.Create(ctx, &UploadedArtifact{ID: "art_3", TaskID: "task_2", CreatedAt: t0}))

	err := repo.Create(ctx, &UploadedArtifact{ID: "art_1"})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := repo.ListByTask(ctx, "task_1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "art_1", got[0].ID)
	assert.Equal(t, "art_2", got[1].ID)

	got[0].StoredURL = "mutated"
	again, _ := repo.ListByTask(ctx, "task_1")
	assert.Empty(t, again[0].StoredURL)
}
