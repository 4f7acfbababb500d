package results

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/maauso/mediagen-api/internal/domain"
)

// UploadedArtifact records one durably re-hosted result. Immutable once created.
type UploadedArtifact struct {
	ID     string `json:"id"`
	TaskID string `json:"taskId"`
	// SourceURL is the provider's original, possibly ephemeral, URL.
	SourceURL string `json:"sourceUrl"`
	// StoredURL is the object-store URL.
	StoredURL  string    `json:"storedUrl"`
	StorageKey string    `json:"storageKey"`
	SizeBytes  int64     `json:"sizeBytes"`
	MimeType   string    `json:"mimeType"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ArtifactRepository persists UploadedArtifact records.
type ArtifactRepository interface {
	// Create stores a new artifact. Returns domain.ErrConflict for a duplicate id.
	Create(ctx context.Context, a *UploadedArtifact) error
	// ListByTask returns the artifacts of taskID ordered by CreatedAt ascending.
	ListByTask(ctx context.Context, taskID string) ([]*UploadedArtifact, error)
}

// Compile-time check that MemoryArtifactRepository implements ArtifactRepository.
var _ ArtifactRepository = (*MemoryArtifactRepository)(nil)

// MemoryArtifactRepository is an in-memory ArtifactRepository.
type MemoryArtifactRepository struct {
	mu        sync.RWMutex
	artifacts map[string]UploadedArtifact
}

// NewMemoryArtifactRepository creates an empty repository.
func NewMemoryArtifactRepository() *MemoryArtifactRepository {
	return &MemoryArtifactRepository{artifacts: make(map[string]UploadedArtifact)}
}

// Create implements ArtifactRepository.
func (r *MemoryArtifactRepository) Create(_ context.Context, a *UploadedArtifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.artifacts[a.ID]; ok {
		return fmt.Errorf("artifact %s: %w", a.ID, domain.ErrConflict)
	}
	r.artifacts[a.ID] = *a
	return nil
}

// ListByTask implements ArtifactRepository.
func (r *MemoryArtifactRepository) ListByTask(_ context.Context, taskID string) ([]*UploadedArtifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*UploadedArtifact, 0)
	for _, a := range r.artifacts {
		if a.TaskID == taskID {
			c := a
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].StorageKey < out[j].StorageKey
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
