package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maauso/mediagen-api/internal/domain"
	"github.com/maauso/mediagen-api/internal/results"
)

// Compile-time check that ArtifactStore implements results.ArtifactRepository.
var _ results.ArtifactRepository = (*ArtifactStore)(nil)

// ArtifactStore implements results.ArtifactRepository using PostgreSQL.
type ArtifactStore struct {
	pool *pgxpool.Pool
}

// NewArtifactStore creates an ArtifactStore backed by pool.
func NewArtifactStore(pool *pgxpool.Pool) *ArtifactStore {
	return &ArtifactStore{pool: pool}
}

// Create inserts an artifact record.
func (s *ArtifactStore) Create(ctx context.Context, a *results.UploadedArtifact) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO uploaded_artifacts (id, task_id, source_url, stored_url, storage_key, size_bytes, mime_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.TaskID, a.SourceURL, a.StoredURL, a.StorageKey, a.SizeBytes, a.MimeType, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("artifact %s: %w", a.ID, domain.ErrConflict)
		}
		return fmt.Errorf("create artifact %s: %w", a.ID, err)
	}
	return nil
}

// ListByTask returns the artifacts of taskID, oldest first.
func (s *ArtifactStore) ListByTask(ctx context.Context, taskID string) ([]*results.UploadedArtifact, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, source_url, stored_url, storage_key, size_bytes, mime_type, created_at
		 FROM uploaded_artifacts WHERE task_id = $1 ORDER BY created_at ASC, storage_key ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts %s: %w", taskID, err)
	}
	defer rows.Close()

	out := make([]*results.UploadedArtifact, 0)
	for rows.Next() {
		var a results.UploadedArtifact
		if err := rows.Scan(&a.ID, &a.TaskID, &a.SourceURL, &a.StoredURL, &a.StorageKey,
			&a.SizeBytes, &a.MimeType, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, &a)
	}
	return out, rows.Err()
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
