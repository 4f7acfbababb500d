// Package results implements the policy layer between a provider's raw
// result list and the task store: results are optionally re-hosted into
// durable object storage, keeping the provider URL when that fails.
package results

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maauso/mediagen-api/internal/generator"
	"github.com/maauso/mediagen-api/internal/storage"
	"github.com/maauso/mediagen-api/internal/task"
	"github.com/maauso/mediagen-api/internal/task/id"
)

// DefaultConcurrency bounds parallel re-hosts per task.
const DefaultConcurrency = 4

// Policy is a provider's upload policy.
type Policy struct {
	// Rehost copies results into the object store.
	Rehost bool
	// PathPrefix prefixes the storage keys of re-hosted results.
	PathPrefix string
}

// Fetcher downloads a remote artifact.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Uploader stores bytes durably.
type Uploader interface {
	Upload(ctx context.Context, data []byte, key, contentType string) (storage.Uploaded, error)
}

// Service applies the upload policy to raw results.
type Service struct {
	uploader    Uploader
	fetcher     Fetcher
	artifacts   ArtifactRepository
	logger      *slog.Logger
	now         func() time.Time
	concurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for artifact timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithConcurrency sets the number of results re-hosted in parallel.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewService creates a Service. artifacts may be nil, in which case no
// records are kept.
func NewService(uploader Uploader, fetcher Fetcher, artifacts ArtifactRepository, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		uploader:    uploader,
		fetcher:     fetcher,
		artifacts:   artifacts,
		logger:      logger,
		now:         time.Now,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process returns raw with each URL re-hosted according to policy.
// Ordering and metadata are preserved; only URL and Durable change.
// A result whose re-host fails keeps its provider URL with Durable false.
// Process never fails the task: per-result errors are logged.
func (s *Service) Process(ctx context.Context, taskID string, raw []task.Result, policy Policy) []task.Result {
	out := make([]task.Result, len(raw))
	copy(out, raw)

	if !policy.Rehost || s.uploader == nil {
		for i := range out {
			out[i].Durable = false
		}
		return out
	}

	// Each goroutine owns one index of out; errors never cancel siblings.
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range out {
		g.Go(func() error {
			stored, err := s.rehost(ctx, taskID, i, out[i].URL, policy.PathPrefix)
			if err != nil {
				s.logger.Warn("re-host failed, keeping provider URL",
					slog.String("task_id", taskID),
					slog.Int("index", i),
					slog.String("error", err.Error()),
				)
				out[i].Durable = false
				return nil
			}
			out[i].URL = stored
			out[i].Durable = true
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) rehost(ctx context.Context, taskID string, index int, sourceURL, prefix string) (string, error) {
	data, contentType, err := s.download(ctx, sourceURL)
	if err != nil {
		return "", err
	}

	sniffed, ext := storage.DetectContentType(data)
	if sniffed != "application/octet-stream" || contentType == "" {
		contentType = sniffed
	}

	key := storage.ObjectKey(prefix, taskID, index, uuid.NewString()[:8], ext)
	up, err := s.uploader.Upload(ctx, data, key, contentType)
	if err != nil {
		return "", err
	}

	if s.artifacts != nil {
		a := &UploadedArtifact{
			ID:         id.Artifact(),
			TaskID:     taskID,
			SourceURL:  recordedSource(sourceURL),
			StoredURL:  up.URL,
			StorageKey: up.Key,
			SizeBytes:  up.Size,
			MimeType:   up.ContentType,
			CreatedAt:  s.now().UTC(),
		}
		if err := s.artifacts.Create(ctx, a); err != nil {
			// The object is stored; only the bookkeeping row is missing.
			s.logger.Error("record artifact failed",
				slog.String("task_id", taskID),
				slog.String("key", up.Key),
				slog.String("error", err.Error()),
			)
		}
	}
	return up.URL, nil
}

func (s *Service) download(ctx context.Context, u string) ([]byte, string, error) {
	if storage.IsDataURL(u) {
		return storage.DecodeDataURL(u)
	}
	if s.fetcher == nil {
		return nil, "", fmt.Errorf("no fetcher configured for %s", u)
	}
	data, ct, err := s.fetcher.Fetch(ctx, u)
	if err != nil {
		return nil, "", fmt.Errorf("download result: %w", err)
	}
	ct, _, _ = strings.Cut(ct, ";")
	return data, strings.TrimSpace(ct), nil
}

// recordedSource keeps inline payloads out of the artifact table.
func recordedSource(u string) string {
	if storage.IsDataURL(u) {
		meta, _, _ := strings.Cut(u, ",")
		return meta + ",<inline>"
	}
	return u
}

// ProcessOutputs converts adapter outputs to task results and applies Process.
func (s *Service) ProcessOutputs(ctx context.Context, taskID string, outputs []generator.Output, policy Policy) []task.Result {
	raw := make([]task.Result, len(outputs))
	for i, o := range outputs {
		raw[i] = task.Result{Type: o.Type, URL: o.URL, Metadata: o.Metadata}
	}
	return s.Process(ctx, taskID, raw, policy)
}
