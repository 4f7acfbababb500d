package storage

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/maauso/mediagen-api/internal/telemetry"
)

// UploadError is returned after the retry budget is exhausted or a
// non-retryable failure occurs.
type UploadError struct {
	Key       string
	Attempts  int
	Retryable bool
	Err       error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload %s failed after %d attempt(s): %v", e.Key, e.Attempts, e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// UploaderConfig configures the retry engine.
type UploaderConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

// Uploaded describes a successfully stored object.
type Uploaded struct {
	URL         string
	Key         string
	ContentType string
	Size        int64
	Attempts    int
}

// Uploader puts objects into an ObjectStore, retrying transient failures
// with exponential backoff and jitter.
type Uploader struct {
	store       ObjectStore
	policy      BackoffPolicy
	maxAttempts int
	logger      *slog.Logger
	metrics     *telemetry.Metrics
	rand        func() float64
}

// UploaderOption configures an Uploader.
type UploaderOption func(*Uploader)

// WithRand overrides the jitter source. fn must return values in [0,1).
func WithRand(fn func() float64) UploaderOption {
	return func(u *Uploader) { u.rand = fn }
}

// WithUploadMetrics sets the metric instruments.
func WithUploadMetrics(m *telemetry.Metrics) UploaderOption {
	return func(u *Uploader) { u.metrics = m }
}

// NewUploader creates a new Uploader. Zero attempts and delays fall back to
// the defaults; Jitter is used as given when in [0,1].
func NewUploader(store ObjectStore, cfg UploaderConfig, logger *slog.Logger, opts ...UploaderOption) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	policy := DefaultBackoffPolicy()
	if cfg.BaseDelay > 0 {
		policy.Base = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		policy.Max = cfg.MaxDelay
	}
	if cfg.Jitter >= 0 && cfg.Jitter <= 1 {
		policy.Jitter = cfg.Jitter
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	u := &Uploader{
		store:       store,
		policy:      policy,
		maxAttempts: maxAttempts,
		logger:      logger,
		rand:        rand.Float64,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload stores data under key. When contentType is empty it is detected
// from the data's magic bytes.
func (u *Uploader) Upload(ctx context.Context, data []byte, key, contentType string) (Uploaded, error) {
	if contentType == "" {
		contentType, _ = DetectContentType(data)
	}

	ctx, span := telemetry.StartUploadSpan(ctx, key)

	var (
		attempt int
		lastErr error
		url     string
	)

	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		if attempt >= u.maxAttempts {
			return 0, true
		}
		delay := u.policy.Delay(attempt, u.rand())
		u.logger.Warn("upload attempt failed, retrying",
			slog.String("key", key),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", lastErr.Error()),
		)
		return delay, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		u.metrics.UploadAttempted(ctx)

		var err error
		url, err = u.store.Put(ctx, key, data, contentType)
		if err == nil {
			return nil
		}
		lastErr = err
		if IsRetryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		uerr := &UploadError{
			Key:       key,
			Attempts:  attempt,
			Retryable: IsRetryable(lastErr),
			Err:       lastErr,
		}
		u.metrics.UploadFailed(ctx, uerr.Retryable)
		u.logger.Error("upload failed",
			slog.String("key", key),
			slog.Int("attempts", attempt),
			slog.Bool("retryable", uerr.Retryable),
			slog.String("error", lastErr.Error()),
		)
		telemetry.EndSpan(span, uerr)
		return Uploaded{}, uerr
	}
	telemetry.EndSpan(span, nil)

	u.logger.Info("upload succeeded",
		slog.String("key", key),
		slog.Int("attempts", attempt),
		slog.Int("size", len(data)),
	)

	return Uploaded{
		URL:         url,
		Key:         key,
		ContentType: contentType,
		Size:        int64(len(data)),
		Attempts:    attempt,
	}, nil
}

// UploadFile reads a local file and uploads it under key.
func (u *Uploader) UploadFile(ctx context.Context, path, key string) (Uploaded, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path is provided by trusted caller
	if err != nil {
		return Uploaded{}, fmt.Errorf("read upload source: %w", err)
	}
	return u.Upload(ctx, data, key, "")
}
