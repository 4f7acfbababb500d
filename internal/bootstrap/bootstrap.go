// Package bootstrap provides dependency initialization for the generation API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/config"
	"github.com/maauso/mediagen-api/internal/generation"
	"github.com/maauso/mediagen-api/internal/generator"
	"github.com/maauso/mediagen-api/internal/httpx"
	"github.com/maauso/mediagen-api/internal/poller"
	"github.com/maauso/mediagen-api/internal/postgres"
	"github.com/maauso/mediagen-api/internal/results"
	"github.com/maauso/mediagen-api/internal/server"
	"github.com/maauso/mediagen-api/internal/storage"
	"github.com/maauso/mediagen-api/internal/task"
	"github.com/maauso/mediagen-api/internal/telemetry"
)

// ServiceName identifies the process in logs and telemetry.
const ServiceName = "mediagen-api"

// pollQueue is implemented by the in-process Scheduler and the NATS queue.
type pollQueue interface {
	poller.Queue
	Shutdown(ctx context.Context) error
}

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Catalog     *catalog.Catalog
	Tasks       *task.Manager
	Generations *generation.Service
	Router      http.Handler

	queue   pollQueue
	nats    *poller.NATSQueue
	closers []func(context.Context) error
	logger  *slog.Logger
}

// NewDependencies creates and initializes all dependencies for the application.
// The caller must call Start before serving and Shutdown on exit.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (deps *Dependencies, err error) {
	d := &Dependencies{logger: logger}
	defer func() {
		if err != nil {
			_ = d.Shutdown(context.Background())
		}
	}()

	// Initialize telemetry before any instrument is created
	shutdownTelemetry, err := telemetry.Setup(ctx, ServiceName, cfg.OTLPEndpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("setup telemetry: %w", err)
	}
	d.closers = append(d.closers, shutdownTelemetry)

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("create metrics: %w", err)
	}

	// Load the model catalog
	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	d.Catalog = cat
	logger.Info("catalog loaded",
		slog.String("file", cfg.CatalogFile),
		slog.Int("models", len(cat.Models())),
	)

	// Initialize repositories
	taskRepo, artifactRepo, err := d.initRepositories(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var cache *task.SnapshotCache
	if cfg.TaskCacheMB > 0 {
		if cache, err = task.NewSnapshotCache(cfg.TaskCacheMB << 20); err != nil {
			return nil, fmt.Errorf("create task cache: %w", err)
		}
		d.closers = append(d.closers, func(context.Context) error {
			cache.Close()
			return nil
		})
	}
	d.Tasks = task.NewManager(taskRepo, logger,
		task.WithCache(cache),
		task.WithUsageCounter(cat),
		task.WithMetrics(metrics),
	)

	// Initialize object store and the result pipeline
	store, err := initObjectStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	uploader := storage.NewUploader(store, storage.UploaderConfig{
		MaxAttempts: cfg.UploadMaxAttempts,
		BaseDelay:   cfg.UploadBaseDelay,
		MaxDelay:    cfg.UploadMaxDelay,
		Jitter:      cfg.UploadJitter,
	}, logger, storage.WithUploadMetrics(metrics))
	fetcher := httpx.New("result-fetch", httpx.WithMaxResponseBytes(cfg.ResultMaxBytes))
	resultService := results.NewService(uploader, fetcher, artifactRepo, logger)

	// Initialize adapters and the poller
	factory := generation.NewFactory(generator.DefaultRegistry(), cat, nil)
	poll := poller.New(d.Tasks, factory, resultService, poller.Config{
		Interval: cfg.PollInterval,
		Timeout:  cfg.PollTimeout,
	}, logger, poller.WithMetrics(metrics))

	if err := d.initQueue(ctx, cfg, poll); err != nil {
		return nil, err
	}

	d.Generations = generation.NewService(cat, factory, d.Tasks, resultService, d.queue, logger)

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(d.Generations, d.Tasks, artifactRepo, logger)
	routerCfg := server.DefaultConfig()
	routerCfg.ServiceName = ServiceName
	if !cfg.S3Enabled() {
		routerCfg.FilesDir = cfg.StorageDir
	}
	d.Router = server.NewRouter(handlers, logger, routerCfg)

	return d, nil
}

// initRepositories selects Postgres when DATABASE_URL is set and in-memory otherwise.
func (d *Dependencies) initRepositories(ctx context.Context, cfg *config.Config) (task.Repository, results.ArtifactRepository, error) {
	if !cfg.PostgresEnabled() {
		d.logger.Warn("DATABASE_URL not set, tasks are kept in memory")
		return task.NewMemoryRepository(), results.NewMemoryArtifactRepository(), nil
	}

	if err := postgres.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DatabaseURL,
		MaxConns: cfg.PGMaxConns,
		MinConns: cfg.PGMinConns,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	d.closers = append(d.closers, func(context.Context) error {
		pool.Close()
		return nil
	})
	d.logger.Info("postgres repositories configured")
	return postgres.NewTaskStore(pool), postgres.NewArtifactStore(pool), nil
}

// initObjectStore creates the S3 store when configured, the local store otherwise.
func initObjectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.ObjectStore, error) {
	if cfg.S3Enabled() {
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			PublicBaseURL:   cfg.S3PublicBaseURL,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("create S3 store: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStore(cfg.StorageDir, cfg.StoragePublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("create local store: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("dir", cfg.StorageDir),
		slog.String("public_base_url", cfg.StoragePublicBaseURL),
	)
	return localStore, nil
}

// initQueue selects the durable NATS queue when NATS_URL is set and the
// in-process scheduler otherwise.
func (d *Dependencies) initQueue(ctx context.Context, cfg *config.Config, runner poller.Runner) error {
	if !cfg.NATSEnabled() {
		d.queue = poller.NewScheduler(runner, cfg.PollMaxConcurrent, d.logger)
		d.logger.Info("in-process poll scheduler configured",
			slog.Int64("max_concurrent", cfg.PollMaxConcurrent),
		)
		return nil
	}

	q, err := poller.ConnectNATS(ctx, cfg.NATSURL, runner, poller.NATSConfig{
		MaxConcurrent:   cfg.PollMaxConcurrent,
		DuplicateWindow: d.Catalog.MaxPollTimeout(cfg.PollTimeout),
	}, d.logger)
	if err != nil {
		return fmt.Errorf("connect NATS: %w", err)
	}
	d.queue = q
	d.nats = q
	d.logger.Info("NATS poll queue configured", slog.String("url", cfg.NATSURL))
	return nil
}

// Start begins consuming poll jobs and re-enqueues tasks left in flight by a
// previous process. On NATS the stream's duplicate window covers the longest
// poll, so re-publishing a task whose message is still pending is a no-op.
func (d *Dependencies) Start(ctx context.Context) error {
	if d.nats != nil {
		if err := d.nats.Start(ctx); err != nil {
			return err
		}
	}
	n, err := poller.Resume(ctx, d.Tasks, d.queue, d.logger)
	if err != nil {
		return fmt.Errorf("resume polling: %w", err)
	}
	if n > 0 {
		d.logger.Info("resumed in-flight tasks", slog.Int("count", n))
	}
	return nil
}

// Shutdown stops the poll queue and releases resources in reverse order.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	var errs []error
	if d.queue != nil {
		if err := d.queue.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown poll queue: %w", err))
		}
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	d.queue = nil
	return errors.Join(errs...)
}
