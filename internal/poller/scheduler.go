package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrent bounds concurrently running poll jobs.
const DefaultMaxConcurrent = 64

// ErrSchedulerClosed is returned by Enqueue after Shutdown.
var ErrSchedulerClosed = errors.New("poll scheduler is closed")

// Runner executes a single poll job.
type Runner interface {
	Run(ctx context.Context, job Job) error
}

// Queue accepts poll jobs. Jobs outlive the request that enqueued them.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// Scheduler runs poll jobs in-process as background goroutines, bounded
// by a weighted semaphore. Jobs interrupted by Shutdown are resumed from
// the task store on the next start.
type Scheduler struct {
	runner Runner
	sem    *semaphore.Weighted
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	running map[string]struct{}
}

// NewScheduler creates a Scheduler running at most maxConcurrent jobs.
func NewScheduler(runner Runner, maxConcurrent int64, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		runner:  runner,
		sem:     semaphore.NewWeighted(maxConcurrent),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		running: make(map[string]struct{}),
	}
}

// Enqueue starts job in the background. A job for a task that is already
// being polled is ignored. ctx is not inherited by the job.
func (s *Scheduler) Enqueue(_ context.Context, job Job) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	if _, dup := s.running[job.TaskID]; dup {
		s.mu.Unlock()
		return nil
	}
	s.running[job.TaskID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.run(job)
	return nil
}

func (s *Scheduler) run(job Job) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.running, job.TaskID)
		s.mu.Unlock()
	}()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	if err := s.runner.Run(s.ctx, job); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("poll job failed",
			slog.String("task_id", job.TaskID),
			slog.String("error", err.Error()),
		)
	}
}

// Running returns the number of jobs queued or running.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Wait blocks until every enqueued job has returned.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Shutdown stops accepting jobs, interrupts running ones and waits for
// them to return or for ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
