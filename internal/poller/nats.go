package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/semaphore"
)

// JetStream names used by the durable poll queue.
const (
	StreamName   = "GENERATION"
	PollSubject  = "generation.poll"
	ConsumerName = "generation-poller"
)

// ackWait is how long a job may go without a heartbeat before redelivery.
const ackWait = time.Minute

// NATSConfig tunes the durable poll queue.
type NATSConfig struct {
	// MaxConcurrent bounds jobs running at once on this instance.
	MaxConcurrent int64
	// DuplicateWindow is the longest poll any task may run. JetStream
	// remembers a published task id for this long plus the ack wait, so
	// re-publishing an in-flight task never stores a second message.
	DuplicateWindow time.Duration
}

// NATSQueue is a durable Queue backed by a JetStream work-queue stream.
// A job is acked only after its run reaches a terminal outcome, so jobs
// interrupted by a crash are redelivered to another instance.
type NATSQueue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	runner Runner
	sem    *semaphore.Weighted
	logger *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	consume jetstream.ConsumeContext
}

// ConnectNATS connects to url and ensures the poll stream exists.
func ConnectNATS(ctx context.Context, url string, runner Runner, cfg NATSConfig, logger *slog.Logger) (*NATSQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = DefaultTimeout
	}

	nc, err := nats.Connect(url, nats.Name("mediagen-poller"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       StreamName,
		Subjects:   []string{PollSubject},
		Retention:  jetstream.WorkQueuePolicy,
		Duplicates: cfg.DuplicateWindow + ackWait,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	logger.Info("nats connected",
		slog.String("url", url),
		slog.String("stream", StreamName),
		slog.Duration("duplicate_window", cfg.DuplicateWindow+ackWait),
	)
	return newNATSQueue(nc, js, runner, cfg.MaxConcurrent, logger), nil
}

func newNATSQueue(nc *nats.Conn, js jetstream.JetStream, runner Runner, maxConcurrent int64, logger *slog.Logger) *NATSQueue {
	if logger == nil {
		logger = slog.Default()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &NATSQueue{
		nc:      nc,
		js:      js,
		runner:  runner,
		sem:     semaphore.NewWeighted(maxConcurrent),
		logger:  logger,
		running: make(map[string]struct{}),
		ctx:     runCtx,
		cancel:  cancel,
	}
}

// Enqueue publishes job. Publishing twice for the same task inside the
// stream's duplicate window stores a single message.
func (q *NATSQueue) Enqueue(ctx context.Context, job Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode poll job: %w", err)
	}
	if _, err := q.js.Publish(ctx, PollSubject, data, jetstream.WithMsgID(job.TaskID)); err != nil {
		return fmt.Errorf("nats publish %s: %w", PollSubject, err)
	}
	return nil
}

// Start attaches the durable consumer and begins running jobs.
func (q *NATSQueue) Start(ctx context.Context) error {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       ConsumerName,
		FilterSubject: PollSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
	})
	if err != nil {
		return fmt.Errorf("nats consumer create: %w", err)
	}

	cc, err := consumer.Consume(q.handle)
	if err != nil {
		return fmt.Errorf("nats consume: %w", err)
	}
	q.consume = cc
	return nil
}

// handle is invoked sequentially by the consumer; blocking on the
// semaphore applies backpressure to delivery.
func (q *NATSQueue) handle(msg jetstream.Msg) {
	var job Job
	if err := json.Unmarshal(msg.Data(), &job); err != nil {
		q.logger.Error("dropping malformed poll job", slog.String("error", err.Error()))
		if termErr := msg.Term(); termErr != nil {
			q.logger.Error("nats term failed", slog.String("error", termErr.Error()))
		}
		return
	}

	// A second message for a task already being polled here is dropped;
	// the running job owns the task until it acks or naks its own message.
	if !q.claim(job.TaskID) {
		q.logger.Info("dropping duplicate poll job", slog.String("task_id", job.TaskID))
		if ackErr := msg.Ack(); ackErr != nil {
			q.logger.Error("nats ack failed", slog.String("task_id", job.TaskID), slog.String("error", ackErr.Error()))
		}
		return
	}

	if err := q.sem.Acquire(q.ctx, 1); err != nil {
		q.release(job.TaskID)
		_ = msg.Nak()
		return
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.sem.Release(1)
		defer q.release(job.TaskID)
		q.run(msg, job)
	}()
}

func (q *NATSQueue) claim(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.running[taskID]; ok {
		return false
	}
	q.running[taskID] = struct{}{}
	return true
}

func (q *NATSQueue) release(taskID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.running, taskID)
}

// Running reports the number of jobs currently executing on this instance.
func (q *NATSQueue) Running() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

func (q *NATSQueue) run(msg jetstream.Msg, job Job) {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(ackWait / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = msg.InProgress()
			}
		}
	}()

	err := q.runner.Run(q.ctx, job)
	switch {
	case err == nil:
		if ackErr := msg.Ack(); ackErr != nil {
			q.logger.Error("nats ack failed", slog.String("task_id", job.TaskID), slog.String("error", ackErr.Error()))
		}
	case errors.Is(err, context.Canceled):
		_ = msg.Nak()
	default:
		q.logger.Error("poll job failed, redelivering",
			slog.String("task_id", job.TaskID),
			slog.String("error", err.Error()),
		)
		_ = msg.NakWithDelay(DefaultInterval)
	}
}

// Shutdown stops consuming, interrupts running jobs so they are
// redelivered, and closes the connection.
func (q *NATSQueue) Shutdown(ctx context.Context) error {
	if q.consume != nil {
		q.consume.Stop()
	}
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if q.nc != nil {
		q.nc.Close()
	}
	return err
}
