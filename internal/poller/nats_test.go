package poller

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu   sync.Mutex
	jobs []Job
}

func (r *recordingRunner) Run(_ context.Context, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return nil
}

func (r *recordingRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T, runner Runner) *NATSQueue {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	q, err := ConnectNATS(context.Background(), url, runner, NATSConfig{MaxConcurrent: 4}, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return q
}

func TestNATSQueue_EnqueueRuns(t *testing.T) {
	runner := &recordingRunner{}
	q := testConnect(t, runner)
	require.NoError(t, q.Start(context.Background()))

	job := Job{
		TaskID:         "task_nats_" + time.Now().Format("150405.000000"),
		ProviderTaskID: "prov-1",
		ModelID:        "flux-dev",
		StartedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, q.Enqueue(context.Background(), job))

	assert.Eventually(t, func() bool { return runner.count() >= 1 }, 5*time.Second, 20*time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Contains(t, runner.jobs, job)
}

// fakeMsg records how a delivery was settled.
type fakeMsg struct {
	data []byte

	mu      sync.Mutex
	settled string
}

func newFakeMsg(t *testing.T, job Job) *fakeMsg {
	t.Helper()
	data, err := json.Marshal(job)
	require.NoError(t, err)
	return &fakeMsg{data: data}
}

func (m *fakeMsg) settle(s string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settled = s
	return nil
}

func (m *fakeMsg) Settled() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settled
}

func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) { return &jetstream.MsgMetadata{}, nil }
func (m *fakeMsg) Data() []byte { return m.data }
func (m *fakeMsg) Headers() nats.Header { return nil }
func (m *fakeMsg) Subject() string { return PollSubject }
func (m *fakeMsg) Reply() string { return "" }
func (m *fakeMsg) Ack() error { return m.settle("ack") }
func (m *fakeMsg) DoubleAck(context.Context) error { return m.settle("ack") }
func (m *fakeMsg) Nak() error { return m.settle("nak") }
func (m *fakeMsg) NakWithDelay(time.Duration) error { return m.settle("nak") }
func (m *fakeMsg) InProgress() error { return nil }
func (m *fakeMsg) Term() error { return m.settle("term") }
func (m *fakeMsg) TermWithReason(string) error { return m.settle("term") }

// gatedRunner blocks every run until release is closed.
type gatedRunner struct {
	release chan struct{}

	mu   sync.Mutex
	runs map[string]int
}

func (r *gatedRunner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.runs[job.TaskID]++
	r.mu.Unlock()
	select {
	case <-r.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *gatedRunner) count(taskID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[taskID]
}

func TestNATSQueue_HandleDropsDuplicateDelivery(t *testing.T) {
	runner := &gatedRunner{release: make(chan struct{}), runs: make(map[string]int)}
	q := newNATSQueue(nil, nil, runner, 4, nil)
	t.Cleanup(func() { _ = q.Shutdown(context.Background()) })

	job := Job{TaskID: "task_1", ProviderTaskID: "abc", ModelID: "flux-dev"}
	first := newFakeMsg(t, job)
	second := newFakeMsg(t, job)
	other := newFakeMsg(t, Job{TaskID: "task_2", ProviderTaskID: "def", ModelID: "flux-dev"})

	q.handle(first)
	assert.Eventually(t, func() bool { return runner.count("task_1") == 1 }, time.Second, 5*time.Millisecond)

	q.handle(second)
	assert.Equal(t, "ack", second.Settled())

	q.handle(other)
	assert.Eventually(t, func() bool { return runner.count("task_2") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, q.Running())

	close(runner.release)
	assert.Eventually(t, func() bool { return q.Running() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ack", first.Settled())
	assert.Equal(t, "ack", other.Settled())
	assert.Equal(t, 1, runner.count("task_1"))

	// Once the first run finishes the task may be polled again.
	again := newFakeMsg(t, job)
	q.handle(again)
	assert.Eventually(t, func() bool { return again.Settled() == "ack" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, runner.count("task_1"))
}

func TestNATSQueue_HandleTermsMalformedJob(t *testing.T) {
	q := newNATSQueue(nil, nil, &recordingRunner{}, 1, nil)
	t.Cleanup(func() { _ = q.Shutdown(context.Background()) })

	msg := &fakeMsg{data: []byte("{not json")}
	q.handle(msg)
	assert.Equal(t, "term", msg.Settled())
	assert.Zero(t, q.Running())
}

func TestNATSQueue_RepublishInsideWindowRunsOnce(t *testing.T) {
	runner := &recordingRunner{}
	q := testConnect(t, runner)
	require.NoError(t, q.Start(context.Background()))

	job := Job{
		TaskID:         "task_dup_" + time.Now().Format("150405.000000"),
		ProviderTaskID: "prov-1",
		ModelID:        "flux-dev",
	}
	require.NoError(t, q.Enqueue(context.Background(), job))
	require.NoError(t, q.Enqueue(context.Background(), job))

	assert.Eventually(t, func() bool { return runner.count() >= 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Never(t, func() bool { return runner.count() > 1 }, time.Second, 50*time.Millisecond)
}
