package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/mediagen-api/internal/catalog"
	"github.com/maauso/mediagen-api/internal/domain"
	"github.com/maauso/mediagen-api/internal/generator"
	"github.com/maauso/mediagen-api/internal/httpx"
	"github.com/maauso/mediagen-api/internal/poller"
	"github.com/maauso/mediagen-api/internal/results"
	"github.com/maauso/mediagen-api/internal/storage"
	"github.com/maauso/mediagen-api/internal/task"
)

var pngBytes, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==")

// syncAdapter answers Dispatch directly and cannot be polled.
type syncAdapter struct {
	res generator.DispatchResult
	err error
}

func (a *syncAdapter) Name() string { return "fake-sync" }

func (a *syncAdapter) Dispatch(context.Context, generator.Request) (generator.DispatchResult, error) {
	return a.res, a.err
}

// asyncAdapter returns an in-progress dispatch and replays checks.
type asyncAdapter struct {
	mu        sync.Mutex
	checks    []generator.DispatchResult
	calls     int
	requests  []generator.Request
	cancelled []string
}

func (a *asyncAdapter) Name() string { return "fake-async" }

func (a *asyncAdapter) Dispatch(_ context.Context, req generator.Request) (generator.DispatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.requests = append(a.requests, req)
	return generator.InProgress("abc", nil, "queued"), nil
}

func (a *asyncAdapter) CheckStatus(context.Context, string) (generator.DispatchResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	i := min(a.calls, len(a.checks)-1)
	a.calls++
	return a.checks[i], nil
}

func (a *asyncAdapter) Cancel(_ context.Context, providerTaskID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = append(a.cancelled, providerTaskID)
	return nil
}

func (a *asyncAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return nil
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []poller.Job
}

func (q *recordingQueue) Enqueue(_ context.Context, job poller.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

// ctxRepository rejects writes on a done context the way pgx does and fails
// the updates matched by failOn.
type ctxRepository struct {
	*task.MemoryRepository
	failOn func(task.Update) bool
}

func (r *ctxRepository) Update(ctx context.Context, id string, upd task.Update, now time.Time) (*task.Task, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if r.failOn != nil && r.failOn(upd) {
		return nil, false, errors.New("connection reset")
	}
	return r.MemoryRepository.Update(ctx, id, upd, now)
}

// hangupAdapter cancels the caller's context during Dispatch, as a client
// disconnect would, and then reports res.
type hangupAdapter struct {
	asyncAdapter
	cancel context.CancelFunc
	res    generator.DispatchResult
	err    error
}

func (a *hangupAdapter) Dispatch(context.Context, generator.Request) (generator.DispatchResult, error) {
	a.cancel()
	return a.res, a.err
}

type flakyStore struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) Put(_ context.Context, key string, _ []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return "", &storage.StatusError{StatusCode: http.StatusBadGateway}
	}
	return "https://store.example/" + key, nil
}

type harness struct {
	clock     *fakeClock
	tasks     *task.Manager
	artifacts *results.MemoryArtifactRepository
	queue     *recordingQueue
	service   *Service
	poller    *poller.Poller
	store     *flakyStore
}

type harnessConfig struct {
	adapterName string
	rehost      bool
	failures    int
	sync        *syncAdapter
	async       *asyncAdapter
	repo        task.Repository
}

func newHarness(t *testing.T, hc harnessConfig) *harness {
	t.Helper()

	cat, err := catalog.New(
		[]catalog.Provider{{
			Name:         "acme",
			Upload:       catalog.UploadPolicy{Rehost: hc.rehost, PathPrefix: "gen"},
			PollInterval: 5 * time.Second,
			PollTimeout:  time.Minute,
		}},
		[]catalog.Model{{
			ID:           "model-1",
			Adapter:      hc.adapterName,
			ProviderName: "acme",
			OutputType:   "image",
			AllowUnknown: true,
		}},
	)
	require.NoError(t, err)

	registry := generator.NewRegistry()
	if hc.sync != nil {
		registry.Register("fake-sync", func(generator.ProviderConfig) (generator.Adapter, error) { return hc.sync, nil })
	}
	if hc.async != nil {
		registry.Register("fake-async", func(generator.ProviderConfig) (generator.Adapter, error) { return hc.async, nil })
	}

	clock := &fakeClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	var repo task.Repository = task.NewMemoryRepository()
	if hc.repo != nil {
		repo = hc.repo
	}
	manager := task.NewManager(repo, nil,
		task.WithClock(clock.Now),
		task.WithUsageCounter(cat),
	)

	store := &flakyStore{failures: hc.failures}
	uploader := storage.NewUploader(store, storage.UploaderConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, nil)
	artifacts := results.NewMemoryArtifactRepository()
	processor := results.NewService(uploader, httpx.New("test", httpx.WithMaxRetries(0)), artifacts, nil)

	factory := NewFactory(registry, cat, nil)
	queue := &recordingQueue{}
	p := poller.New(manager, factory, processor, poller.Config{}, nil, poller.WithClock(clock.Now, clock.Sleep))

	return &harness{
		clock:     clock,
		tasks:     manager,
		artifacts: artifacts,
		queue:     queue,
		service:   NewService(cat, factory, manager, processor, queue, nil),
		poller:    p,
		store:     store,
	}
}

func (h *harness) get(t *testing.T, id string) *task.Task {
	t.Helper()
	got, err := h.tasks.GetTask(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestSubmit_SyncSuccessWithoutRehost(t *testing.T) {
	adapter := &syncAdapter{res: generator.Success([]generator.Output{
		{Type: "image", URL: "https://provider.example/out.png", Metadata: map[string]any{"seed": 7}},
	}, "done")}
	h := newHarness(t, harnessConfig{adapterName: "fake-sync", sync: adapter})

	resp, err := h.service.SubmitGeneration(context.Background(), Request{ModelID: "model-1", Prompt: "a fox"})
	require.NoError(t, err)

	assert.Equal(t, task.StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "https://provider.example/out.png", resp.Results[0].URL)
	assert.Equal(t, 7, resp.Results[0].Metadata["seed"])
	assert.False(t, resp.Results[0].Durable)
	assert.Equal(t, "done", resp.Message)

	stored := h.get(t, resp.TaskID)
	assert.Equal(t, task.StatusSuccess, stored.Status)
	assert.False(t, stored.CompletedAt.IsZero())
	assert.Empty(t, h.queue.jobs)
	assert.Zero(t, h.store.calls)
}

func TestSubmit_SyncSuccessRehostedOnThirdAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	defer srv.Close()

	source := srv.URL + "/ephemeral/out.png"
	adapter := &syncAdapter{res: generator.Success([]generator.Output{{Type: "image", URL: source}}, "")}
	h := newHarness(t, harnessConfig{adapterName: "fake-sync", sync: adapter, rehost: true, failures: 2})

	resp, err := h.service.SubmitGeneration(context.Background(), Request{ModelID: "model-1", Prompt: "a fox"})
	require.NoError(t, err)

	assert.Equal(t, task.StatusSuccess, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.True(t, strings.HasPrefix(resp.Results[0].URL, "https://store.example/gen/"+resp.TaskID+"/"))
	assert.True(t, resp.Results[0].Durable)
	assert.Equal(t, 3, h.store.calls)

	recs, err := h.artifacts.ListByTask(context.Background(), resp.TaskID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, source, recs[0].SourceURL)
	assert.Equal(t, resp.Results[0].URL, recs[0].StoredURL)
}

func TestSubmit_AsyncResolvesOnThirdPoll(t *testing.T) {
	adapter := &asyncAdapter{checks: []generator.DispatchResult{
		generator.InProgress("abc", nil, ""),
		generator.InProgress("abc", nil, ""),
		generator.Success([]generator.Output{{Type: "image", URL: "https://provider.example/final.png"}}, ""),
	}}
	h := newHarness(t, harnessConfig{adapterName: "fake-async", async: adapter})
	ctx := context.Background()

	resp, err := h.service.SubmitGeneration(ctx, Request{ModelID: "model-1", Prompt: "a fox", Parameters: map[string]any{"steps": 4}})
	require.NoError(t, err)

	assert.Equal(t, task.StatusProcessing, resp.Status)
	assert.Equal(t, "abc", resp.ProviderTaskID)
	assert.Equal(t, "queued", resp.Message)

	afterDispatch := h.get(t, resp.TaskID)
	assert.Equal(t, task.StatusProcessing, afterDispatch.Status)
	assert.Equal(t, "abc", afterDispatch.ProviderTaskID)
	assert.True(t, afterDispatch.CompletedAt.IsZero())
	assert.Equal(t, 4, adapter.requests[0].Parameters["steps"])

	require.Len(t, h.queue.jobs, 1)
	require.NoError(t, h.poller.Run(ctx, h.queue.jobs[0]))

	final := h.get(t, resp.TaskID)
	assert.Equal(t, task.StatusSuccess, final.Status)
	assert.Equal(t, 3, adapter.Calls())
	assert.Equal(t, afterDispatch.StartedAt.Add(15*time.Second), final.CompletedAt)
	require.Len(t, final.Results, 1)
	assert.Equal(t, "https://provider.example/final.png", final.Results[0].URL)
}

func TestSubmit_AsyncTimesOut(t *testing.T) {
	adapter := &asyncAdapter{checks: []generator.DispatchResult{generator.InProgress("abc", nil, "")}}
	h := newHarness(t, harnessConfig{adapterName: "fake-async", async: adapter})
	ctx := context.Background()

	resp, err := h.service.SubmitGeneration(ctx, Request{ModelID: "model-1", Prompt: "a fox"})
	require.NoError(t, err)
	require.Len(t, h.queue.jobs, 1)
	require.NoError(t, h.poller.Run(ctx, h.queue.jobs[0]))

	final := h.get(t, resp.TaskID)
	assert.Equal(t, task.StatusFailed, final.Status)
	assert.Contains(t, final.ErrorMessage, poller.ErrPollTimeout.Error())
	assert.Equal(t, final.StartedAt.Add(time.Minute), final.CompletedAt)
	assert.Equal(t, 12, adapter.Calls())
}

func TestSubmit_UnknownAdapterFailsImmediately(t *testing.T) {
	h := newHarness(t, harnessConfig{adapterName: "does-not-exist"})

	resp, err := h.service.SubmitGeneration(context.Background(), Request{ModelID: "model-1", Prompt: "a fox"})
	require.NoError(t, err)

	assert.Equal(t, task.StatusFailed, resp.Status)
	assert.Contains(t, resp.Message, "unknown adapter")
	assert.Empty(t, h.queue.jobs)

	stored := h.get(t, resp.TaskID)
	assert.Equal(t, task.StatusFailed, stored.Status)
	assert.Empty(t, stored.ProviderTaskID)
}

func TestSubmit_DispatchErrorFailsTask(t *testing.T) {
	adapter := &syncAdapter{err: &generator.DispatchError{
		Adapter: "fake-sync",
		Op:      "generate",
		Err:     &httpx.StatusError{Op: "fake", StatusCode: 500, Body: "stack trace with secrets"},
	}}
	h := newHarness(t, harnessConfig{adapterName: "fake-sync", sync: adapter})

	resp, err := h.service.SubmitGeneration(context.Background(), Request{ModelID: "model-1", Prompt: "a fox"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, resp.Status)
	assert.Equal(t, "fake-sync generate failed: HTTP 500 Internal Server Error", resp.Message)
	assert.NotContains(t, resp.Message, "secrets")
}

func TestSubmit_ProviderErrorResult(t *testing.T) {
	adapter := &syncAdapter{res: generator.Failure("prompt rejected")}
	h := newHarness(t, harnessConfig{adapterName: "fake-sync", sync: adapter})

	resp, err := h.service.SubmitGeneration(context.Background(), Request{ModelID: "model-1", Prompt: "a fox"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, resp.Status)
	assert.Equal(t, "prompt rejected", resp.Message)
}

func TestSubmit_ErrorsBeforeTaskCreation(t *testing.T) {
	h := newHarness(t, harnessConfig{adapterName: "fake-sync", sync: &syncAdapter{}})
	ctx := context.Background()

	_, err := h.service.SubmitGeneration(ctx, Request{ModelID: "missing", Prompt: "x"})
	assert.ErrorIs(t, err, catalog.ErrModelNotFound)

	_, err = h.service.SubmitGeneration(ctx, Request{ModelID: "model-1", Prompt: "  "})
	assert.ErrorIs(t, err, domain.ErrValidation)

	page, err := h.tasks.ListTasks(ctx, task.Filter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestSubmit_IncrementsUsageOnSuccess(t *testing.T) {
	adapter := &syncAdapter{res: generator.Success([]generator.Output{{Type: "image", URL: "https://p/x.png"}}, "")}
	h := newHarness(t, harnessConfig{adapterName: "fake-sync", sync: adapter})

	_, err := h.service.SubmitGeneration(context.Background(), Request{ModelID: "model-1", Prompt: "x"})
	require.NoError(t, err)

	cat := h.service.catalog.(*catalog.Catalog)
	assert.Equal(t, int64(1), cat.Usage("model-1"))
}

func TestCancel_InFlight(t *testing.T) {
	adapter := &asyncAdapter{checks: []generator.DispatchResult{generator.InProgress("abc", nil, "")}}
	h := newHarness(t, harnessConfig{adapterName: "fake-async", async: adapter})
	ctx := context.Background()

	resp, err := h.service.SubmitGeneration(ctx, Request{ModelID: "model-1", Prompt: "x"})
	require.NoError(t, err)

	cancelled, err := h.service.Cancel(ctx, resp.TaskID)
	require.NoError(t, err)
	assert.Equal(t, task.StatusCancelled, cancelled.Status)
	assert.Equal(t, []string{"abc"}, adapter.cancelled)

	// The poller observes the cancellation and stops without closing the task again.
	require.NoError(t, h.poller.Run(ctx, h.queue.jobs[0]))
	assert.Equal(t, task.StatusCancelled, h.get(t, resp.TaskID).Status)
	assert.Zero(t, adapter.Calls())
}

func TestCancel_Terminal(t *testing.T) {
	adapter := &syncAdapter{res: generator.Success(nil, "")}
	h := newHarness(t, harnessConfig{adapterName: "fake-sync", sync: adapter})
	ctx := context.Background()

	resp, err := h.service.SubmitGeneration(ctx, Request{ModelID: "model-1", Prompt: "x"})
	require.NoError(t, err)

	got, err := h.service.Cancel(ctx, resp.TaskID)
	assert.ErrorIs(t, err, ErrAlreadyFinished)
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, task.StatusSuccess, got.Status)
}

func TestCancel_NotFound(t *testing.T) {
	h := newHarness(t, harnessConfig{adapterName: "fake-sync", sync: &syncAdapter{}})
	_, err := h.service.Cancel(context.Background(), "task_missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestFactory_ResolveTargetRequiresStatusChecker(t *testing.T) {
	h := newHarness(t, harnessConfig{adapterName: "fake-sync", sync: &syncAdapter{}})
	_, err := h.service.factory.ResolveTarget(context.Background(), "model-1")
	assert.ErrorIs(t, err, ErrNotPollable)
}

func TestSubmit_ClientDisconnectStillClosesTask(t *testing.T) {
	tests := []struct {
		name       string
		res        generator.DispatchResult
		err        error
		wantStatus task.Status
		wantJobs   int
	}{
		{
			name:       "dispatch fails",
			err:        context.Canceled,
			wantStatus: task.StatusFailed,
		},
		{
			name:       "sync success",
			res:        generator.Success([]generator.Output{{Type: "image", URL: "https://p/x.png"}}, ""),
			wantStatus: task.StatusSuccess,
		},
		{
			name:       "accepted for polling",
			res:        generator.InProgress("abc", nil, ""),
			wantStatus: task.StatusProcessing,
			wantJobs:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			adapter := &hangupAdapter{cancel: cancel, res: tt.res, err: tt.err}
			h := newHarness(t, harnessConfig{
				adapterName: "fake-async",
				repo:        &ctxRepository{MemoryRepository: task.NewMemoryRepository()},
			})
			h.service.factory.registry.Register("fake-async", func(generator.ProviderConfig) (generator.Adapter, error) {
				return adapter, nil
			})

			resp, err := h.service.SubmitGeneration(ctx, Request{ModelID: "model-1", Prompt: "a fox"})
			require.NoError(t, err)
			require.Error(t, ctx.Err())

			stored := h.get(t, resp.TaskID)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Len(t, h.queue.jobs, tt.wantJobs)

			if tt.wantStatus == task.StatusProcessing {
				assert.Equal(t, "abc", stored.ProviderTaskID)
				inFlight, err := h.tasks.ListInFlight(context.Background())
				require.NoError(t, err)
				require.Len(t, inFlight, 1)
				assert.Equal(t, resp.TaskID, inFlight[0].ID)
			}
		})
	}
}

func TestSubmit_FailedProgressWriteFailsTask(t *testing.T) {
	tests := []struct {
		name   string
		failOn func(task.Update) bool
	}{
		{
			name:   "start",
			failOn: func(u task.Update) bool { return u.Status != nil && *u.Status == task.StatusProcessing && u.ProviderTaskID == nil },
		},
		{
			name:   "provider task id",
			failOn: func(u task.Update) bool { return u.ProviderTaskID != nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &ctxRepository{MemoryRepository: task.NewMemoryRepository(), failOn: tt.failOn}
			adapter := &asyncAdapter{checks: []generator.DispatchResult{generator.InProgress("abc", nil, "")}}
			h := newHarness(t, harnessConfig{adapterName: "fake-async", async: adapter, repo: repo})

			_, err := h.service.SubmitGeneration(context.Background(), Request{ModelID: "model-1", Prompt: "a fox"})
			require.Error(t, err)

			page, err := h.tasks.ListTasks(context.Background(), task.Filter{})
			require.NoError(t, err)
			require.Len(t, page.Items, 1)
			assert.Equal(t, task.StatusFailed, page.Items[0].Status)
			assert.Empty(t, h.queue.jobs)
		})
	}
}
