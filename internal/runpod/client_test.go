package runpod

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// setTestEnv sets the RUNPOD_API_KEY env var for the duration of the test.
func setTestEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RUNPOD_API_KEY", "test-key")
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusInQueue, false},
		{StatusRunning, false},
		{StatusInProgress, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
		{StatusTimedOut, true},
		{Status("UNKNOWN"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestNewClient_MissingEndpointID(t *testing.T) {
	setTestEnv(t)

	_, err := NewClient("")
	if !errors.Is(err, ErrEndpointIDRequired) {
		t.Errorf("expected ErrEndpointIDRequired, got %v", err)
	}
}

func TestNewClient_MissingAPIKey(t *testing.T) {
	t.Setenv("RUNPOD_API_KEY", "")
	_ = os.Unsetenv("RUNPOD_API_KEY")

	_, err := NewClient("test-endpoint")
	if !errors.Is(err, ErrAPIKeyNotSet) {
		t.Errorf("expected ErrAPIKeyNotSet, got %v", err)
	}
}

func TestNewClient_WithAPIKeyOptionOverridesEnv(t *testing.T) {
	setTestEnv(t)

	client, err := NewClient("test-endpoint", WithAPIKey("explicit-api-key"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.apiKey != "explicit-api-key" {
		t.Errorf("expected apiKey to be 'explicit-api-key', got '%s'", client.apiKey)
	}
}

func TestRun_Success(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/test-endpoint/run" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("expected Bearer test-key, got %s", r.Header.Get("Authorization"))
		}

		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}
		if req.Input["prompt"] != "a red fox" {
			t.Errorf("expected prompt in input, got %v", req.Input["prompt"])
		}

		_ = json.NewEncoder(w).Encode(runResponse{ID: "job-123", Status: "IN_QUEUE"})
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

	jobID, err := client.Run(context.Background(), map[string]any{"prompt": "a red fox"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobID != "job-123" {
		t.Errorf("expected job-123, got %s", jobID)
	}
}

func TestRun_Error(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(runResponse{Error: "invalid input"})
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

	_, err := client.Run(context.Background(), map[string]any{})
	if !errors.Is(err, ErrSubmitFailed) {
		t.Errorf("expected ErrSubmitFailed, got %v", err)
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	setTestEnv(t)

	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Run(ctx, map[string]any{})
	if err == nil {
		t.Error("expected error due to context cancellation")
	}
}

func TestStatus_AllStatuses(t *testing.T) {
	setTestEnv(t)

	tests := []struct {
		name           string
		body           string
		expectedStatus Status
		expectedOutput string
		expectedError  string
	}{
		{"IN_QUEUE", `{"id":"job-1","status":"IN_QUEUE"}`, StatusInQueue, "", ""},
		{"IN_PROGRESS", `{"id":"job-1","status":"IN_PROGRESS"}`, StatusInProgress, "", ""},
		{"COMPLETED", `{"id":"job-1","status":"COMPLETED","output":{"video":"AAAA"}}`, StatusCompleted, `{"video":"AAAA"}`, ""},
		{"FAILED", `{"id":"job-1","status":"FAILED","error":"processing failed"}`, StatusFailed, "", "processing failed"},
		{"CANCELLED", `{"id":"job-1","status":"CANCELLED"}`, StatusCancelled, "", "job cancelled"},
		{"TIMED_OUT", `{"id":"job-1","status":"TIMED_OUT"}`, StatusTimedOut, "", "job timed_out"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("expected GET, got %s", r.Method)
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))

			result, err := client.Status(context.Background(), "job-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Status != tt.expectedStatus {
				t.Errorf("expected status %v, got %v", tt.expectedStatus, result.Status)
			}
			if string(result.Output) != tt.expectedOutput {
				t.Errorf("expected output %q, got %q", tt.expectedOutput, string(result.Output))
			}
			if result.Error != tt.expectedError {
				t.Errorf("expected error %q, got %q", tt.expectedError, result.Error)
			}
		})
	}
}

func TestStatus_EmptyJobID(t *testing.T) {
	setTestEnv(t)

	client, _ := NewClient("test-endpoint")

	_, err := client.Status(context.Background(), "")
	if !errors.Is(err, ErrJobIDRequired) {
		t.Errorf("expected ErrJobIDRequired, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	setTestEnv(t)

	var called atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/test-endpoint/cancel/job-1" && r.Method == http.MethodPost {
			called.Store(true)
		}
		_, _ = w.Write([]byte(`{"id":"job-1","status":"CANCELLED"}`))
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint", WithBaseURL(server.URL))
	if err := client.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called.Load() {
		t.Error("expected cancel endpoint to be called")
	}
}

func TestRetry_TransientFailure(t *testing.T) {
	setTestEnv(t)

	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		count := atomic.AddInt32(&attempts, 1)
		if count < 3 {
			// First two attempts fail with 503
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("service unavailable"))
			return
		}
		_, _ = w.Write([]byte(`{"id":"job-1","status":"COMPLETED"}`))
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint",
		WithBaseURL(server.URL),
		WithMaxRetries(3),
		WithBaseBackoff(10*time.Millisecond),
	)

	result, err := client.Status(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %v", result.Status)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	setTestEnv(t)

	var attempts int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest) // 400 is not retryable
		_, _ = w.Write([]byte("bad request"))
	}))
	defer server.Close()

	client, _ := NewClient("test-endpoint",
		WithBaseURL(server.URL),
		WithMaxRetries(3),
		WithBaseBackoff(10*time.Millisecond),
	)

	_, err := client.Status(context.Background(), "job-1")
	if err == nil {
		t.Error("expected error")
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("expected 1 attempt (no retries for 400), got %d", attempts)
	}
}
