// Package runpod provides an HTTP client for RunPod serverless endpoints.
package runpod

import "encoding/json"

// Status represents the status of a RunPod job.
type Status string

// RunPod job statuses aligned with the RunPod API.
const (
	StatusInQueue    Status = "IN_QUEUE"
	StatusRunning    Status = "RUNNING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusTimedOut   Status = "TIMED_OUT"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// runRequest represents the request body for RunPod's /run endpoint.
type runRequest struct {
	Input map[string]any `json:"input"`
}

// runResponse represents the response from RunPod's /run endpoint.
type runResponse struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse represents the response from RunPod's /status endpoint.
type statusResponse struct {
	ID            string          `json:"id"`
	Status        string          `json:"status"`
	Output        json.RawMessage `json:"output,omitempty"`
	Error         string          `json:"error,omitempty"`
	DelayTime     int64           `json:"delayTime,omitempty"`
	ExecutionTime int64           `json:"executionTime,omitempty"`
}

// StatusResult contains the result of polling a job's status.
type StatusResult struct {
	Status Status
	// Output is the worker's raw output (only set when Status is StatusCompleted).
	Output json.RawMessage
	// Error is the failure reason (only set for FAILED, CANCELLED and TIMED_OUT).
	Error string
	// DelayTime is the queue time in milliseconds.
	DelayTime int64
	// ExecutionTime is the run time in milliseconds.
	ExecutionTime int64
}
