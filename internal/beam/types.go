// Package beam provides an HTTP client for the Beam.cloud Task Queue API.
package beam

// Status represents the status of a Beam task.
type Status string

// Beam task statuses aligned with the Beam API.
const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusComplete  Status = "COMPLETE" // Beam sometimes returns "COMPLETE" instead of "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusError     Status = "ERROR"    // Beam returns "ERROR" when a task fails
	StatusCanceled  Status = "CANCELED" // Beam uses "CANCELED" (American spelling)
	StatusTimeout   Status = "TIMEOUT"
)

// IsTerminal returns true if the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusComplete, StatusFailed, StatusError, StatusCanceled, StatusTimeout:
		return true
	default:
		return false
	}
}

// taskResponse represents the response from Beam's task submission endpoint.
type taskResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// statusResponse represents the response from Beam's task status endpoint.
type statusResponse struct {
	TaskID  string   `json:"task_id"`
	ID      string   `json:"id,omitempty"`
	Status  string   `json:"status"`
	Outputs []Output `json:"outputs,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// cancelRequest is the body of the task cancel endpoint.
type cancelRequest struct {
	TaskIDs []string `json:"task_ids"`
}

// Output represents a single output file from a Beam task.
type Output struct {
	Name      string `json:"name,omitempty"`
	URL       string `json:"url,omitempty"`
	ExpiresIn int64  `json:"expires_in,omitempty"`
}

// PollResult contains the result of polling a task's status.
type PollResult struct {
	Status  Status
	Outputs []Output // Output files (only set when the task completed)
	Error   string   // Error message (only set when the task failed)
}
