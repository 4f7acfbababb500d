// Package id provides unique identifier generation for tasks and artifacts.
package id

import (
	"github.com/google/uuid"
)

// Generate creates a new unique, time-ordered identifier.
// Format: <prefix>_<uuidv7>
// Example: task_01890a5d-ac96-774b-bcce-b302099a8057
func Generate(prefix string) string {
	u, err := uuid.NewV7()
	if err != nil {
		// Fall back to a random v4 if the clock source fails
		u = uuid.New()
	}
	if prefix == "" {
		return u.String()
	}
	return prefix + "_" + u.String()
}

// Task returns a new task identifier.
func Task() string {
	return Generate("task")
}

// Artifact returns a new uploaded-artifact identifier.
func Artifact() string {
	return Generate("art")
}
