package task

// Update is a partial set of fields applied by Manager.UpdateTask.
// Nil fields are left unchanged.
type Update struct {
	Status         *Status
	ProviderTaskID *string
	Progress       *float64
	Results        []Result
	ErrorMessage   *string
	DurationMs     *int64
}

// Processing moves the task to PROCESSING.
func Processing() Update {
	s := StatusProcessing
	return Update{Status: &s}
}

// InProgress records the provider task id for an asynchronous dispatch.
func InProgress(providerTaskID string) Update {
	s := StatusProcessing
	return Update{Status: &s, ProviderTaskID: &providerTaskID}
}

// Progressed records a poll progress report.
func Progressed(p float64) Update {
	return Update{Progress: &p}
}

// Succeeded closes the task with results.
func Succeeded(results []Result) Update {
	s := StatusSuccess
	if results == nil {
		results = []Result{}
	}
	return Update{Status: &s, Results: results}
}

// Failed closes the task with an error message.
func Failed(message string) Update {
	s := StatusFailed
	return Update{Status: &s, ErrorMessage: &message}
}

// Cancelled closes the task as cancelled.
func Cancelled() Update {
	s := StatusCancelled
	return Update{Status: &s}
}
