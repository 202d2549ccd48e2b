package common

import "github.com/google/uuid"

// NewListEntryID generates a unique id for a list index document.
func NewListEntryID() string {
	return uuid.New().String()
}

// NewWorkerID generates the short worker tag included in executor log lines.
func NewWorkerID() string {
	return uuid.New().String()[:8]
}

// NewTaskID generates a task id for messages that arrive without one.
func NewTaskID() string {
	return uuid.New().String()
}
