package task

import "errors"

// Registry errors
var (
	// ErrTaskNotFound is returned when no task is registered under an id.
	ErrTaskNotFound = errors.New("task not found")

	// ErrStudentNotFound is returned when a stage update names a student the
	// task was not registered with.
	ErrStudentNotFound = errors.New("student not registered with task")

	// ErrInvalidTransition is returned when a stage status change breaks the
	// pending→running→{completed,failed} lifecycle or its attachments.
	ErrInvalidTransition = errors.New("invalid stage transition")

	// ErrInvalidStatus is returned when Complete is called with a
	// non-terminal task status.
	ErrInvalidStatus = errors.New("invalid task status")
)

// Queue errors
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")
)
