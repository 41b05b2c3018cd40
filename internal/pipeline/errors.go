package pipeline

import "errors"

// Common errors returned by the pipeline package
var (
	ErrNilDocumentStore = errors.New("document store cannot be nil")
	ErrNilRosterStore   = errors.New("roster store cannot be nil")
	ErrNilRegistry      = errors.New("task registry cannot be nil")
	ErrNilClient        = errors.New("generation client cannot be nil")
	ErrNilPrompts       = errors.New("prompt set cannot be nil")
	ErrNilNarrative     = errors.New("narrative generator cannot be nil")
	ErrNilRenderer      = errors.New("pdf renderer cannot be nil")
	ErrNilOrchestrator  = errors.New("orchestrator cannot be nil")
	ErrNilSubmitter     = errors.New("task submitter cannot be nil")

	// ErrEmptyActivityID is returned when a run names no activity.
	ErrEmptyActivityID = errors.New("activity id cannot be empty")

	// ErrNoStudents is returned when a run resolves to an empty student list.
	ErrNoStudents = errors.New("no students to process")

	// ErrUnknownStudent is returned when a run names a student outside the
	// activity's roster.
	ErrUnknownStudent = errors.New("student is not on the activity roster")
)
