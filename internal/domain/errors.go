// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownStage is returned when a stage name is not one of the six pipeline stages.
	ErrUnknownStage = errors.New("unknown pipeline stage")

	// ErrEmptyActivityID is returned when an activity id is required but missing.
	ErrEmptyActivityID = errors.New("activity ID cannot be empty")

	// ErrEmptyStudentID is returned when a student-scoped document has no student id.
	ErrEmptyStudentID = errors.New("student ID cannot be empty")

	// ErrInvalidDocumentType is returned for document types outside the known set.
	ErrInvalidDocumentType = errors.New("invalid document type")

	// ErrEmptyContent is returned when required content is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidSeverity is returned when an envelope severity is not recognized.
	ErrInvalidSeverity = errors.New("invalid error severity")
)
