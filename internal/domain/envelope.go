package domain

import (
	"fmt"
	"time"
)

// ErrorKind classifies why a stage failed.
type ErrorKind string

// Pre-flight kinds. All are always critical.
const (
	KindMissingDocument  ErrorKind = "missing-document"
	KindMissingQuestions ErrorKind = "missing-questions"
	KindMissingAnswers   ErrorKind = "missing-answers"

	// KindInsufficientResults marks a class report with too few students
	// that finished the pipeline.
	KindInsufficientResults ErrorKind = "insufficient-results"
)

// Post-call parse kinds, one per malformed-response reason code.
const (
	KindEmptyResponse  ErrorKind = "empty_response"
	KindWhitespaceOnly ErrorKind = "whitespace_only"
	KindEmptyJSON      ErrorKind = "empty_json"
	KindTruncatedJSON  ErrorKind = "truncated_json"
	KindInvalidJSON    ErrorKind = "invalid_json"

	// KindInvalidSchema marks well-formed JSON that lacks the fields the
	// stage must produce.
	KindInvalidSchema ErrorKind = "invalid_schema"
)

// Runtime kinds.
const (
	KindProviderError ErrorKind = "provider-error"
	KindStorageError  ErrorKind = "storage-error"
)

// Severity ranks an envelope for reporting.
type Severity string

// Possible severity values
const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium:
		return true
	default:
		return false
	}
}

// ErrorEnvelope is the structured description of why a stage could not
// complete. It travels unchanged from the failing stage into the stage
// result, the task snapshot, and the student's error report.
type ErrorEnvelope struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Severity  Severity  `json:"severity"`
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEnvelope creates an envelope stamped with the current UTC time.
func NewEnvelope(kind ErrorKind, severity Severity, stage Stage, message string) *ErrorEnvelope {
	return &ErrorEnvelope{
		Kind:      kind,
		Message:   message,
		Severity:  severity,
		Stage:     stage,
		Timestamp: time.Now().UTC(),
	}
}

// NewCriticalEnvelope creates a critical envelope, used for pre-flight failures.
func NewCriticalEnvelope(kind ErrorKind, stage Stage, message string) *ErrorEnvelope {
	return NewEnvelope(kind, SeverityCritical, stage, message)
}

// Error implements the error interface so an envelope can be returned and
// matched with errors.As.
func (e *ErrorEnvelope) Error() string {
	return fmt.Sprintf("%s [%s] at %s: %s", e.Kind, e.Severity, e.Stage, e.Message)
}

// IsCritical reports whether the envelope has critical severity.
func (e *ErrorEnvelope) IsCritical() bool {
	return e != nil && e.Severity == SeverityCritical
}

// Clone returns a copy that callers may keep without sharing the pointer.
func (e *ErrorEnvelope) Clone() *ErrorEnvelope {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
