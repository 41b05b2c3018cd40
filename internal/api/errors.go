package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phrazzld/gradeflow/internal/api/shared"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/pipeline"
	"github.com/phrazzld/gradeflow/internal/store"
	"github.com/phrazzld/gradeflow/internal/task"
)

// ErrInvalidPathParam is returned when a path parameter is missing or malformed.
var ErrInvalidPathParam = errors.New("invalid path parameter")

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, task.ErrTaskNotFound),
		errors.Is(err, store.ErrActivityNotFound),
		errors.Is(err, store.ErrDocumentNotFound):
		return http.StatusNotFound

	// Bad request errors
	case errors.Is(err, ErrInvalidPathParam),
		errors.Is(err, pipeline.ErrEmptyActivityID),
		errors.Is(err, pipeline.ErrUnknownStudent),
		errors.Is(err, pipeline.ErrNoStudents),
		errors.Is(err, domain.ErrUnknownStage),
		errors.Is(err, domain.ErrInvalidDocumentType),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	// Runner saturated or shutting down
	case errors.Is(err, task.ErrQueueFull),
		errors.Is(err, task.ErrQueueClosed):
		return http.StatusServiceUnavailable

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, store.ErrActivityNotFound):
		return "Activity not found"

	case errors.Is(err, store.ErrDocumentNotFound):
		return "Document not found"

	case errors.Is(err, ErrInvalidPathParam):
		return "Invalid identifier"

	case errors.Is(err, pipeline.ErrEmptyActivityID):
		return "Activity ID is required"

	case errors.Is(err, pipeline.ErrUnknownStudent):
		return "Student is not enrolled in this activity"

	case errors.Is(err, pipeline.ErrNoStudents):
		return "No student submissions found for this activity"

	case errors.Is(err, domain.ErrUnknownStage):
		return "Unknown pipeline stage"

	case errors.Is(err, domain.ErrInvalidDocumentType):
		return "Unknown document type"

	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, store.ErrInvalidEntity):
		return "Invalid request data"

	case errors.Is(err, task.ErrQueueFull):
		return "Too many runs in progress, try again later"

	case errors.Is(err, task.ErrQueueClosed):
		return "Service is shutting down"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError maps err to a status code and writes a sanitized error
// response. When message is empty the safe message for err is used.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, message string) {
	status := MapErrorToStatusCode(err)
	if message == "" {
		message = GetSafeErrorMessage(err)
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}

// SanitizeValidationError removes sensitive details from validation errors
// and returns a user-friendly message.
func SanitizeValidationError(err error) string {
	errMsg := err.Error()

	if strings.Contains(errMsg, "Field validation") {
		// Example format: "Key: 'StartRunRequest.ActivityID' Error:Field validation for 'ActivityID' failed on the 'required' tag"
		parts := strings.Split(errMsg, "Error:")
		if len(parts) >= 2 {
			fieldParts := strings.Split(parts[1], "'")
			if len(fieldParts) >= 3 {
				field := fieldParts[1]
				var tag string
				if len(fieldParts) >= 5 {
					tag = fieldParts[3]
				}

				if tag != "" {
					return fmt.Sprintf("Invalid %s: %s", field, getValidationTagMessage(tag))
				}
				return fmt.Sprintf("Invalid %s", field)
			}
		}
	}

	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	case "dive":
		return "invalid entry"
	default:
		return "validation failed"
	}
}

// HandleValidationError writes a 400 response describing which request
// field failed validation, without echoing submitted values.
func HandleValidationError(w http.ResponseWriter, r *http.Request, err error) {
	shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
}
