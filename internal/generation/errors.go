package generation

import "errors"

// Common errors returned by the generation package
var (
	// ErrInvalidConfig is returned when a provider or client configuration is invalid
	ErrInvalidConfig = errors.New("invalid generation configuration")

	// ErrNilProvider is returned when a client is built without a provider
	ErrNilProvider = errors.New("provider cannot be nil")

	// ErrEmptyPrompt is returned when a request carries neither prompt text nor attachments
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrUnknownPrompt is returned when no template exists for a prompt id
	ErrUnknownPrompt = errors.New("unknown prompt")

	// ErrEmptyCompletion is returned when a provider returns neither a completion nor an error
	ErrEmptyCompletion = errors.New("provider returned no completion")

	// ErrContentBlocked is returned when the provider refuses to answer due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")
)
