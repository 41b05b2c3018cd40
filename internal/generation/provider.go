package generation

import (
	"context"
	"fmt"
	"time"
)

// Attachment is a binary input sent alongside the prompt, such as a scanned
// exam page.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Request is one outbound AI call.
type Request struct {
	// Model overrides the provider's default model when set.
	Model       string
	PromptID    string
	System      string
	Prompt      string
	Attachments []Attachment

	// JSON asks the provider for a JSON response body.
	JSON bool
}

// Validate checks that the request has something to send.
func (r Request) Validate() error {
	if r.Prompt == "" && len(r.Attachments) == 0 {
		return ErrEmptyPrompt
	}
	return nil
}

// Completion is the outcome of one call. Providers may report failure as a
// value by setting Status to an HTTP error code or Error to a message;
// RetryingClient treats such values exactly like returned errors.
type Completion struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Status       int
	RetryAfter   time.Duration
	Error        string
	Provider     string
	Model        string
}

// Failed reports whether the completion describes a failed call.
func (c *Completion) Failed() bool {
	return c != nil && (c.Status >= 400 || c.Error != "")
}

// Provider sends a request to an AI model.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// ProviderError is a failed call carrying the provider's HTTP status and an
// optional retry-after hint.
type ProviderError struct {
	Provider   string
	Status     int
	RetryAfter time.Duration
	Err        error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s error %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Provider, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
