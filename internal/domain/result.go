package domain

import (
	"time"

	"github.com/google/uuid"
)

// StageResult is the outcome of one stage for one student.
type StageResult struct {
	Stage               Stage          `json:"stage"`
	Success             bool           `json:"success"`
	Skipped             bool           `json:"skipped,omitempty"`
	Provider            string         `json:"provider,omitempty"`
	Model               string         `json:"model,omitempty"`
	PromptID            string         `json:"prompt_id,omitempty"`
	RawResponse         string         `json:"raw_response,omitempty"`
	Parsed              any            `json:"parsed,omitempty"`
	InputTokens         int            `json:"input_tokens,omitempty"`
	OutputTokens        int            `json:"output_tokens,omitempty"`
	Elapsed             time.Duration  `json:"elapsed_ns"`
	DocumentID          *uuid.UUID     `json:"document_id,omitempty"`
	NarrativeDocumentID *uuid.UUID     `json:"narrative_document_id,omitempty"`
	NarrativeFallback   bool           `json:"narrative_fallback,omitempty"`
	Error               *ErrorEnvelope `json:"error,omitempty"`
	Retries             int            `json:"retries"`
}

// Succeeded builds a successful result bound to the produced document.
func Succeeded(stage Stage, documentID uuid.UUID) StageResult {
	id := documentID
	return StageResult{Stage: stage, Success: true, DocumentID: &id}
}

// Failed builds a failed result carrying its envelope.
func Failed(stage Stage, env *ErrorEnvelope) StageResult {
	return StageResult{Stage: stage, Success: false, Error: env}
}

// Status maps the result onto the terminal stage status.
func (r StageResult) Status() StageStatus {
	if r.Success {
		return StageStatusCompleted
	}
	return StageStatusFailed
}

// Halts reports whether this result stops the student's remaining stages.
// Every failed stage halts; later stages never run on stale inputs.
func (r StageResult) Halts() bool {
	return !r.Success
}

// TotalTokens returns input plus output tokens.
func (r StageResult) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}
