// Package generation provides the boundary between the grading pipeline and
// external AI/LLM services. It defines the Provider interface implemented by
// concrete adapters (Gemini), the RetryingClient that applies exponential
// backoff to outbound calls, the JSON response parser that classifies
// malformed output, and the embedded prompt templates for every stage.
package generation
