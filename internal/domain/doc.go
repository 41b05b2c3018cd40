// Package domain contains the grading pipeline's core entities: the six
// ordered stages, versioned documents, stage results, and the error envelope
// that describes why a stage could not complete. It is independent of any
// storage, transport, or AI provider.
package domain
