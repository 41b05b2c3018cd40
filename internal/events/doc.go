// Package events carries pipeline progress notifications.
//
// The orchestrator emits a ProgressEvent on every stage transition and when a
// task finishes. Handlers registered on the emitter decide where events go:
// the log, a message bus, or a test recorder. Emission never blocks or fails
// the pipeline; handler errors are logged and reported to the caller only.
package events
