// Package store defines the persistence boundaries used by the pipeline:
// versioned documents and the read-only roster of activities and students.
// Implementations live under internal/platform.
package store
