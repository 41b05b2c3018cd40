// Package task runs long pipeline jobs in the background and tracks their
// progress.
//
// A TaskRunner owns a bounded TaskQueue drained by a WorkerPool, so HTTP
// handlers can submit work and return immediately. The Registry is the
// process-wide progress table: the worker executing a task is its only
// writer, while API handlers read snapshots and request cancellation. A
// Janitor prunes finished tasks once they exceed the retention period.
package task
