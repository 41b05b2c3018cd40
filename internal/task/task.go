package task

import (
	"context"

	"github.com/google/uuid"
)

// Task types recorded in the registry and reported in snapshots.
const (
	// TaskTypePipeline runs the pipeline for an explicit list of students.
	TaskTypePipeline = "pipeline"

	// TaskTypePipelineAllStudents runs the pipeline for every student of an
	// activity that has a submission.
	TaskTypePipelineAllStudents = "pipeline_all_students"

	// TaskTypeClassReport synthesizes one performance report for a whole
	// activity from its students' final reports.
	TaskTypeClassReport = "class_performance_report"
)

// Task is one unit of background work. A pipeline run is a single task no
// matter how many students it covers.
type Task interface {
	ID() uuid.UUID
	Type() string

	// Execute runs to completion or until ctx is cancelled by runner
	// shutdown. Per-student failures are recorded in the registry, so a
	// returned error means the run itself could not proceed.
	Execute(ctx context.Context) error
}

// Source hands queued tasks to the worker pool. The channel is closed once
// no more tasks will arrive.
type Source interface {
	Tasks() <-chan Task
}
