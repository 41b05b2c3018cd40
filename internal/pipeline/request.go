package pipeline

import (
	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/task"
)

// RunRequest is one orchestrated run over already registered students.
type RunRequest struct {
	TaskID     uuid.UUID
	ActivityID string
	Students   []task.StudentRef

	// Stages selects the stages to execute. Empty means all six.
	Stages []domain.Stage

	// ModelOverrides picks a model per stage for this run only.
	ModelOverrides map[domain.Stage]string

	// ForceRerun executes selected stages even when a document exists.
	ForceRerun bool
}

// selects reports whether stage was requested.
func (r RunRequest) selects(stage domain.Stage) bool {
	if len(r.Stages) == 0 {
		return true
	}
	for _, s := range r.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

// StudentResult holds the stage results of one student, in stage order.
type StudentResult struct {
	StudentID string               `json:"student_id"`
	Name      string               `json:"name"`
	Results   []domain.StageResult `json:"results"`

	// FailedStage is the stage that halted the student, if any.
	FailedStage   *domain.Stage `json:"failed_stage,omitempty"`
	Cancelled     bool          `json:"cancelled,omitempty"`
	ErrorReportID *uuid.UUID    `json:"error_report_id,omitempty"`
}

// Failed reports whether a stage of the student failed.
func (s StudentResult) Failed() bool {
	return s.FailedStage != nil
}

// RunResult is the outcome of a run.
type RunResult struct {
	TaskID   uuid.UUID       `json:"task_id"`
	Status   task.TaskStatus `json:"status"`
	Students []StudentResult `json:"students"`
}

// terminalStatus decides the task status once every student stopped.
// Cancellation wins over failure.
func terminalStatus(cancelled bool, students []StudentResult) task.TaskStatus {
	if cancelled {
		return task.TaskStatusCancelled
	}
	for _, s := range students {
		if s.Failed() {
			return task.TaskStatusFailed
		}
	}
	return task.TaskStatusCompleted
}
