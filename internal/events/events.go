package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
)

// Kind distinguishes stage transitions from task completion.
type Kind string

// Possible event kinds
const (
	KindStageProgress Kind = "stage_progress"
	KindTaskFinished  Kind = "task_finished"
)

// ProgressEvent describes one change in a pipeline task.
type ProgressEvent struct {
	// ID is a unique identifier for this event
	ID     uuid.UUID `json:"id"`
	Kind   Kind      `json:"kind"`
	TaskID uuid.UUID `json:"task_id"`

	// Stage fields are set for KindStageProgress.
	StudentID  string                `json:"student_id,omitempty"`
	Stage      domain.Stage          `json:"stage,omitempty"`
	Status     domain.StageStatus    `json:"status,omitempty"`
	Skipped    bool                  `json:"skipped,omitempty"`
	DocumentID *uuid.UUID            `json:"document_id,omitempty"`
	Error      *domain.ErrorEnvelope `json:"error,omitempty"`

	// TaskStatus is set for KindTaskFinished.
	TaskStatus string `json:"task_status,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewStageEvent creates a stage transition event.
func NewStageEvent(taskID uuid.UUID, studentID string, stage domain.Stage, status domain.StageStatus) *ProgressEvent {
	return &ProgressEvent{
		ID:        uuid.New(),
		Kind:      KindStageProgress,
		TaskID:    taskID,
		StudentID: studentID,
		Stage:     stage,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

// NewTaskFinishedEvent creates the final event of a task.
func NewTaskFinishedEvent(taskID uuid.UUID, status string) *ProgressEvent {
	return &ProgressEvent{
		ID:         uuid.New(),
		Kind:       KindTaskFinished,
		TaskID:     taskID,
		TaskStatus: status,
		CreatedAt:  time.Now().UTC(),
	}
}

// Subject returns the bus subject the event is published on.
func (e *ProgressEvent) Subject(prefix string) string {
	return fmt.Sprintf("%s.tasks.%s.progress", prefix, e.TaskID)
}

// EventHandler defines an interface for components that can handle events.
type EventHandler interface {
	// HandleEvent processes the given event within the provided context.
	HandleEvent(ctx context.Context, event *ProgressEvent) error
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc func(ctx context.Context, event *ProgressEvent) error

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, event *ProgressEvent) error {
	return f(ctx, event)
}

// EventEmitter defines an interface for components that can emit events.
// This allows the orchestrator to publish progress without knowing the handlers.
type EventEmitter interface {
	// EmitEvent publishes the given event to all registered handlers.
	EmitEvent(ctx context.Context, event *ProgressEvent) error
}
