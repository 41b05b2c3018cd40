package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/store"
	"github.com/phrazzld/gradeflow/internal/task"
)

// Submitter hands a task to the background runner.
type Submitter interface {
	Submit(ctx context.Context, t task.Task) error
}

// StartRunRequest is a run as requested by a client.
type StartRunRequest struct {
	ActivityID string

	// StudentIDs lists the students to process. Empty selects every student
	// of the activity that has a submission.
	StudentIDs     []string
	Stages         []domain.Stage
	ModelOverrides map[domain.Stage]string
	ForceRerun     bool
	Labels         map[string]string
}

// StartClassReportRequest is a class performance report as requested by a
// client.
type StartClassReportRequest struct {
	ActivityID string
	Model      string
	Labels     map[string]string
}

// Service starts and controls pipeline runs.
type Service struct {
	orchestrator *Orchestrator
	registry     *task.Registry
	roster       store.RosterStore
	submitter    Submitter
	logger       *slog.Logger
}

// NewService creates a Service.
func NewService(
	orchestrator *Orchestrator,
	registry *task.Registry,
	roster store.RosterStore,
	submitter Submitter,
	logger *slog.Logger,
) (*Service, error) {
	switch {
	case orchestrator == nil:
		return nil, ErrNilOrchestrator
	case registry == nil:
		return nil, ErrNilRegistry
	case roster == nil:
		return nil, ErrNilRosterStore
	case submitter == nil:
		return nil, ErrNilSubmitter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		orchestrator: orchestrator,
		registry:     registry,
		roster:       roster,
		submitter:    submitter,
		logger:       logger.With("component", "pipeline_service"),
	}, nil
}

// StartRun registers a task for req and submits it to the runner. It
// returns as soon as the task is queued.
func (s *Service) StartRun(ctx context.Context, req StartRunRequest) (uuid.UUID, error) {
	if req.ActivityID == "" {
		return uuid.Nil, ErrEmptyActivityID
	}
	for _, stage := range req.Stages {
		if !stage.Valid() {
			return uuid.Nil, fmt.Errorf("%w: %q", domain.ErrUnknownStage, stage)
		}
	}
	for stage := range req.ModelOverrides {
		if !stage.Valid() {
			return uuid.Nil, fmt.Errorf("%w: %q", domain.ErrUnknownStage, stage)
		}
	}

	activity, err := s.roster.GetActivity(ctx, req.ActivityID)
	if err != nil {
		return uuid.Nil, err
	}

	taskType, students, err := s.resolveStudents(ctx, req)
	if err != nil {
		return uuid.Nil, err
	}

	id := s.registry.Register(task.Registration{
		Type:       taskType,
		ActivityID: activity.ID,
		ClassID:    activity.ClassID,
		Students:   students,
		Labels:     req.Labels,
	})

	t := &PipelineTask{
		taskType:     taskType,
		orchestrator: s.orchestrator,
		req: RunRequest{
			TaskID:         id,
			ActivityID:     activity.ID,
			Students:       students,
			Stages:         req.Stages,
			ModelOverrides: req.ModelOverrides,
			ForceRerun:     req.ForceRerun,
		},
	}
	if err := s.submitter.Submit(ctx, t); err != nil {
		_ = s.registry.Complete(id, task.TaskStatusFailed)
		return uuid.Nil, err
	}

	s.logger.InfoContext(ctx, "pipeline run started",
		"task_id", id.String(),
		"task_type", taskType,
		"activity_id", activity.ID,
		"students", len(students))
	return id, nil
}

// StartClassReport registers a class performance report for an activity and
// submits it to the runner. The student count is checked when the task
// runs, so an activity with too few finished students still gets a task
// whose error explains why.
func (s *Service) StartClassReport(ctx context.Context, req StartClassReportRequest) (uuid.UUID, error) {
	if req.ActivityID == "" {
		return uuid.Nil, ErrEmptyActivityID
	}

	activity, err := s.roster.GetActivity(ctx, req.ActivityID)
	if err != nil {
		return uuid.Nil, err
	}

	id := s.registry.Register(task.Registration{
		Type:       task.TaskTypeClassReport,
		ActivityID: activity.ID,
		ClassID:    activity.ClassID,
		Labels:     req.Labels,
	})

	t := &ClassReportTask{
		orchestrator: s.orchestrator,
		req:          ClassReportRequest{TaskID: id, ActivityID: activity.ID, Model: req.Model},
	}
	if err := s.submitter.Submit(ctx, t); err != nil {
		_ = s.registry.Complete(id, task.TaskStatusFailed)
		return uuid.Nil, err
	}

	s.logger.InfoContext(ctx, "class report started",
		"task_id", id.String(),
		"activity_id", activity.ID)
	return id, nil
}

// resolveStudents returns the task type and the students of the run.
func (s *Service) resolveStudents(ctx context.Context, req StartRunRequest) (string, []task.StudentRef, error) {
	if len(req.StudentIDs) == 0 {
		roster, err := s.roster.ListStudents(ctx, req.ActivityID, true)
		if err != nil {
			return "", nil, err
		}
		if len(roster) == 0 {
			return "", nil, fmt.Errorf("%w: activity %s has no submissions", ErrNoStudents, req.ActivityID)
		}
		refs := make([]task.StudentRef, 0, len(roster))
		for _, st := range roster {
			refs = append(refs, task.StudentRef{ID: st.ID, Name: st.Name})
		}
		return task.TaskTypePipelineAllStudents, refs, nil
	}

	roster, err := s.roster.ListStudents(ctx, req.ActivityID, false)
	if err != nil {
		return "", nil, err
	}
	names := make(map[string]string, len(roster))
	for _, st := range roster {
		names[st.ID] = st.Name
	}

	seen := make(map[string]bool, len(req.StudentIDs))
	refs := make([]task.StudentRef, 0, len(req.StudentIDs))
	for _, id := range req.StudentIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		name, ok := names[id]
		if !ok {
			return "", nil, fmt.Errorf("%w: %q", ErrUnknownStudent, id)
		}
		refs = append(refs, task.StudentRef{ID: id, Name: name})
	}
	return task.TaskTypePipeline, refs, nil
}

// Cancel requests cooperative cancellation of a task.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := s.registry.RequestCancel(id); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "cancellation requested", "task_id", id.String())
	return nil
}

// Task returns a snapshot of one task.
func (s *Service) Task(id uuid.UUID) (*task.Snapshot, error) {
	return s.registry.Get(id)
}

// Tasks returns snapshots of every known task, newest first.
func (s *Service) Tasks() []*task.Snapshot {
	return s.registry.List()
}

// FailTask marks a task failed when the runner could not finish it. A task
// that already reached a terminal status keeps it.
func (s *Service) FailTask(t task.Task, cause error) {
	if err := s.registry.Complete(t.ID(), task.TaskStatusFailed); err != nil {
		s.logger.Warn("could not mark task failed",
			"task_id", t.ID().String(),
			"cause", cause,
			"error", err)
		return
	}
	s.logger.Error("task failed",
		"task_id", t.ID().String(),
		"task_type", t.Type(),
		"error", cause)
}

// PipelineTask runs one registered pipeline request on the task runner.
type PipelineTask struct {
	taskType     string
	orchestrator *Orchestrator
	req          RunRequest
}

var _ task.Task = (*PipelineTask)(nil)

// ID returns the registry id of the task.
func (t *PipelineTask) ID() uuid.UUID {
	return t.req.TaskID
}

// Type returns the task type.
func (t *PipelineTask) Type() string {
	return t.taskType
}

// Execute runs the pipeline. Per-student failures are recorded in the
// registry and do not fail the task.
func (t *PipelineTask) Execute(ctx context.Context) error {
	_, err := t.orchestrator.Run(ctx, t.req)
	return err
}

// ClassReportTask runs one registered class performance report.
type ClassReportTask struct {
	orchestrator *Orchestrator
	req          ClassReportRequest
}

var _ task.Task = (*ClassReportTask)(nil)

// ID returns the registry id of the task.
func (t *ClassReportTask) ID() uuid.UUID {
	return t.req.TaskID
}

// Type returns the task type.
func (t *ClassReportTask) Type() string {
	return task.TaskTypeClassReport
}

// Execute builds the report. Report failures are recorded as the task's
// error; only a report that cannot start returns one.
func (t *ClassReportTask) Execute(ctx context.Context) error {
	_, err := t.orchestrator.RunClassReport(ctx, t.req)
	return err
}
