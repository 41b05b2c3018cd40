package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/api/shared"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/pipeline"
	"github.com/phrazzld/gradeflow/internal/platform/logger"
	"github.com/phrazzld/gradeflow/internal/task"
)

// PipelineService starts, inspects, and cancels pipeline runs.
type PipelineService interface {
	StartRun(ctx context.Context, req pipeline.StartRunRequest) (uuid.UUID, error)
	StartClassReport(ctx context.Context, req pipeline.StartClassReportRequest) (uuid.UUID, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Task(id uuid.UUID) (*task.Snapshot, error)
	Tasks() []*task.Snapshot
}

var _ PipelineService = (*pipeline.Service)(nil)

// PipelineHandler serves the run and task endpoints.
type PipelineHandler struct {
	service PipelineService
	logger  *slog.Logger
}

// NewPipelineHandler creates a new PipelineHandler.
func NewPipelineHandler(service PipelineService, logger *slog.Logger) *PipelineHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineHandler{
		service: service,
		logger:  logger.With("component", "pipeline_handler"),
	}
}

// StartRun handles POST /api/pipeline/runs. It answers 202 as soon as the
// run is queued; progress is read from GET /api/tasks/{id}.
func (h *PipelineHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req StartRunRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := shared.ValidateRequest(&req); err != nil {
		HandleValidationError(w, r, err)
		return
	}

	runReq, err := toRunRequest(req)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	id, err := h.service.StartRun(r.Context(), runReq)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	log.Info("pipeline run accepted",
		slog.String("task_id", id.String()),
		slog.String("activity_id", req.ActivityID),
		slog.Int("requested_students", len(req.StudentIDs)))

	shared.RespondWithJSON(w, r, http.StatusAccepted, StartRunResponse{
		TaskID: id,
		Status: StatusStarted,
	})
}

// StartClassReport handles POST /api/activities/{id}/performance-report.
// The body is optional. Like StartRun it answers 202 once the task is
// queued.
func (h *PipelineHandler) StartClassReport(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	activityID := chi.URLParam(r, "id")

	var req StartClassReportRequest
	if err := shared.DecodeJSON(r, &req); err != nil && !errors.Is(err, shared.ErrEmptyBody) {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	if err := shared.ValidateRequest(&req); err != nil {
		HandleValidationError(w, r, err)
		return
	}

	id, err := h.service.StartClassReport(r.Context(), pipeline.StartClassReportRequest{
		ActivityID: activityID,
		Model:      req.Model,
		Labels:     req.Labels,
	})
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	log.Info("class report accepted",
		slog.String("task_id", id.String()),
		slog.String("activity_id", activityID))

	shared.RespondWithJSON(w, r, http.StatusAccepted, StartRunResponse{
		TaskID: id,
		Status: StatusStarted,
	})
}

// GetTask handles GET /api/tasks/{id}.
func (h *PipelineHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	snap, err := h.service.Task(id)
	if err != nil {
		h.respondTaskError(w, r, id, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, newTaskResponse(snap))
}

// ListTasks handles GET /api/tasks.
func (h *PipelineHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	snaps := h.service.Tasks()
	tasks := make([]TaskResponse, 0, len(snaps))
	for _, snap := range snaps {
		tasks = append(tasks, newTaskResponse(snap))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, TaskListResponse{Tasks: tasks})
}

// CancelTask handles POST /api/tasks/{id}/cancel. Cancellation is
// cooperative: stages already running finish first.
func (h *PipelineHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.service.Cancel(r.Context(), id); err != nil {
		h.respondTaskError(w, r, id, err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, CancelResponse{
		TaskID: id,
		Status: StatusCancellationRequested,
	})
}

// respondTaskError names the task id in not-found responses.
func (h *PipelineHandler) respondTaskError(w http.ResponseWriter, r *http.Request, id uuid.UUID, err error) {
	if errors.Is(err, task.ErrTaskNotFound) {
		shared.RespondWithErrorAndLog(w, r, http.StatusNotFound, fmt.Sprintf("task '%s' not found", id), err)
		return
	}
	HandleAPIError(w, r, err, "")
}

// toRunRequest parses stage names and override keys.
func toRunRequest(req StartRunRequest) (pipeline.StartRunRequest, error) {
	out := pipeline.StartRunRequest{
		ActivityID: req.ActivityID,
		StudentIDs: req.StudentIDs,
		ForceRerun: req.ForceRerun,
		Labels:     req.Labels,
	}

	for _, name := range req.Stages {
		stage, err := domain.ParseStage(name)
		if err != nil {
			return pipeline.StartRunRequest{}, err
		}
		out.Stages = append(out.Stages, stage)
	}

	if len(req.ModelOverrides) > 0 {
		out.ModelOverrides = make(map[domain.Stage]string, len(req.ModelOverrides))
		for name, model := range req.ModelOverrides {
			stage, err := domain.ParseStage(name)
			if err != nil {
				return pipeline.StartRunRequest{}, err
			}
			out.ModelOverrides[stage] = model
		}
	}

	return out, nil
}
