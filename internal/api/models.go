package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/task"
)

// StartRunRequest is the body of POST /api/pipeline/runs.
type StartRunRequest struct {
	ActivityID string `json:"activity_id" validate:"required,max=128"`

	// StudentIDs selects students explicitly. Empty runs every student of
	// the activity that has a submission.
	StudentIDs []string `json:"student_ids" validate:"omitempty,dive,required"`

	// Stages restricts the run to these stages. Empty runs all six.
	Stages []string `json:"stages" validate:"omitempty,max=6,dive,required"`

	// ModelOverrides maps a stage name to the model used for it.
	ModelOverrides map[string]string `json:"model_overrides" validate:"omitempty,dive,keys,required,endkeys,required"`
	ForceRerun     bool              `json:"force_rerun"`
	Labels         map[string]string `json:"labels"          validate:"omitempty,max=32"`
}

// StartClassReportRequest is the optional body of
// POST /api/activities/{id}/performance-report.
type StartClassReportRequest struct {
	Model  string            `json:"model"  validate:"omitempty,max=128"`
	Labels map[string]string `json:"labels" validate:"omitempty,max=32"`
}

// StartRunResponse acknowledges an accepted run.
type StartRunResponse struct {
	TaskID uuid.UUID `json:"task_id"`
	Status string    `json:"status"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	TaskID uuid.UUID `json:"task_id"`
	Status string    `json:"status"`
}

// TaskResponse is the poll view of a task. Students are keyed by id and
// each carries a flat stage to status map; envelopes and document ids sit
// next to it under stage_details.
type TaskResponse struct {
	TaskID          uuid.UUID                  `json:"task_id"`
	Type            string                     `json:"type"`
	ActivityID      string                     `json:"activity_id"`
	ClassID         string                     `json:"class_id,omitempty"`
	Status          task.TaskStatus            `json:"status"`
	CancelRequested bool                       `json:"cancel_requested"`
	CreatedAt       time.Time                  `json:"created_at"`
	FinishedAt      *time.Time                 `json:"finished_at,omitempty"`
	Labels          map[string]string          `json:"labels,omitempty"`
	Students        map[string]StudentResponse `json:"students"`

	// ResultDocumentID and Error are set by class report tasks.
	ResultDocumentID *uuid.UUID            `json:"result_document_id,omitempty"`
	Error            *domain.ErrorEnvelope `json:"error,omitempty"`
}

// StudentResponse is one student's entry in a TaskResponse.
type StudentResponse struct {
	Name               string                              `json:"name"`
	Stages             map[domain.Stage]domain.StageStatus `json:"stages"`
	StageDetails       map[domain.Stage]StageDetail        `json:"stage_details"`
	FailedStage        *domain.Stage                       `json:"failed_stage"`
	StagesNotAttempted []domain.Stage                      `json:"stages_not_attempted"`
	ErrorReportID      *uuid.UUID                          `json:"error_report_id,omitempty"`
}

// StageDetail carries what a stage produced or why it failed.
type StageDetail struct {
	Skipped             bool                  `json:"skipped,omitempty"`
	DocumentID          *uuid.UUID            `json:"document_id,omitempty"`
	NarrativeDocumentID *uuid.UUID            `json:"narrative_document_id,omitempty"`
	Error               *domain.ErrorEnvelope `json:"error,omitempty"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

func newTaskResponse(snap *task.Snapshot) TaskResponse {
	resp := TaskResponse{
		TaskID:          snap.ID,
		Type:            snap.Type,
		ActivityID:      snap.ActivityID,
		ClassID:         snap.ClassID,
		Status:          snap.Status,
		CancelRequested: snap.CancelRequested,
		CreatedAt:       snap.CreatedAt,
		FinishedAt:      snap.FinishedAt,
		Labels:          snap.Labels,
		Students:        make(map[string]StudentResponse, len(snap.Students)),

		ResultDocumentID: snap.ResultDocumentID,
		Error:            snap.Error,
	}
	for _, sp := range snap.Students {
		st := StudentResponse{
			Name:               sp.Name,
			Stages:             make(map[domain.Stage]domain.StageStatus, len(sp.Stages)),
			StageDetails:       make(map[domain.Stage]StageDetail, len(sp.Stages)),
			FailedStage:        sp.FailedStage,
			StagesNotAttempted: sp.StagesNotAttempted,
			ErrorReportID:      sp.ErrorReportID,
		}
		if st.StagesNotAttempted == nil {
			st.StagesNotAttempted = []domain.Stage{}
		}
		for stage, p := range sp.Stages {
			st.Stages[stage] = p.Status
			st.StageDetails[stage] = StageDetail{
				Skipped:             p.Skipped,
				DocumentID:          p.DocumentID,
				NarrativeDocumentID: p.NarrativeDocumentID,
				Error:               p.Error,
				UpdatedAt:           p.UpdatedAt,
			}
		}
		resp.Students[sp.StudentID] = st
	}
	return resp
}

// TaskListResponse wraps every known task, newest first.
type TaskListResponse struct {
	Tasks []TaskResponse `json:"tasks"`
}

// DocumentGroup holds every version of one document type, oldest first.
type DocumentGroup struct {
	Type     domain.DocumentType `json:"type"`
	Versions []*domain.Document  `json:"versions"`
}

// DocumentListResponse is the body of GET /api/activities/{id}/documents.
type DocumentListResponse struct {
	ActivityID string          `json:"activity_id"`
	StudentID  string          `json:"student_id,omitempty"`
	Groups     []DocumentGroup `json:"groups"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// Response status values.
const (
	StatusStarted               = "started"
	StatusCancellationRequested = "cancellation_requested"
	StatusOK                    = "ok"
)
