package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/narrative"
	"github.com/phrazzld/gradeflow/internal/platform/logger"
	"github.com/phrazzld/gradeflow/internal/platform/telemetry"
	"github.com/phrazzld/gradeflow/internal/task"
)

// ClassReportRequest is one registered class performance report.
type ClassReportRequest struct {
	TaskID     uuid.UUID
	ActivityID string

	// Model overrides the model resolved for the report stage.
	Model string
}

// ClassReportResult is the outcome of a class report run.
type ClassReportResult struct {
	TaskID     uuid.UUID             `json:"task_id"`
	Status     task.TaskStatus       `json:"status"`
	DocumentID *uuid.UUID            `json:"document_id,omitempty"`
	Included   []string              `json:"included"`
	Excluded   []string              `json:"excluded"`
	Fallback   bool                  `json:"fallback,omitempty"`
	Error      *domain.ErrorEnvelope `json:"error,omitempty"`
}

// RunClassReport synthesizes the final reports of every student of the
// activity into one activity-level PDF and completes the registry task.
// Students without a final report are excluded; fewer than
// narrative.MinClassReports included students fail the task critically.
func (o *Orchestrator) RunClassReport(ctx context.Context, req ClassReportRequest) (*ClassReportResult, error) {
	log := o.logger.With("task_id", req.TaskID.String(), "activity_id", req.ActivityID)
	ctx = logger.WithLogger(ctx, log)

	ctx, span := telemetry.StartRunSpan(ctx, req.TaskID.String(), req.ActivityID, 0)

	result := &ClassReportResult{TaskID: req.TaskID, Included: []string{}, Excluded: []string{}}
	fail := func(env *domain.ErrorEnvelope) (*ClassReportResult, error) {
		log.WarnContext(ctx, "class report failed", "kind", string(env.Kind), "error", env.Message)
		if err := o.deps.Registry.AttachError(req.TaskID, env); err != nil {
			log.WarnContext(ctx, "failed to record class report error", "error", err)
		}
		o.finishTask(context.WithoutCancel(ctx), req.TaskID, task.TaskStatusFailed)
		telemetry.EndSpan(span, env)
		result.Status = task.TaskStatusFailed
		result.Error = env
		return result, nil
	}

	activity, err := o.deps.Roster.GetActivity(ctx, req.ActivityID)
	if err != nil {
		err = fmt.Errorf("loading activity %s: %w", req.ActivityID, err)
		log.ErrorContext(ctx, "class report could not start", "error", err)
		o.finishTask(context.WithoutCancel(ctx), req.TaskID, task.TaskStatusFailed)
		telemetry.EndSpan(span, err)
		return nil, err
	}

	students, err := o.deps.Roster.ListStudents(ctx, activity.ID, false)
	if err != nil {
		return fail(domain.NewEnvelope(domain.KindStorageError, domain.SeverityHigh, domain.StageGenerateReport,
			fmt.Sprintf("listing students of %s: %v", activity.ID, err)))
	}

	in := narrative.ClassInput{
		ActivityID:    activity.ID,
		ActivityName:  activity.Name,
		Subject:       activity.Subject,
		TotalStudents: len(students),
		Model:         req.Model,
	}
	if in.Model == "" {
		in.Model = o.models.Resolve(domain.StageGenerateReport, nil)
	}

	for _, st := range students {
		ref := task.StudentRef{ID: st.ID, Name: st.Name}
		report, err := o.latestParsed(ctx, activity.ID, st.ID, domain.DocumentFinalReport)
		if err != nil {
			return fail(domain.NewEnvelope(domain.KindStorageError, domain.SeverityHigh, domain.StageGenerateReport,
				fmt.Sprintf("loading final report of %s: %v", st.ID, err)))
		}
		if report == nil {
			in.Excluded = append(in.Excluded, displayName(ref))
			result.Excluded = append(result.Excluded, st.ID)
			continue
		}

		// grading only enriches the prompt, so lookup problems are ignored
		grading, _ := o.latestParsed(ctx, activity.ID, st.ID, domain.DocumentGrading)
		in.Reports = append(in.Reports, narrative.StudentReport{
			StudentID: st.ID,
			Name:      displayName(ref),
			Report:    report,
			Grading:   grading,
		})
		result.Included = append(result.Included, st.ID)
	}

	if len(in.Reports) < narrative.MinClassReports {
		return fail(domain.NewCriticalEnvelope(domain.KindInsufficientResults, domain.StageGenerateReport,
			fmt.Sprintf("activity %s has %d of %d students with a final report, need at least %d",
				activity.ID, len(in.Reports), len(students), narrative.MinClassReports)))
	}

	if o.cancelled(ctx, req.TaskID) {
		log.InfoContext(ctx, "cancellation requested before the class report call")
		o.finishTask(context.WithoutCancel(ctx), req.TaskID, task.TaskStatusCancelled)
		telemetry.EndSpan(span, nil)
		result.Status = task.TaskStatusCancelled
		return result, nil
	}

	out, err := o.deps.Narrative.ClassReport(ctx, in)
	if err != nil {
		return fail(domain.NewEnvelope(domain.KindProviderError, domain.SeverityHigh, domain.StageGenerateReport,
			err.Error()))
	}

	doc, err := domain.NewDocument(domain.DocumentClassPerformance, activity.ID, "", domain.ContentTypePDF, out.PDF)
	if err != nil {
		return fail(domain.NewEnvelope(domain.KindStorageError, domain.SeverityHigh, domain.StageGenerateReport,
			err.Error()))
	}
	doc.Filename = string(doc.Type) + ".pdf"
	doc.Provenance = domain.Provenance{
		Provider: out.Provider,
		Model:    out.Model,
		PromptID: out.PromptID,
	}

	saved, err := o.deps.Documents.SaveDocument(context.WithoutCancel(ctx), doc)
	if err != nil {
		return fail(domain.NewEnvelope(domain.KindStorageError, domain.SeverityHigh, domain.StageGenerateReport,
			fmt.Sprintf("saving class report: %v", err)))
	}

	if err := o.deps.Registry.AttachResult(req.TaskID, saved.ID); err != nil {
		log.WarnContext(ctx, "failed to link class report", "error", err)
	}
	o.finishTask(context.WithoutCancel(ctx), req.TaskID, task.TaskStatusCompleted)

	log.InfoContext(ctx, "class report finished",
		"document_id", saved.ID.String(),
		"included", len(result.Included),
		"excluded", len(result.Excluded),
		"fallback", out.Fallback)
	telemetry.EndSpan(span, nil)

	id := saved.ID
	result.Status = task.TaskStatusCompleted
	result.DocumentID = &id
	result.Fallback = out.Fallback
	return result, nil
}

// latestParsed returns the decoded newest document of a chain, or nil when
// the chain is empty or its content is not JSON.
func (o *Orchestrator) latestParsed(
	ctx context.Context,
	activityID, studentID string,
	docType domain.DocumentType,
) (any, error) {
	doc, err := o.latest(ctx, activityID, studentID, docType)
	if err != nil || doc == nil {
		return nil, err
	}
	parsed, err := generation.ParseJSON(string(doc.Content))
	if err != nil {
		logger.FromContextOrDefault(ctx, o.logger).WarnContext(ctx, "stored document is not JSON",
			"document_id", doc.ID.String(), "type", string(docType), "error", err)
		return nil, nil
	}
	return parsed, nil
}
