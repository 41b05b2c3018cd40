package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/events"
	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/narrative"
	"github.com/phrazzld/gradeflow/internal/platform/logger"
	"github.com/phrazzld/gradeflow/internal/platform/pdf"
	"github.com/phrazzld/gradeflow/internal/platform/telemetry"
	"github.com/phrazzld/gradeflow/internal/store"
	"github.com/phrazzld/gradeflow/internal/task"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// Dependencies are the collaborators of an Orchestrator. Emitter and
// Metrics are optional.
type Dependencies struct {
	Documents store.DocumentStore
	Roster    store.RosterStore
	Registry  *task.Registry
	Client    generation.Caller
	Prompts   *generation.PromptSet
	Narrative *narrative.Generator
	Renderer  *pdf.Renderer
	Emitter   events.EventEmitter
	Metrics   *telemetry.Metrics
}

// Options tune an Orchestrator.
type Options struct {
	// StudentConcurrency bounds how many students run at once. Values
	// below one run students sequentially.
	StudentConcurrency int

	Models ModelSelection
}

// Orchestrator runs the stage pipeline.
type Orchestrator struct {
	deps        Dependencies
	concurrency int
	models      ModelSelection
	strategies  map[domain.Stage]stageStrategy
	logger      *slog.Logger
}

// NewOrchestrator validates deps and creates an Orchestrator.
func NewOrchestrator(deps Dependencies, opts Options, logger *slog.Logger) (*Orchestrator, error) {
	switch {
	case deps.Documents == nil:
		return nil, ErrNilDocumentStore
	case deps.Roster == nil:
		return nil, ErrNilRosterStore
	case deps.Registry == nil:
		return nil, ErrNilRegistry
	case deps.Client == nil:
		return nil, ErrNilClient
	case deps.Prompts == nil:
		return nil, ErrNilPrompts
	case deps.Narrative == nil:
		return nil, ErrNilNarrative
	case deps.Renderer == nil:
		return nil, ErrNilRenderer
	}
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Emitter == nil {
		deps.Emitter = events.NewInMemoryEventEmitter(logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NoopMetrics()
	}

	concurrency := opts.StudentConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Orchestrator{
		deps:        deps,
		concurrency: concurrency,
		models:      opts.Models,
		strategies:  strategies,
		logger:      logger.With("component", "orchestrator"),
	}, nil
}

// run is the state shared by the students of one Run call.
type run struct {
	req      RunRequest
	activity *store.Activity
	memo     *activityMemo
}

// activityMemo computes each activity-level stage at most once per run.
type activityMemo struct {
	mu    sync.Mutex
	cells map[domain.Stage]*memoCell
}

type memoCell struct {
	once   sync.Once
	result domain.StageResult
}

func newActivityMemo() *activityMemo {
	return &activityMemo{cells: make(map[domain.Stage]*memoCell)}
}

// do returns the memoized result of stage, running compute on first use.
// Concurrent callers wait for the first computation.
func (m *activityMemo) do(stage domain.Stage, compute func() domain.StageResult) domain.StageResult {
	m.mu.Lock()
	cell, ok := m.cells[stage]
	if !ok {
		cell = &memoCell{}
		m.cells[stage] = cell
	}
	m.mu.Unlock()

	cell.once.Do(func() { cell.result = compute() })
	return cell.result
}

// Run executes the request and completes the registry task. Stage failures
// are reported per student in the result; an error is returned only when
// the run could not start.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	log := o.logger.With("task_id", req.TaskID.String(), "activity_id", req.ActivityID)
	ctx = logger.WithLogger(ctx, log)

	ctx, span := telemetry.StartRunSpan(ctx, req.TaskID.String(), req.ActivityID, len(req.Students))

	activity, err := o.deps.Roster.GetActivity(ctx, req.ActivityID)
	if err != nil {
		err = fmt.Errorf("loading activity %s: %w", req.ActivityID, err)
		log.ErrorContext(ctx, "run could not start", "error", err)
		o.finishTask(context.WithoutCancel(ctx), req.TaskID, task.TaskStatusFailed)
		telemetry.EndSpan(span, err)
		return nil, err
	}

	log.InfoContext(ctx, "starting pipeline run",
		"students", len(req.Students),
		"stages", len(req.Stages),
		"force_rerun", req.ForceRerun)

	r := &run{req: req, activity: activity, memo: newActivityMemo()}
	results := make([]StudentResult, len(req.Students))

	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, student := range req.Students {
		g.Go(func() error {
			results[i] = o.runStudent(ctx, r, student)
			return nil
		})
	}
	_ = g.Wait()

	status := terminalStatus(o.cancelled(ctx, req.TaskID), results)
	o.finishTask(context.WithoutCancel(ctx), req.TaskID, status)

	log.InfoContext(ctx, "pipeline run finished", "status", string(status))
	telemetry.EndSpan(span, nil)

	return &RunResult{TaskID: req.TaskID, Status: status, Students: results}, nil
}

// runStudent walks the stages of one student until one fails or the task
// is cancelled.
func (o *Orchestrator) runStudent(ctx context.Context, r *run, student task.StudentRef) StudentResult {
	log := logger.FromContextOrDefault(ctx, o.logger).With("student_id", student.ID)
	ctx = logger.WithLogger(ctx, log)

	out := StudentResult{StudentID: student.ID, Name: student.Name}
	var completed []domain.Stage

	for _, stage := range domain.Stages() {
		if o.cancelled(ctx, r.req.TaskID) {
			log.InfoContext(ctx, "cancellation requested, stopping student", "next_stage", string(stage))
			out.Cancelled = true
			break
		}

		if !r.req.selects(stage) {
			if o.reuseUnselected(ctx, r, student, stage) {
				completed = append(completed, stage)
			}
			continue
		}

		res := o.runStage(ctx, r, student, stage)
		out.Results = append(out.Results, res)

		if res.Halts() {
			failed := stage
			out.FailedStage = &failed
			log.WarnContext(ctx, "stage failed, halting student",
				"stage", string(stage),
				"kind", string(res.Error.Kind),
				"severity", string(res.Error.Severity))
			out.ErrorReportID = o.writeErrorReport(context.WithoutCancel(ctx), r, student, res.Error, completed)
			break
		}
		completed = append(completed, stage)
	}

	return out
}

// runStage moves one stage through running to its terminal status.
func (o *Orchestrator) runStage(ctx context.Context, r *run, student task.StudentRef, stage domain.Stage) domain.StageResult {
	log := logger.FromContextOrDefault(ctx, o.logger).With("stage", string(stage))
	ctx = logger.WithLogger(ctx, log)
	ctx, span := telemetry.StartStageSpan(ctx, string(stage), student.ID)

	o.transition(ctx, r.req.TaskID, student.ID, stage, domain.StageStatusRunning)

	start := time.Now()
	var res domain.StageResult
	if stage.Scope() == domain.ScopeActivity {
		res = r.memo.do(stage, func() domain.StageResult {
			return o.executeStage(ctx, r, task.StudentRef{}, stage)
		})
	} else {
		res = o.executeStage(ctx, r, student, stage)
	}
	elapsed := time.Since(start)
	if res.Elapsed == 0 {
		res.Elapsed = elapsed
	}

	attrs := metric.WithAttributes(attribute.String("stage", string(stage)))
	o.deps.Metrics.StageDuration.Record(ctx, elapsed.Seconds(), attrs)

	if res.Success {
		o.deps.Metrics.StagesCompleted.Add(ctx, 1, attrs)
		opts := []task.StageOption{task.WithDocument(*res.DocumentID)}
		if res.NarrativeDocumentID != nil {
			opts = append(opts, task.WithNarrative(*res.NarrativeDocumentID))
		}
		if res.Skipped {
			opts = append(opts, task.WithSkipped())
		}
		o.transition(ctx, r.req.TaskID, student.ID, stage, domain.StageStatusCompleted, opts...)
		log.InfoContext(ctx, "stage completed",
			"skipped", res.Skipped,
			"document_id", res.DocumentID.String(),
			"retries", res.Retries,
			"elapsed", elapsed)
		telemetry.EndSpan(span, nil)
		return res
	}

	o.deps.Metrics.StagesFailed.Add(ctx, 1, attrs)
	o.transition(ctx, r.req.TaskID, student.ID, stage, domain.StageStatusFailed, task.WithError(res.Error))
	telemetry.EndSpan(span, res.Error)
	return res
}

// executeStage applies the skip rule and otherwise dispatches to the
// stage's strategy.
func (o *Orchestrator) executeStage(ctx context.Context, r *run, student task.StudentRef, stage domain.Stage) domain.StageResult {
	log := logger.FromContextOrDefault(ctx, o.logger)
	sc := &stageContext{
		stage:     stage,
		activity:  r.activity,
		student:   student,
		model:     o.models.Resolve(stage, r.req.ModelOverrides),
		documents: o.deps.Documents,
		client:    o.deps.Client,
		prompts:   o.deps.Prompts,
		narrative: o.deps.Narrative,
		logger:    log,
	}

	if !r.req.ForceRerun {
		existing, err := o.latest(ctx, r.activity.ID, student.ID, stage.DocumentType())
		if err != nil {
			return domain.Failed(stage, domain.NewEnvelope(domain.KindStorageError, domain.SeverityHigh, stage,
				fmt.Sprintf("checking existing %s: %v", stage.DocumentType(), err)))
		}
		if existing != nil {
			log.DebugContext(ctx, "reusing existing document", "document_id", existing.ID.String())
			return o.reuse(ctx, sc, existing)
		}
	}

	strategy, ok := o.strategies[stage]
	if !ok {
		return domain.Failed(stage, domain.NewCriticalEnvelope(domain.KindMissingDocument, stage,
			fmt.Sprintf("no strategy for stage %s", stage)))
	}
	return strategy.Execute(ctx, sc)
}

// reuse builds the skipped result for an existing document. Analytical
// stages reuse their latest narrative and only render one when none exists.
func (o *Orchestrator) reuse(ctx context.Context, sc *stageContext, existing *domain.Document) domain.StageResult {
	res := domain.Succeeded(sc.stage, existing.ID)
	res.Skipped = true
	res.Provider = existing.Provenance.Provider
	res.Model = existing.Provenance.Model
	res.PromptID = existing.Provenance.PromptID

	if !sc.stage.IsAnalytical() {
		return res
	}

	narr, err := o.latest(ctx, sc.activity.ID, sc.student.ID, sc.stage.NarrativeDocumentType())
	if err != nil {
		sc.logger.WarnContext(ctx, "could not look up narrative document", "error", err)
		return res
	}
	if narr != nil {
		id := narr.ID
		res.NarrativeDocumentID = &id
		return res
	}

	parsed, err := generation.ParseJSON(string(existing.Content))
	if err != nil {
		sc.logger.WarnContext(ctx, "existing document is not JSON, no narrative rendered", "error", err)
		return res
	}
	res.Parsed = parsed
	attachNarrative(ctx, sc, existing.ID, parsed, &res)
	return res
}

// reuseUnselected reports an unselected stage as completed when its
// document exists, leaving it pending otherwise.
func (o *Orchestrator) reuseUnselected(ctx context.Context, r *run, student task.StudentRef, stage domain.Stage) bool {
	doc, err := o.latest(ctx, r.activity.ID, student.ID, stage.DocumentType())
	if err != nil || doc == nil {
		if err != nil {
			logger.FromContextOrDefault(ctx, o.logger).WarnContext(ctx, "could not look up unselected stage",
				"stage", string(stage), "error", err)
		}
		return false
	}

	opts := []task.StageOption{task.WithDocument(doc.ID), task.WithSkipped()}
	if stage.IsAnalytical() {
		narr, err := o.latest(ctx, r.activity.ID, student.ID, stage.NarrativeDocumentType())
		if err == nil && narr != nil {
			opts = append(opts, task.WithNarrative(narr.ID))
		}
	}

	o.transition(ctx, r.req.TaskID, student.ID, stage, domain.StageStatusRunning)
	o.transition(ctx, r.req.TaskID, student.ID, stage, domain.StageStatusCompleted, opts...)
	return true
}

// latest returns the newest document of a chain, or nil when it is empty.
func (o *Orchestrator) latest(
	ctx context.Context,
	activityID, studentID string,
	docType domain.DocumentType,
) (*domain.Document, error) {
	doc, err := o.deps.Documents.LatestDocument(ctx, domain.KeyFor(docType, activityID, studentID))
	if errors.Is(err, store.ErrDocumentNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// writeErrorReport persists the error report of a halted student and links
// it in the registry. Failures are logged; the stage failure already
// carries the envelope.
func (o *Orchestrator) writeErrorReport(
	ctx context.Context,
	r *run,
	student task.StudentRef,
	env *domain.ErrorEnvelope,
	completed []domain.Stage,
) *uuid.UUID {
	log := logger.FromContextOrDefault(ctx, o.logger)

	meta := pdf.Meta{
		Title:    "Pipeline error - " + displayName(student),
		Subtitle: r.activity.Subject + " | " + r.activity.Name,
		Author:   "gradeflow",
		Subject:  string(domain.DocumentErrorReport),
	}
	rendered, err := o.deps.Renderer.ErrorReport(meta, pdf.ErrorReport{
		StudentName: displayName(student),
		Envelope:    *env,
		Completed:   completed,
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to render error report", "error", err)
		return nil
	}

	doc, err := domain.NewDocument(domain.DocumentErrorReport, r.activity.ID, student.ID, domain.ContentTypePDF, rendered)
	if err != nil {
		log.ErrorContext(ctx, "error report document invalid", "error", err)
		return nil
	}
	doc.Stage = env.Stage
	doc.Filename = "error_report.pdf"
	doc.Error = env.Clone()

	saved, err := o.deps.Documents.SaveDocument(ctx, doc)
	if err != nil {
		log.ErrorContext(ctx, "failed to save error report", "error", err)
		return nil
	}

	if err := o.deps.Registry.AttachErrorReport(r.req.TaskID, student.ID, saved.ID); err != nil {
		log.WarnContext(ctx, "failed to link error report", "error", err)
	}
	id := saved.ID
	return &id
}

func displayName(s task.StudentRef) string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}

// transition updates the registry and emits the matching progress event.
func (o *Orchestrator) transition(
	ctx context.Context,
	taskID uuid.UUID,
	studentID string,
	stage domain.Stage,
	status domain.StageStatus,
	opts ...task.StageOption,
) {
	log := logger.FromContextOrDefault(ctx, o.logger)

	if err := o.deps.Registry.UpdateStage(taskID, studentID, stage, status, opts...); err != nil {
		log.ErrorContext(ctx, "registry rejected stage update",
			"stage", string(stage),
			"status", string(status),
			"error", err)
		return
	}

	snap, err := o.deps.Registry.Get(taskID)
	if err != nil {
		log.WarnContext(ctx, "task vanished from registry", "error", err)
		return
	}

	event := events.NewStageEvent(taskID, studentID, stage, status)
	for _, sp := range snap.Students {
		if sp.StudentID != studentID {
			continue
		}
		progress := sp.Stages[stage]
		event.Skipped = progress.Skipped
		event.DocumentID = progress.DocumentID
		event.Error = progress.Error
	}
	if err := o.deps.Emitter.EmitEvent(ctx, event); err != nil {
		log.WarnContext(ctx, "failed to emit progress event", "error", err)
	}
}

// finishTask records the terminal status and emits the final event.
func (o *Orchestrator) finishTask(ctx context.Context, taskID uuid.UUID, status task.TaskStatus) {
	log := logger.FromContextOrDefault(ctx, o.logger)

	if err := o.deps.Registry.Complete(taskID, status); err != nil {
		log.ErrorContext(ctx, "failed to complete task", "error", err)
	}
	o.deps.Metrics.TasksFinished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))

	if err := o.deps.Emitter.EmitEvent(ctx, events.NewTaskFinishedEvent(taskID, string(status))); err != nil {
		log.WarnContext(ctx, "failed to emit task finished event", "error", err)
	}
}

// cancelled reports whether the task should stop at the next stage
// boundary.
func (o *Orchestrator) cancelled(ctx context.Context, taskID uuid.UUID) bool {
	return ctx.Err() != nil || o.deps.Registry.CancelRequested(taskID)
}
