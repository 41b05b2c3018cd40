package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/narrative"
	"github.com/phrazzld/gradeflow/internal/store"
	"github.com/phrazzld/gradeflow/internal/task"
)

// stageContext carries everything a strategy needs for one stage of one
// student. Activity-level stages run with an empty student id.
type stageContext struct {
	stage    domain.Stage
	activity *store.Activity
	student  task.StudentRef
	model    string

	documents store.DocumentStore
	client    generation.Caller
	prompts   *generation.PromptSet
	narrative *narrative.Generator
	logger    *slog.Logger
}

// stageStrategy executes one stage. Expected failures are reported in the
// returned result, never as panics.
type stageStrategy interface {
	Execute(ctx context.Context, sc *stageContext) domain.StageResult
}

// input is one document a stage reads.
type input struct {
	docType domain.DocumentType

	// kind classifies the pre-flight failure when the document is missing.
	kind domain.ErrorKind

	// itemsKey and minItems require a JSON array of at least minItems
	// entries under itemsKey, failing with emptyKind otherwise.
	itemsKey  string
	minItems  int
	emptyKind domain.ErrorKind

	// attach sends the document content to the model as a file.
	attach bool

	// bind places the JSON content into the prompt data.
	bind func(*generation.PromptData, string)
}

// aiStage is the strategy shared by every stage: pre-flight, prompt, call,
// parse, persist, and for analytical stages the narrative pass.
type aiStage struct {
	inputs []input
}

var _ stageStrategy = (*aiStage)(nil)

// strategies is the stage dispatch table.
var strategies = map[domain.Stage]stageStrategy{
	domain.StageExtractQuestions: &aiStage{inputs: []input{
		{docType: domain.DocumentExamStatement, kind: domain.KindMissingDocument, attach: true},
	}},
	domain.StageExtractGabarito: &aiStage{inputs: []input{
		{docType: domain.DocumentAnswerKey, kind: domain.KindMissingDocument, attach: true},
		{docType: domain.DocumentQuestions, kind: domain.KindMissingQuestions, itemsKey: "questions", minItems: 1, emptyKind: domain.KindMissingQuestions, bind: bindQuestions},
	}},
	domain.StageExtractAnswers: &aiStage{inputs: []input{
		{docType: domain.DocumentStudentSubmission, kind: domain.KindMissingDocument, attach: true},
		{docType: domain.DocumentQuestions, kind: domain.KindMissingQuestions, itemsKey: "questions", minItems: 1, emptyKind: domain.KindMissingQuestions, bind: bindQuestions},
	}},
	domain.StageGrade: &aiStage{inputs: []input{
		{docType: domain.DocumentQuestions, kind: domain.KindMissingQuestions, itemsKey: "questions", minItems: 1, emptyKind: domain.KindMissingQuestions, bind: bindQuestions},
		{docType: domain.DocumentAnswerKeyExtraction, kind: domain.KindMissingDocument, itemsKey: "answers", minItems: 1, emptyKind: domain.KindMissingAnswers, bind: bindAnswerKey},
		{docType: domain.DocumentStudentAnswers, kind: domain.KindMissingDocument, itemsKey: "answers", minItems: 1, emptyKind: domain.KindMissingAnswers, bind: bindAnswers},
	}},
	domain.StageAnalyzeSkills: &aiStage{inputs: []input{
		{docType: domain.DocumentGrading, kind: domain.KindMissingDocument, bind: bindGrading},
	}},
	domain.StageGenerateReport: &aiStage{inputs: []input{
		{docType: domain.DocumentGrading, kind: domain.KindMissingDocument, bind: bindGrading},
		{docType: domain.DocumentSkillsAnalysis, kind: domain.KindMissingDocument, bind: bindSkills},
	}},
}

func bindQuestions(d *generation.PromptData, s string) { d.QuestionsJSON = s }
func bindAnswerKey(d *generation.PromptData, s string) { d.AnswerKeyJSON = s }
func bindAnswers(d *generation.PromptData, s string)   { d.AnswersJSON = s }
func bindGrading(d *generation.PromptData, s string)   { d.GradingJSON = s }
func bindSkills(d *generation.PromptData, s string)    { d.SkillsJSON = s }

// Execute implements stageStrategy.
func (a *aiStage) Execute(ctx context.Context, sc *stageContext) domain.StageResult {
	docs, env := a.preflight(ctx, sc)
	if env != nil {
		return domain.Failed(sc.stage, env)
	}

	data := generation.PromptData{
		StudentName:  sc.student.Name,
		Subject:      sc.activity.Subject,
		ActivityName: sc.activity.Name,
	}
	var attachments []generation.Attachment
	var source *uuid.UUID
	for i, in := range a.inputs {
		doc := docs[i]
		if source == nil {
			id := doc.ID
			source = &id
		}
		if in.attach {
			attachments = append(attachments, generation.Attachment{
				Name:     doc.Filename,
				MIMEType: doc.ContentType,
				Data:     doc.Content,
			})
		}
		if in.bind != nil {
			in.bind(&data, string(doc.Content))
		}
	}

	promptID := generation.StagePromptID(sc.stage)
	prompt, err := sc.prompts.Render(promptID, data)
	if err != nil {
		return domain.Failed(sc.stage, domain.NewEnvelope(domain.KindProviderError, domain.SeverityHigh, sc.stage,
			fmt.Sprintf("rendering prompt %s: %v", promptID, err)))
	}

	res, err := sc.client.Call(ctx, generation.Request{
		Model:       sc.model,
		PromptID:    promptID,
		System:      prompt.System,
		Prompt:      prompt.User,
		Attachments: attachments,
		JSON:        true,
	})
	if err != nil || res == nil || res.Completion == nil || res.Completion.Failed() {
		result := domain.Failed(sc.stage, domain.NewEnvelope(domain.KindProviderError, domain.SeverityHigh, sc.stage,
			generation.FailureMessage(res, err)))
		result.PromptID = promptID
		result.Model = sc.model
		result.Retries = res.Retries()
		return result
	}

	completion := res.Completion
	result := domain.StageResult{
		Stage:        sc.stage,
		Provider:     completion.Provider,
		Model:        completion.Model,
		PromptID:     promptID,
		RawResponse:  completion.Content,
		InputTokens:  completion.InputTokens,
		OutputTokens: completion.OutputTokens,
		Retries:      res.Retries(),
	}
	if result.Model == "" {
		result.Model = sc.model
	}

	parsed, err := generation.ParseJSON(completion.Content)
	if err != nil {
		kind := domain.KindInvalidJSON
		var perr *generation.ParseError
		if errors.As(err, &perr) {
			kind = perr.Kind
		}
		result.Error = domain.NewEnvelope(kind, domain.SeverityHigh, sc.stage,
			fmt.Sprintf("model response is not usable JSON: %v", err))
		return result
	}
	result.Parsed = parsed

	if err := generation.ValidateStagePayload(sc.stage, parsed); err != nil {
		result.Error = domain.NewEnvelope(domain.KindInvalidSchema, domain.SeverityHigh, sc.stage,
			fmt.Sprintf("model response does not match the %s schema: %v", sc.stage, err))
		return result
	}

	content, err := json.Marshal(parsed)
	if err != nil {
		result.Error = domain.NewEnvelope(domain.KindInvalidJSON, domain.SeverityHigh, sc.stage,
			fmt.Sprintf("re-encoding parsed response: %v", err))
		return result
	}

	saved, err := saveStageDocument(ctx, sc, content, domain.Provenance{
		Provider:         result.Provider,
		Model:            result.Model,
		PromptID:         promptID,
		SourceDocumentID: source,
	})
	if err != nil {
		result.Error = domain.NewEnvelope(domain.KindStorageError, domain.SeverityHigh, sc.stage, err.Error())
		return result
	}

	result.Success = true
	result.DocumentID = &saved.ID
	if sc.stage.IsAnalytical() {
		attachNarrative(ctx, sc, saved.ID, parsed, &result)
	}
	return result
}

// preflight loads every input, failing critically before any AI call when
// one is missing or has too few items.
func (a *aiStage) preflight(ctx context.Context, sc *stageContext) ([]*domain.Document, *domain.ErrorEnvelope) {
	docs := make([]*domain.Document, len(a.inputs))
	for i, in := range a.inputs {
		doc, err := sc.documents.LatestDocument(ctx, domain.KeyFor(in.docType, sc.activity.ID, sc.student.ID))
		if errors.Is(err, store.ErrDocumentNotFound) {
			return nil, domain.NewCriticalEnvelope(in.kind, sc.stage, missingMessage(in.docType, sc))
		}
		if err != nil {
			return nil, domain.NewEnvelope(domain.KindStorageError, domain.SeverityHigh, sc.stage,
				fmt.Sprintf("loading %s: %v", in.docType, err))
		}

		if in.minItems > 0 {
			if n := countItems(doc.Content, in.itemsKey); n < in.minItems {
				return nil, domain.NewCriticalEnvelope(in.emptyKind, sc.stage,
					fmt.Sprintf("%s document %s has %d %s, need at least %d",
						in.docType, doc.ID, n, in.itemsKey, in.minItems))
			}
		}
		docs[i] = doc
	}
	return docs, nil
}

func missingMessage(docType domain.DocumentType, sc *stageContext) string {
	if docType.IsActivityLevel() {
		return fmt.Sprintf("no %s document for activity %s", docType, sc.activity.ID)
	}
	return fmt.Sprintf("no %s document for student %s of activity %s", docType, sc.student.ID, sc.activity.ID)
}

// countItems returns the length of the array under key, or of the top-level
// array when the content is one.
func countItems(content []byte, key string) int {
	parsed, err := generation.ParseJSON(string(content))
	if err != nil {
		return 0
	}
	switch v := parsed.(type) {
	case []any:
		return len(v)
	case map[string]any:
		items, _ := v[key].([]any)
		return len(items)
	default:
		return 0
	}
}

func saveStageDocument(
	ctx context.Context,
	sc *stageContext,
	content []byte,
	prov domain.Provenance,
) (*domain.Document, error) {
	doc, err := domain.NewDocument(sc.stage.DocumentType(), sc.activity.ID, sc.student.ID, domain.ContentTypeJSON, content)
	if err != nil {
		return nil, err
	}
	doc.Stage = sc.stage
	doc.Filename = string(doc.Type) + ".json"
	doc.Provenance = prov
	return sc.documents.SaveDocument(ctx, doc)
}

// attachNarrative runs the narrative pass for a stage whose structured
// output is already stored. Narrative problems never fail the stage.
func attachNarrative(ctx context.Context, sc *stageContext, sourceID uuid.UUID, parsed any, result *domain.StageResult) {
	out, err := sc.narrative.Generate(ctx, narrative.Input{
		Stage:        sc.stage,
		ActivityID:   sc.activity.ID,
		ActivityName: sc.activity.Name,
		StudentID:    sc.student.ID,
		StudentName:  sc.student.Name,
		Subject:      sc.activity.Subject,
		Result:       parsed,
		Model:        sc.model,
	})
	if err != nil {
		sc.logger.ErrorContext(ctx, "narrative could not be rendered", "error", err)
		return
	}

	doc, err := domain.NewDocument(sc.stage.NarrativeDocumentType(), sc.activity.ID, sc.student.ID, domain.ContentTypePDF, out.PDF)
	if err != nil {
		sc.logger.ErrorContext(ctx, "narrative document invalid", "error", err)
		return
	}
	doc.Stage = sc.stage
	doc.Filename = string(doc.Type) + ".pdf"
	doc.Provenance = domain.Provenance{
		Provider:         out.Provider,
		Model:            out.Model,
		PromptID:         out.PromptID,
		SourceDocumentID: &sourceID,
	}

	saved, err := sc.documents.SaveDocument(ctx, doc)
	if err != nil {
		sc.logger.ErrorContext(ctx, "failed to save narrative document", "error", err)
		return
	}
	result.NarrativeDocumentID = &saved.ID
	result.NarrativeFallback = out.Fallback
}
