package pipeline_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/events"
	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/mocks"
	"github.com/phrazzld/gradeflow/internal/narrative"
	"github.com/phrazzld/gradeflow/internal/pipeline"
	"github.com/phrazzld/gradeflow/internal/platform/memory"
	"github.com/phrazzld/gradeflow/internal/platform/pdf"
	"github.com/phrazzld/gradeflow/internal/store"
	"github.com/phrazzld/gradeflow/internal/task"
	"github.com/stretchr/testify/require"
)

const activityID = "act-1"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// stageResponses are well-formed answers for every prompt.
var stageResponses = map[string]string{
	"default_extract_questions": `{"questions": [{"number": 1, "text": "State Newton's second law."}, {"number": 2, "text": "Compute F for m=2, a=3."}]}`,
	"default_extract_gabarito":  `{"answers": [{"question_number": 1, "answer": "F = m a"}, {"question_number": 2, "answer": "6 N"}]}`,
	"default_extract_answers":   `{"answers": [{"question_number": 1, "student_answer": "F = m a", "blank": false}, {"question_number": 2, "student_answer": "5 N", "blank": false}]}`,
	"default_grade":             "```json\n{\"questions\": [{\"question_number\": 1, \"score\": 1, \"max_score\": 1}, {\"question_number\": 2, \"score\": 0.5, \"max_score\": 1}], \"total_score\": 1.5, \"max_total\": 2}\n```",
	"default_analyze_skills":    `{"skills": [{"name": "Dynamics", "level": "developing"}]}`,
	"default_generate_report":   `{"summary": "Solid grasp of the law, arithmetic slip on question 2."}`,

	"internal_narrative_grade":           "## Question 1\n\n**Correct.** Well stated.",
	"internal_narrative_analyze_skills":  "## Skills\n\n- Dynamics: developing",
	"internal_narrative_generate_report": "## Report\n\nKeep practicing unit conversions.",

	"default_class_performance": "## Class Overview\n\nThe class states the law well and slips on arithmetic.",
}

// scripted answers each prompt from stageResponses unless override returns
// an outcome for it.
func scripted(override func(req generation.Request) *mocks.Outcome) *mocks.MockProvider {
	return &mocks.MockProvider{
		CompleteFn: func(ctx context.Context, req generation.Request) (*generation.Completion, error) {
			if override != nil {
				if out := override(req); out != nil {
					return out.Completion, out.Err
				}
			}
			return &generation.Completion{
				Content:      stageResponses[req.PromptID],
				Provider:     "mock",
				Model:        req.Model,
				InputTokens:  10,
				OutputTokens: 20,
			}, nil
		},
	}
}

type harness struct {
	t        *testing.T
	docs     *mocks.MockDocumentStore
	roster   *memory.RosterStore
	registry *task.Registry
	provider *mocks.MockProvider
	recorder *events.Recorder
	orch     *pipeline.Orchestrator
}

type harnessOption func(*pipeline.Options)

func withConcurrency(n int) harnessOption {
	return func(o *pipeline.Options) { o.StudentConcurrency = n }
}

func withModels(sel pipeline.ModelSelection) harnessOption {
	return func(o *pipeline.Options) { o.Models = sel }
}

func newHarness(t *testing.T, provider *mocks.MockProvider, opts ...harnessOption) *harness {
	t.Helper()

	docs := mocks.NewMockDocumentStore()
	roster := memory.NewRosterStore(docs)
	registry := task.NewRegistry()
	recorder := &events.Recorder{}
	emitter := events.NewInMemoryEventEmitter(discardLogger())
	emitter.RegisterHandler(recorder)

	client, err := generation.NewRetryingClient(provider, generation.DefaultRetryPolicy(), discardLogger(),
		generation.WithSleep(noSleep))
	require.NoError(t, err)

	prompts := generation.MustLoadPrompts()
	renderer := pdf.NewRenderer(pdf.WithoutCompression())
	gen, err := narrative.NewGenerator(client, prompts, renderer, nil, discardLogger())
	require.NoError(t, err)

	options := pipeline.Options{StudentConcurrency: 2, Models: pipeline.ModelSelection{Default: "default-model"}}
	for _, opt := range opts {
		opt(&options)
	}

	orch, err := pipeline.NewOrchestrator(pipeline.Dependencies{
		Documents: docs,
		Roster:    roster,
		Registry:  registry,
		Client:    client,
		Prompts:   prompts,
		Narrative: gen,
		Renderer:  renderer,
		Emitter:   emitter,
	}, options, discardLogger())
	require.NoError(t, err)

	return &harness{
		t:        t,
		docs:     docs,
		roster:   roster,
		registry: registry,
		provider: provider,
		recorder: recorder,
		orch:     orch,
	}
}

// seed registers the activity with its students and uploads the exam,
// the answer key when withKey is set, and a submission for every student in
// submitted.
func (h *harness) seed(withKey bool, students []store.Student, submitted ...string) {
	h.t.Helper()

	h.roster.AddActivity(store.Activity{ID: activityID, Name: "Midterm", Subject: "Physics"}, students...)
	h.upload(domain.DocumentExamStatement, "")
	if withKey {
		h.upload(domain.DocumentAnswerKey, "")
	}
	for _, id := range submitted {
		h.upload(domain.DocumentStudentSubmission, id)
	}
}

func (h *harness) upload(docType domain.DocumentType, studentID string) {
	h.t.Helper()

	doc, err := domain.NewDocument(docType, activityID, studentID, domain.ContentTypePDF, []byte("%PDF-1.4 scanned "+string(docType)))
	require.NoError(h.t, err)
	doc.Filename = string(docType) + ".pdf"
	_, err = h.docs.Backing.SaveDocument(context.Background(), doc)
	require.NoError(h.t, err)
}

// start registers a task for students and returns a run request for it.
func (h *harness) start(students ...store.Student) pipeline.RunRequest {
	refs := make([]task.StudentRef, 0, len(students))
	for _, s := range students {
		refs = append(refs, task.StudentRef{ID: s.ID, Name: s.Name})
	}
	id := h.registry.Register(task.Registration{Type: task.TaskTypePipeline, ActivityID: activityID, Students: refs})
	return pipeline.RunRequest{TaskID: id, ActivityID: activityID, Students: refs}
}

func (h *harness) run(req pipeline.RunRequest) *pipeline.RunResult {
	h.t.Helper()

	res, err := h.orch.Run(context.Background(), req)
	require.NoError(h.t, err)
	return res
}

func (h *harness) snapshot(id uuid.UUID) *task.Snapshot {
	h.t.Helper()

	snap, err := h.registry.Get(id)
	require.NoError(h.t, err)
	return snap
}

func (h *harness) student(snap *task.Snapshot, studentID string) task.StudentProgress {
	h.t.Helper()

	for _, sp := range snap.Students {
		if sp.StudentID == studentID {
			return sp
		}
	}
	h.t.Fatalf("student %s not in snapshot", studentID)
	return task.StudentProgress{}
}

// callsFor counts provider calls for one prompt id.
func (h *harness) callsFor(promptID string) int {
	n := 0
	for _, req := range h.provider.Requests() {
		if req.PromptID == promptID {
			n++
		}
	}
	return n
}

// stageEvents returns the stage statuses emitted for one student, in order.
func (h *harness) stageEvents(studentID string) []string {
	var out []string
	for _, ev := range h.recorder.Events() {
		if ev.Kind == events.KindStageProgress && ev.StudentID == studentID {
			out = append(out, string(ev.Stage)+"="+string(ev.Status))
		}
	}
	return out
}

func (h *harness) latest(docType domain.DocumentType, studentID string) *domain.Document {
	h.t.Helper()

	doc, err := h.docs.Backing.LatestDocument(context.Background(), domain.KeyFor(docType, activityID, studentID))
	if store.IsNotFoundError(err) {
		return nil
	}
	require.NoError(h.t, err)
	return doc
}

var (
	ana   = store.Student{ID: "s1", Name: "Ana Conceição"}
	bruno = store.Student{ID: "s2", Name: "Bruno"}
	carla = store.Student{ID: "s3", Name: "Carla"}
)

func hasPrefix(b []byte, prefix string) bool {
	return strings.HasPrefix(string(b), prefix)
}
