package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/platform/logger"
	"github.com/phrazzld/gradeflow/internal/platform/pdf"
	"github.com/phrazzld/gradeflow/internal/platform/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Errors returned by the narrative package.
var (
	ErrNilClient     = errors.New("narrative client cannot be nil")
	ErrNilPrompts    = errors.New("narrative prompts cannot be nil")
	ErrNilRenderer   = errors.New("narrative renderer cannot be nil")
	ErrNotAnalytical = errors.New("stage has no narrative pass")
	ErrNoResult      = errors.New("structured result is required")
)

// markdownFence matches a response wrapped in a single ```markdown block.
var markdownFence = regexp.MustCompile("(?s)^```(?:markdown|md)?\\s*\\n(.*?)\\n?```\\s*$")

// Input is the structured output of one analytical stage for one student.
type Input struct {
	Stage        domain.Stage
	ActivityID   string
	ActivityName string
	StudentID    string
	StudentName  string
	Subject      string

	// Result is the decoded stage JSON. It must already have passed parsing.
	Result any
	Model  string
}

// Output is a rendered narrative document.
type Output struct {
	PDF      []byte
	Markdown string

	// Fallback is set when the PDF was rendered from Result instead of prose.
	Fallback       bool
	FallbackReason string
	PromptID       string
	Provider       string
	Model          string
	InputTokens    int
	OutputTokens   int
}

// Generator runs the narrative pass.
type Generator struct {
	client   generation.Caller
	prompts  *generation.PromptSet
	renderer *pdf.Renderer
	metrics  *telemetry.Metrics
	logger   *slog.Logger
}

// NewGenerator creates a Generator. A nil metrics value records nothing.
func NewGenerator(
	client generation.Caller,
	prompts *generation.PromptSet,
	renderer *pdf.Renderer,
	metrics *telemetry.Metrics,
	logger *slog.Logger,
) (*Generator, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if prompts == nil {
		return nil, ErrNilPrompts
	}
	if renderer == nil {
		return nil, ErrNilRenderer
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:   client,
		prompts:  prompts,
		renderer: renderer,
		metrics:  metrics,
		logger:   logger.With("component", "narrative_generator"),
	}, nil
}

// Generate produces the narrative PDF for an analytical stage. Failures of
// the second AI call never surface as errors; they select the fallback
// rendering. An error is returned only for invalid input or when even the
// fallback cannot be rendered.
func (g *Generator) Generate(ctx context.Context, in Input) (*Output, error) {
	if !in.Stage.IsAnalytical() {
		return nil, fmt.Errorf("%w: %s", ErrNotAnalytical, in.Stage)
	}
	if in.Result == nil {
		return nil, ErrNoResult
	}

	log := logger.FromContextOrDefault(ctx, g.logger).With(
		"stage", string(in.Stage),
		"student_id", in.StudentID,
	)

	promptID := generation.NarrativePromptID(in.Stage)
	out := &Output{PromptID: promptID}
	meta := documentMeta(in)

	markdown, reason := g.secondPass(ctx, in, promptID, out)
	if reason == "" {
		rendered, err := g.renderer.Markdown(meta, markdown)
		if err == nil {
			out.PDF = rendered
			out.Markdown = markdown
			log.DebugContext(ctx, "narrative rendered", "bytes", len(rendered))
			return out, nil
		}
		reason = fmt.Sprintf("markdown render failed: %v", err)
	}

	log.WarnContext(ctx, "narrative pass failed, rendering structured output", "reason", reason)
	g.metrics.NarrativeFallback.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(in.Stage))))

	rendered, err := g.renderer.Structured(meta, in.Result)
	if err != nil {
		return nil, fmt.Errorf("rendering fallback narrative: %w", err)
	}
	out.PDF = rendered
	out.Fallback = true
	out.FallbackReason = reason
	return out, nil
}

// secondPass asks the model for prose. It returns the Markdown, or a
// non-empty reason when the response cannot be used.
func (g *Generator) secondPass(ctx context.Context, in Input, promptID string, out *Output) (string, string) {
	resultJSON, err := json.MarshalIndent(in.Result, "", "  ")
	if err != nil {
		return "", fmt.Sprintf("encoding result: %v", err)
	}

	return g.prose(ctx, promptID, in.Model, generation.PromptData{
		StudentName:  in.StudentName,
		Subject:      in.Subject,
		ActivityName: in.ActivityName,
		ResultJSON:   string(resultJSON),
	}, out)
}

// prose renders promptID, calls the model and unwraps the Markdown answer.
// Provider details are copied into out even when the answer is unusable.
func (g *Generator) prose(
	ctx context.Context,
	promptID string,
	model string,
	data generation.PromptData,
	out *Output,
) (string, string) {
	prompt, err := g.prompts.Render(promptID, data)
	if err != nil {
		return "", err.Error()
	}

	res, err := g.client.Call(ctx, generation.Request{
		Model:    model,
		PromptID: promptID,
		System:   prompt.System,
		Prompt:   prompt.User,
	})
	if res != nil && res.Completion != nil {
		out.Provider = res.Completion.Provider
		out.Model = res.Completion.Model
		out.InputTokens = res.Completion.InputTokens
		out.OutputTokens = res.Completion.OutputTokens
	}
	if msg := generation.FailureMessage(res, err); msg != "" {
		return "", "provider error: " + msg
	}

	if res == nil || res.Completion == nil {
		return "", "empty narrative"
	}

	markdown := unwrapMarkdown(res.Completion.Content)
	switch {
	case markdown == "":
		return "", "empty narrative"
	case generation.LooksLikeJSON(markdown):
		return "", "narrative returned JSON instead of prose"
	}
	return markdown, ""
}

func unwrapMarkdown(s string) string {
	s = strings.TrimSpace(s)
	if m := markdownFence.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

func documentMeta(in Input) pdf.Meta {
	var title string
	switch in.Stage {
	case domain.StageGrade:
		title = "Grading analysis"
	case domain.StageAnalyzeSkills:
		title = "Learning profile"
	default:
		title = "Performance report"
	}
	if in.StudentName != "" {
		title += " - " + in.StudentName
	}

	parts := make([]string, 0, 2)
	for _, p := range []string{in.Subject, in.ActivityName} {
		if p != "" {
			parts = append(parts, p)
		}
	}

	return pdf.Meta{
		Title:    title,
		Subtitle: strings.Join(parts, " | "),
		Author:   "gradeflow",
		Subject:  string(in.Stage),
	}
}
