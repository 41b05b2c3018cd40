package narrative_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/phrazzld/gradeflow/internal/domain"
	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/mocks"
	"github.com/phrazzld/gradeflow/internal/narrative"
	"github.com/phrazzld/gradeflow/internal/platform/pdf"
	"github.com/phrazzld/gradeflow/internal/platform/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

type fixture struct {
	provider *mocks.MockProvider
	reader   *sdkmetric.ManualReader
	gen      *narrative.Generator
}

func newFixture(t *testing.T, provider *mocks.MockProvider) fixture {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	metrics, err := telemetry.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	client, err := generation.NewRetryingClient(provider, generation.DefaultRetryPolicy(), discardLogger(),
		generation.WithSleep(noSleep))
	require.NoError(t, err)

	gen, err := narrative.NewGenerator(
		client,
		generation.MustLoadPrompts(),
		pdf.NewRenderer(pdf.WithoutCompression()),
		metrics,
		discardLogger(),
	)
	require.NoError(t, err)

	return fixture{provider: provider, reader: reader, gen: gen}
}

func (f fixture) fallbacks(t *testing.T) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, f.reader.Collect(context.Background(), &rm))
	return telemetry.CounterValue(rm, "gradeflow.narrative.fallback")
}

func gradeInput() narrative.Input {
	return narrative.Input{
		Stage:       domain.StageGrade,
		ActivityID:  "act-1",
		StudentID:   "stu-1",
		StudentName: "Ana",
		Subject:     "Physics",
		Model:       "narrative-model",
		Result: map[string]any{
			"total_score": 6.5,
			"questions": []any{
				map[string]any{"question_number": 1, "score": 3.5, "feedback": "Correct setup"},
			},
		},
	}
}

func TestGenerate_RendersMarkdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, mocks.NewMockProviderWithContent("## Question 1\n\n**What the student tried:** a free body diagram."))

	out, err := f.gen.Generate(context.Background(), gradeInput())
	require.NoError(t, err)

	assert.False(t, out.Fallback)
	assert.Empty(t, out.FallbackReason)
	assert.Equal(t, "internal_narrative_grade", out.PromptID)
	assert.Equal(t, "mock", out.Provider)
	assert.True(t, bytes.HasPrefix(out.PDF, []byte("%PDF-")))
	assert.True(t, bytes.Contains(out.PDF, []byte("Question 1")))
	assert.Equal(t, int64(0), f.fallbacks(t))

	reqs := f.provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "internal_narrative_grade", reqs[0].PromptID)
	assert.Equal(t, "narrative-model", reqs[0].Model)
	assert.Contains(t, reqs[0].Prompt, `"total_score": 6.5`)
	assert.Contains(t, reqs[0].System, "NEVER JSON")
	assert.False(t, reqs[0].JSON)
}

func TestGenerate_UnwrapsMarkdownFence(t *testing.T) {
	t.Parallel()

	f := newFixture(t, mocks.NewMockProviderWithContent("```markdown\n## Summary\n\nSteady progress.\n```"))

	out, err := f.gen.Generate(context.Background(), gradeInput())
	require.NoError(t, err)

	assert.False(t, out.Fallback)
	assert.Equal(t, "## Summary\n\nSteady progress.", out.Markdown)
}

func TestGenerate_Fallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		provider *mocks.MockProvider
		reason   string
	}{
		{
			name:     "provider keeps failing",
			provider: mocks.MockProviderThatFails(http.StatusServiceUnavailable),
			reason:   "provider error",
		},
		{
			name:     "non-retryable status",
			provider: mocks.MockProviderThatFails(http.StatusBadRequest),
			reason:   "provider error",
		},
		{
			name:     "empty content",
			provider: mocks.NewMockProviderWithContent("   \n"),
			reason:   "empty narrative",
		},
		{
			name:     "json instead of prose",
			provider: mocks.NewMockProviderWithContent(`{"summary": "fine"}`),
			reason:   "JSON instead of prose",
		},
		{
			name:     "fenced json",
			provider: mocks.NewMockProviderWithContent("```json\n[{\"q\": 1}]\n```"),
			reason:   "JSON instead of prose",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.provider)

			out, err := f.gen.Generate(context.Background(), gradeInput())
			require.NoError(t, err)

			assert.True(t, out.Fallback)
			assert.Contains(t, out.FallbackReason, tt.reason)
			assert.Empty(t, out.Markdown)
			assert.True(t, bytes.HasPrefix(out.PDF, []byte("%PDF-")))
			assert.True(t, bytes.Contains(out.PDF, []byte("Total Score")))
			assert.Equal(t, int64(1), f.fallbacks(t))
		})
	}
}

func TestGenerate_RejectsExtractionStage(t *testing.T) {
	t.Parallel()

	f := newFixture(t, mocks.NewMockProviderWithContent("prose"))
	in := gradeInput()
	in.Stage = domain.StageExtractAnswers

	_, err := f.gen.Generate(context.Background(), in)
	assert.ErrorIs(t, err, narrative.ErrNotAnalytical)
	assert.Equal(t, 0, f.provider.Calls())
}

func TestGenerate_RequiresResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t, mocks.NewMockProviderWithContent("prose"))
	in := gradeInput()
	in.Result = nil

	_, err := f.gen.Generate(context.Background(), in)
	assert.ErrorIs(t, err, narrative.ErrNoResult)
}

func TestNewGenerator_Validation(t *testing.T) {
	t.Parallel()

	client, err := generation.NewRetryingClient(mocks.NewMockProviderWithContent("x"),
		generation.DefaultRetryPolicy(), discardLogger())
	require.NoError(t, err)
	prompts := generation.MustLoadPrompts()
	renderer := pdf.NewRenderer()

	_, err = narrative.NewGenerator(nil, prompts, renderer, nil, nil)
	assert.ErrorIs(t, err, narrative.ErrNilClient)

	_, err = narrative.NewGenerator(client, nil, renderer, nil, nil)
	assert.ErrorIs(t, err, narrative.ErrNilPrompts)

	_, err = narrative.NewGenerator(client, prompts, nil, nil, nil)
	assert.ErrorIs(t, err, narrative.ErrNilRenderer)

	gen, err := narrative.NewGenerator(client, prompts, renderer, nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, gen)
}
