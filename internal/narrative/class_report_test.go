package narrative_test

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/mocks"
	"github.com/phrazzld/gradeflow/internal/narrative"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classInput() narrative.ClassInput {
	return narrative.ClassInput{
		ActivityID:    "act-1",
		ActivityName:  "Midterm",
		Subject:       "Physics",
		TotalStudents: 3,
		Model:         "report-model",
		Excluded:      []string{"Carla"},
		Reports: []narrative.StudentReport{
			{StudentID: "stu-1", Name: "Ana", Report: map[string]any{"summary": "Solid on dynamics."}},
			{StudentID: "stu-2", Name: "Bruno", Report: map[string]any{"summary": "Unit slips."}},
		},
	}
}

func TestClassReport_RendersMarkdown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, mocks.NewMockProviderWithContent("## Class Overview\n\nThe class handled dynamics well."))

	out, err := f.gen.ClassReport(context.Background(), classInput())
	require.NoError(t, err)

	assert.False(t, out.Fallback)
	assert.Equal(t, generation.ClassReportPromptID, out.PromptID)
	assert.True(t, bytes.HasPrefix(out.PDF, []byte("%PDF-")))
	assert.True(t, bytes.Contains(out.PDF, []byte("Class Overview")))

	reqs := f.provider.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, generation.ClassReportPromptID, reqs[0].PromptID)
	assert.Equal(t, "report-model", reqs[0].Model)
	assert.Contains(t, reqs[0].Prompt, "2 of 3")
	assert.Contains(t, reqs[0].Prompt, "Carla")
	assert.Contains(t, reqs[0].Prompt, "Solid on dynamics.")
	assert.Contains(t, reqs[0].Prompt, "Bruno")
}

func TestClassReport_Fallback(t *testing.T) {
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
			name:     "json instead of prose",
			provider: mocks.NewMockProviderWithContent(`{"overview": "fine"}`),
			reason:   "JSON instead of prose",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, tt.provider)

			out, err := f.gen.ClassReport(context.Background(), classInput())
			require.NoError(t, err)

			assert.True(t, out.Fallback)
			assert.Contains(t, out.FallbackReason, tt.reason)
			assert.True(t, bytes.HasPrefix(out.PDF, []byte("%PDF-")))
			assert.True(t, bytes.Contains(out.PDF, []byte("Total Students")))
			assert.Equal(t, int64(1), f.fallbacks(t))
		})
	}
}

func TestClassReport_TooFewReports(t *testing.T) {
	t.Parallel()

	f := newFixture(t, mocks.NewMockProviderWithContent("prose"))
	in := classInput()
	in.Reports = in.Reports[:1]

	_, err := f.gen.ClassReport(context.Background(), in)
	assert.ErrorIs(t, err, narrative.ErrTooFewReports)
	assert.Equal(t, 0, f.provider.Calls())
}
