package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/phrazzld/gradeflow/internal/generation"
	"github.com/phrazzld/gradeflow/internal/platform/logger"
	"github.com/phrazzld/gradeflow/internal/platform/pdf"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MinClassReports is the fewest finished students a class report accepts.
const MinClassReports = 2

// ErrTooFewReports is returned when a class report has fewer than
// MinClassReports student reports.
var ErrTooFewReports = errors.New("not enough student reports for a class report")

// StudentReport is one finished student's material for a class report.
type StudentReport struct {
	StudentID string `json:"student_id"`
	Name      string `json:"name"`

	// Report is the decoded final report; Grading is optional.
	Report  any `json:"report"`
	Grading any `json:"grading,omitempty"`
}

// ClassInput is everything a class performance report is built from.
type ClassInput struct {
	ActivityID    string
	ActivityName  string
	Subject       string
	TotalStudents int
	Reports       []StudentReport

	// Excluded names the students left out for incomplete results.
	Excluded []string
	Model    string
}

// ClassReport synthesizes one PDF about the whole class. Like Generate, a
// failed AI call falls back to a structured rendering of the inputs.
func (g *Generator) ClassReport(ctx context.Context, in ClassInput) (*Output, error) {
	if len(in.Reports) < MinClassReports {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrTooFewReports, len(in.Reports), MinClassReports)
	}

	log := logger.FromContextOrDefault(ctx, g.logger).With("activity_id", in.ActivityID)

	promptID := generation.ClassReportPromptID
	out := &Output{PromptID: promptID}
	meta := classMeta(in)

	markdown, reason := g.classPass(ctx, in, promptID, out)
	if reason == "" {
		rendered, err := g.renderer.Markdown(meta, markdown)
		if err == nil {
			out.PDF = rendered
			out.Markdown = markdown
			log.DebugContext(ctx, "class report rendered", "bytes", len(rendered), "students", len(in.Reports))
			return out, nil
		}
		reason = fmt.Sprintf("markdown render failed: %v", err)
	}

	log.WarnContext(ctx, "class report pass failed, rendering structured output", "reason", reason)
	g.metrics.NarrativeFallback.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", promptID)))

	rendered, err := g.renderer.Structured(meta, classSummary(in))
	if err != nil {
		return nil, fmt.Errorf("rendering fallback class report: %w", err)
	}
	out.PDF = rendered
	out.Fallback = true
	out.FallbackReason = reason
	return out, nil
}

func (g *Generator) classPass(ctx context.Context, in ClassInput, promptID string, out *Output) (string, string) {
	reportsJSON, err := json.MarshalIndent(in.Reports, "", "  ")
	if err != nil {
		return "", fmt.Sprintf("encoding reports: %v", err)
	}

	return g.prose(ctx, promptID, in.Model, generation.PromptData{
		Subject:          in.Subject,
		ActivityName:     in.ActivityName,
		ReportsJSON:      string(reportsJSON),
		TotalStudents:    in.TotalStudents,
		IncludedStudents: len(in.Reports),
		ExcludedStudents: strings.Join(in.Excluded, ", "),
	}, out)
}

// classSummary is the fallback body: who was included and what each
// student's report says.
func classSummary(in ClassInput) map[string]any {
	students := make([]any, 0, len(in.Reports))
	for _, r := range in.Reports {
		entry := map[string]any{"name": r.Name, "report": r.Report}
		if r.Grading != nil {
			entry["grading"] = r.Grading
		}
		students = append(students, entry)
	}

	summary := map[string]any{
		"total_students":    in.TotalStudents,
		"included_students": len(in.Reports),
		"students":          students,
	}
	if len(in.Excluded) > 0 {
		summary["excluded_students"] = strings.Join(in.Excluded, ", ")
	}
	return summary
}

func classMeta(in ClassInput) pdf.Meta {
	parts := make([]string, 0, 2)
	for _, p := range []string{in.Subject, in.ActivityName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return pdf.Meta{
		Title:    "Class performance report",
		Subtitle: strings.Join(parts, " | "),
		Author:   "gradeflow",
		Subject:  generation.ClassReportPromptID,
	}
}
