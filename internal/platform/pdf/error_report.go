package pdf

import (
	"time"

	"github.com/phrazzld/gradeflow/internal/domain"
)

// ErrorReport is the content of a halted student's report.
type ErrorReport struct {
	StudentName string
	Envelope    domain.ErrorEnvelope

	// Completed lists the stages that finished before the failure.
	Completed []domain.Stage
}

// ErrorReport renders a labeled "Pipeline error" banner followed by the
// stages completed before the failure.
func (r *Renderer) ErrorReport(meta Meta, report ErrorReport) ([]byte, error) {
	p := r.newPage(meta)
	env := report.Envelope

	p.pdf.SetDrawColor(192, 57, 43)
	p.pdf.SetFillColor(253, 237, 236)
	p.pdf.SetTextColor(146, 43, 33)
	p.pdf.SetFont(fontSans, "B", 13)
	p.pdf.CellFormat(0, 9, p.tr("Pipeline error"), "LTR", 1, "L", true, 0, "")

	rows := [][2]string{
		{"Kind", string(env.Kind)},
		{"Stage", string(env.Stage)},
		{"Severity", string(env.Severity)},
		{"When", env.Timestamp.UTC().Format(time.RFC3339)},
	}
	for _, row := range rows {
		p.pdf.SetFont(fontSans, "B", 10)
		p.pdf.CellFormat(25, 6, p.tr(row[0]+":"), "L", 0, "L", true, 0, "")
		p.pdf.SetFont(fontSans, "", 10)
		p.pdf.CellFormat(0, 6, p.tr(row[1]), "R", 1, "L", true, 0, "")
	}
	p.pdf.SetFont(fontSans, "B", 10)
	p.pdf.CellFormat(0, 6, p.tr("Message:"), "LR", 1, "L", true, 0, "")
	p.pdf.SetFont(fontSans, "", 10)
	p.pdf.MultiCell(0, 5, p.tr(env.Message), "LRB", "L", true)
	p.pdf.Ln(6)

	blocks := []Block{{Kind: BlockHeading, Level: 2, Spans: []Span{{Text: "Completed stages"}}}}
	if len(report.Completed) == 0 {
		blocks = append(blocks, Block{Kind: BlockParagraph, Spans: []Span{{Text: "No stage completed before the failure.", Italic: true}}})
	}
	for _, st := range report.Completed {
		blocks = append(blocks, Block{Kind: BlockBullet, Spans: []Span{{Text: string(st)}}})
	}
	p.blocks(blocks)

	return p.output()
}
