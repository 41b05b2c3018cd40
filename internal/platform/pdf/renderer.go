package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
)

// ErrRender is returned when fpdf fails to lay out or serialize a document.
var ErrRender = errors.New("pdf render failed")

const (
	fontSans  = "Helvetica"
	fontMono  = "Courier"
	lineH     = 5.5
	margin    = 20.0
	bulletGap = 4.0
	indentW   = 6.0
)

// Meta is the document information dictionary and page header.
type Meta struct {
	Title    string
	Subtitle string
	Author   string
	Subject  string
}

// Renderer draws blocks onto A4 pages.
type Renderer struct {
	compress bool
	now      func() time.Time
}

// Option customizes a Renderer.
type Option func(*Renderer)

// WithoutCompression disables stream compression so content can be
// inspected in tests.
func WithoutCompression() Option {
	return func(r *Renderer) { r.compress = false }
}

// WithClock fixes the creation date written into documents.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) { r.now = now }
}

// NewRenderer creates a renderer.
func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{compress: true, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// page wraps one fpdf document together with its code page translator.
type page struct {
	pdf *fpdf.Fpdf
	tr  func(string) string
}

func (r *Renderer) newPage(meta Meta) *page {
	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetCompression(r.compress)
	doc.SetTitle(meta.Title, true)
	doc.SetAuthor(meta.Author, true)
	doc.SetSubject(meta.Subject, true)
	doc.SetCreator("gradeflow", true)
	doc.SetCreationDate(r.now())
	doc.SetMargins(margin, margin, margin)
	doc.SetAutoPageBreak(true, margin)
	doc.AliasNbPages("")

	p := &page{pdf: doc, tr: doc.UnicodeTranslatorFromDescriptor("")}
	doc.SetFooterFunc(func() {
		doc.SetY(-15)
		doc.SetFont(fontSans, "I", 8)
		doc.SetTextColor(128, 128, 128)
		doc.CellFormat(0, 10, fmt.Sprintf("%d/{nb}", doc.PageNo()), "", 0, "C", false, 0, "")
	})
	doc.AddPage()

	if meta.Title != "" {
		doc.SetFont(fontSans, "B", 16)
		doc.SetTextColor(0, 0, 0)
		doc.MultiCell(0, 8, p.tr(meta.Title), "", "L", false)
	}
	if meta.Subtitle != "" {
		doc.SetFont(fontSans, "", 10)
		doc.SetTextColor(90, 90, 90)
		doc.MultiCell(0, 5, p.tr(meta.Subtitle), "", "L", false)
	}
	if meta.Title != "" || meta.Subtitle != "" {
		doc.Ln(4)
	}
	return p
}

// Markdown renders Markdown prose.
func (r *Renderer) Markdown(meta Meta, markdown string) ([]byte, error) {
	p := r.newPage(meta)
	p.blocks(ParseMarkdown(markdown))
	return p.output()
}

// Blocks renders pre-built blocks.
func (r *Renderer) Blocks(meta Meta, blocks []Block) ([]byte, error) {
	p := r.newPage(meta)
	p.blocks(blocks)
	return p.output()
}

func (p *page) output() ([]byte, error) {
	if err := p.pdf.Error(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	var buf bytes.Buffer
	if err := p.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

func (p *page) blocks(blocks []Block) {
	for _, b := range blocks {
		switch b.Kind {
		case BlockHeading:
			p.heading(b)
		case BlockBullet:
			p.listItem(b, "•")
		case BlockNumbered:
			p.listItem(b, fmt.Sprintf("%d.", b.Number))
		case BlockCode:
			p.code(b)
		case BlockRule:
			p.rule()
		case BlockQuote:
			p.indented(b.Level, func() {
				p.pdf.SetTextColor(90, 90, 90)
				p.spans(b.Spans, "I")
			})
		default:
			p.indented(b.Level, func() {
				p.pdf.SetTextColor(0, 0, 0)
				p.spans(b.Spans, "")
			})
		}
	}
}

func (p *page) heading(b Block) {
	size := 11.5
	switch b.Level {
	case 1:
		size = 15
	case 2:
		size = 13
	}
	p.pdf.Ln(2)
	p.pdf.SetFont(fontSans, "B", size)
	p.pdf.SetTextColor(20, 40, 80)
	p.pdf.MultiCell(0, size*0.5, p.tr(b.PlainText()), "", "L", false)
	p.pdf.Ln(1.5)
}

func (p *page) listItem(b Block, marker string) {
	left := margin + float64(b.Level)*indentW
	p.pdf.SetFont(fontSans, "", 10.5)
	p.pdf.SetTextColor(0, 0, 0)
	p.pdf.SetX(left)
	p.pdf.Write(lineH, p.tr(marker))

	p.pdf.SetLeftMargin(left + bulletGap + 1)
	p.pdf.SetX(left + bulletGap + 1)
	p.spans(b.Spans, "")
	p.pdf.SetLeftMargin(margin)
	p.pdf.SetX(margin)
}

func (p *page) indented(level int, draw func()) {
	left := margin + float64(level)*indentW
	p.pdf.SetLeftMargin(left)
	p.pdf.SetX(left)
	draw()
	p.pdf.SetLeftMargin(margin)
	p.pdf.SetX(margin)
	p.pdf.Ln(1.5)
}

func (p *page) code(b Block) {
	p.pdf.SetFont(fontMono, "", 9)
	p.pdf.SetTextColor(40, 40, 40)
	p.pdf.SetFillColor(242, 242, 242)
	p.pdf.MultiCell(0, 4.5, p.tr(b.PlainText()), "", "L", true)
	p.pdf.Ln(2)
}

func (p *page) rule() {
	w, _ := p.pdf.GetPageSize()
	y := p.pdf.GetY() + 2
	p.pdf.SetDrawColor(200, 200, 200)
	p.pdf.Line(margin, y, w-margin, y)
	p.pdf.Ln(5)
}

// spans writes inline runs as flowing text and ends the line.
func (p *page) spans(spans []Span, baseStyle string) {
	for _, s := range spans {
		family, style, size := fontSans, baseStyle, 10.5
		if s.Bold {
			style += "B"
		}
		if s.Italic && baseStyle != "I" {
			style += "I"
		}
		if s.Code {
			family, style, size = fontMono, "", 9.5
		}
		p.pdf.SetFont(family, style, size)
		p.pdf.Write(lineH, p.tr(s.Text))
	}
	p.pdf.Ln(lineH)
}
