package pdf

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// BlockKind is the layout role of a block.
type BlockKind int

const (
	BlockParagraph BlockKind = iota
	BlockHeading
	BlockBullet
	BlockNumbered
	BlockCode
	BlockRule
	BlockQuote
)

// Span is a run of inline text sharing one style.
type Span struct {
	Text   string
	Bold   bool
	Italic bool
	Code   bool
}

// Block is one laid-out unit of a document.
type Block struct {
	Kind BlockKind

	// Level is the heading level for headings and the nesting depth
	// (starting at 0) for list items and their continuations.
	Level  int
	Number int
	Spans  []Span
}

// PlainText concatenates the block's spans.
func (b Block) PlainText() string {
	var sb strings.Builder
	for _, s := range b.Spans {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

var markdownParser = goldmark.New().Parser()

// ParseMarkdown converts CommonMark source into layout blocks.
func ParseMarkdown(src string) []Block {
	source := []byte(src)
	doc := markdownParser.Parse(text.NewReader(source))

	var blocks []Block
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		blocks = appendBlocks(blocks, n, source, 0, false)
	}
	return blocks
}

func appendBlocks(blocks []Block, n ast.Node, src []byte, depth int, quoted bool) []Block {
	switch v := n.(type) {
	case *ast.Heading:
		return append(blocks, Block{Kind: BlockHeading, Level: v.Level, Spans: inlineSpans(v, src)})
	case *ast.Paragraph, *ast.TextBlock:
		kind := BlockParagraph
		if quoted {
			kind = BlockQuote
		}
		return append(blocks, Block{Kind: kind, Level: depth, Spans: inlineSpans(n, src)})
	case *ast.List:
		number := v.Start
		for item := v.FirstChild(); item != nil; item = item.NextSibling() {
			blocks = appendListItem(blocks, item, src, depth, v.IsOrdered(), number)
			number++
		}
		return blocks
	case *ast.FencedCodeBlock:
		return append(blocks, codeBlock(v.Lines(), src))
	case *ast.CodeBlock:
		return append(blocks, codeBlock(v.Lines(), src))
	case *ast.ThematicBreak:
		return append(blocks, Block{Kind: BlockRule})
	case *ast.Blockquote:
		for c := v.FirstChild(); c != nil; c = c.NextSibling() {
			blocks = appendBlocks(blocks, c, src, depth, true)
		}
		return blocks
	case *ast.HTMLBlock:
		return blocks
	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			blocks = appendBlocks(blocks, c, src, depth, quoted)
		}
		return blocks
	}
}

func appendListItem(blocks []Block, item ast.Node, src []byte, depth int, ordered bool, number int) []Block {
	first := true
	for c := item.FirstChild(); c != nil; c = c.NextSibling() {
		switch c.(type) {
		case *ast.Paragraph, *ast.TextBlock:
			b := Block{Kind: BlockParagraph, Level: depth + 1, Spans: inlineSpans(c, src)}
			if first {
				b.Kind = BlockBullet
				b.Level = depth
				if ordered {
					b.Kind = BlockNumbered
					b.Number = number
				}
				first = false
			}
			blocks = append(blocks, b)
		case *ast.List:
			blocks = appendBlocks(blocks, c, src, depth+1, false)
		default:
			blocks = appendBlocks(blocks, c, src, depth+1, false)
		}
	}
	return blocks
}

func codeBlock(lines *text.Segments, src []byte) Block {
	var sb strings.Builder
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
	return Block{Kind: BlockCode, Spans: []Span{{Text: strings.TrimRight(sb.String(), "\n"), Code: true}}}
}

func inlineSpans(n ast.Node, src []byte) []Span {
	var spans []Span
	add := func(s string, style Span) {
		if s == "" {
			return
		}
		if last := len(spans) - 1; last >= 0 && sameStyle(spans[last], style) {
			spans[last].Text += s
			return
		}
		style.Text = s
		spans = append(spans, style)
	}

	var walk func(n ast.Node, style Span)
	walk = func(n ast.Node, style Span) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch v := c.(type) {
			case *ast.Text:
				s := string(v.Segment.Value(src))
				switch {
				case v.HardLineBreak():
					s += "\n"
				case v.SoftLineBreak():
					s += " "
				}
				add(s, style)
			case *ast.String:
				add(string(v.Value), style)
			case *ast.Emphasis:
				inner := style
				if v.Level >= 2 {
					inner.Bold = true
				} else {
					inner.Italic = true
				}
				walk(v, inner)
			case *ast.CodeSpan:
				inner := style
				inner.Code = true
				walk(v, inner)
			case *ast.AutoLink:
				add(string(v.URL(src)), style)
			case *ast.RawHTML:
				// inline HTML has no PDF rendering
			default:
				walk(c, style)
			}
		}
	}
	walk(n, Span{})

	if last := len(spans) - 1; last >= 0 {
		spans[last].Text = strings.TrimRight(spans[last].Text, " ")
	}
	return spans
}

func sameStyle(a, b Span) bool {
	return a.Bold == b.Bold && a.Italic == b.Italic && a.Code == b.Code
}
