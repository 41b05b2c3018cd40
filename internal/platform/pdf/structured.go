package pdf

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Structured renders decoded JSON (objects, arrays and scalars) as a
// readable outline: object keys become headings or labeled bullets and
// arrays become lists.
func (r *Renderer) Structured(meta Meta, data any) ([]byte, error) {
	return r.Blocks(meta, StructuredBlocks(data))
}

// StructuredBlocks lays out decoded JSON.
func StructuredBlocks(data any) []Block {
	return structuredValue(nil, data, 2, 0)
}

func structuredValue(blocks []Block, v any, heading, depth int) []Block {
	switch t := v.(type) {
	case map[string]any:
		for _, k := range sortedKeys(t) {
			blocks = structuredField(blocks, k, t[k], heading, depth)
		}
	case []any:
		for i, item := range t {
			if isScalar(item) {
				blocks = append(blocks, Block{Kind: BlockBullet, Level: depth, Spans: []Span{{Text: scalarText(item)}}})
				continue
			}
			blocks = append(blocks, Block{Kind: BlockNumbered, Level: depth, Number: i + 1, Spans: []Span{{Text: itemLabel(item), Bold: true}}})
			blocks = structuredValue(blocks, item, heading+1, depth+1)
		}
	default:
		blocks = append(blocks, Block{Kind: BlockParagraph, Level: depth, Spans: []Span{{Text: scalarText(t)}}})
	}
	return blocks
}

func structuredField(blocks []Block, key string, v any, heading, depth int) []Block {
	label := humanize(key)
	if isScalar(v) {
		return append(blocks, Block{Kind: BlockBullet, Level: depth, Spans: []Span{
			{Text: label + ": ", Bold: true},
			{Text: scalarText(v)},
		}})
	}
	if heading <= 4 && depth == 0 {
		blocks = append(blocks, Block{Kind: BlockHeading, Level: heading, Spans: []Span{{Text: label}}})
		return structuredValue(blocks, v, heading+1, depth)
	}
	blocks = append(blocks, Block{Kind: BlockBullet, Level: depth, Spans: []Span{{Text: label, Bold: true}}})
	return structuredValue(blocks, v, heading, depth+1)
}

// itemLabel picks a short caption for an object inside an array.
func itemLabel(v any) string {
	obj, ok := v.(map[string]any)
	if !ok {
		return "Item"
	}
	for _, k := range []string{"question_number", "number", "name", "title", "id"} {
		if val, ok := obj[k]; ok && isScalar(val) {
			return fmt.Sprintf("%s %s", humanize(k), scalarText(val))
		}
	}
	return "Item"
}

func isScalar(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	default:
		return true
	}
}

func scalarText(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case bool:
		if t {
			return "yes"
		}
		return "no"
	case json.Number:
		return t.String()
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%.2f", t), "0"), ".")
	default:
		return fmt.Sprint(t)
	}
}

// humanize turns a JSON key such as total_score into "Total Score".
func humanize(key string) string {
	words := strings.Fields(strings.ReplaceAll(key, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
