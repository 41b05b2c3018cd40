package generation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/phrazzld/gradeflow/internal/domain"
)

// fencePattern captures the body of a Markdown fenced code block.
var fencePattern = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

// ParseError reports why a model response could not be used as JSON.
type ParseError struct {
	Kind domain.ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

// Unwrap returns the underlying decode error, if any.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParseJSON decodes a model response. It tries, in order, the raw text, the
// body of a fenced code block, and the first balanced {...} or [...] span.
// The decoded value is a map[string]any or []any; empty objects and arrays
// are rejected with KindEmptyJSON.
func ParseJSON(raw string) (any, error) {
	if raw == "" {
		return nil, &ParseError{Kind: domain.KindEmptyResponse}
	}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, &ParseError{Kind: domain.KindWhitespaceOnly}
	}

	candidates := []string{trimmed}
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil {
		candidates = append(candidates, m[1])
	}
	if span := firstJSONSpan(trimmed); span != "" {
		candidates = append(candidates, span)
	}

	var firstErr error
	for _, c := range candidates {
		v, err := decode(c)
		if err == nil {
			if isEmptyJSON(v) {
				return nil, &ParseError{Kind: domain.KindEmptyJSON}
			}
			return v, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}

	if looksTruncated(candidates) {
		return nil, &ParseError{Kind: domain.KindTruncatedJSON, Err: firstErr}
	}
	return nil, &ParseError{Kind: domain.KindInvalidJSON, Err: firstErr}
}

// ParseJSONObject is ParseJSON restricted to a top-level object.
func ParseJSONObject(raw string) (map[string]any, error) {
	v, err := ParseJSON(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ParseError{Kind: domain.KindInvalidJSON, Err: errors.New("expected a JSON object")}
	}
	return obj, nil
}

// LooksLikeJSON reports whether the whole text, or the body of a fenced
// block spanning it, is a JSON object or array. JSON quoted inside prose
// does not count.
func LooksLikeJSON(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if _, err := decode(trimmed); err == nil {
		return true
	}
	if m := fencePattern.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
		_, err := decode(m[1])
		return err == nil
	}
	return false
}

func decode(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("unexpected data after JSON value")
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return nil, errors.New("response is not a JSON object or array")
	}
}

func isEmptyJSON(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// firstJSONSpan returns the first balanced object or array in s, honoring
// string literals, or "" when none closes.
func firstJSONSpan(s string) string {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// looksTruncated reports whether a candidate opens a JSON value that the
// decoder ran out of input for.
func looksTruncated(candidates []string) bool {
	for _, c := range candidates {
		body := strings.TrimSpace(c)
		if i := strings.IndexAny(body, "{["); i >= 0 {
			body = body[i:]
		} else {
			continue
		}
		dec := json.NewDecoder(bytes.NewReader([]byte(body)))
		var v any
		err := dec.Decode(&v)
		if err == nil {
			continue
		}
		var syn *json.SyntaxError
		if errors.Is(err, io.ErrUnexpectedEOF) || (errors.As(err, &syn) && syn.Offset >= int64(len(body))) {
			return true
		}
	}
	return false
}
