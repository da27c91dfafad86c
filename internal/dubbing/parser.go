package dubbing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
)

type transcriptDoc struct {
	Segments []rawSegment   `json:"segments"`
	Error    json.RawMessage `json:"error,omitempty"`
}

type rawSegment struct {
	Start          flexSeconds `json:"start"`
	End            flexSeconds `json:"end"`
	OriginalText   string      `json:"original_text"`
	TranslatedText string      `json:"translated_text"`
	Emotion        string      `json:"emotion"`
}

// flexSeconds accepts a number, a numeric string or a clock string such as
// "01:02.5". Unusable values leave ok false instead of failing the document.
type flexSeconds struct {
	v  float64
	ok bool
}

func (f *flexSeconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		f.v, f.ok = parseClock(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return nil
	}
	f.v, f.ok = n, true
	return nil
}

func parseClock(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "s"))
	s = strings.ReplaceAll(s, ",", ".")
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	total := 0.0
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, false
		}
		total = total*60 + v
	}
	return total, true
}

// modelError is returned when the model answered with an error object instead of a transcript.
type modelError struct {
	detail string
}

func (e *modelError) Error() string {
	return "model reported an error: " + e.detail
}

// ParseTranscript turns raw model output into segments. Code fences are
// stripped, the text is parsed strictly, and on failure RepairJSON is applied
// and the strict parse retried once. An empty segment list is a successful parse.
func ParseTranscript(raw string) ([]Segment, error) {
	cleaned := stripCodeFences(raw)

	segments, err := decodeTranscript(cleaned)
	if err == nil {
		return segments, nil
	}

	var me *modelError
	if !errors.As(err, &me) {
		segments, err = decodeTranscript(RepairJSON(cleaned))
		if err == nil {
			log.Printf("[Dubbing] Model output needed repair before parsing")
			return segments, nil
		}
	}

	return nil, &Error{
		Kind:       ErrMalformedModelOutput,
		Stage:      StageParse,
		Message:    "could not parse transcription response",
		Diagnostic: raw,
		Err:        err,
	}
}

func decodeTranscript(text string) ([]Segment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty response")
	}

	var items []rawSegment
	if strings.HasPrefix(text, "[") {
		if err := json.Unmarshal([]byte(text), &items); err != nil {
			return nil, fmt.Errorf("failed to decode segment list: %w", err)
		}
	} else {
		var doc transcriptDoc
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode transcript: %w", err)
		}
		if detail := errorDetail(doc.Error); detail != "" {
			return nil, &modelError{detail: detail}
		}
		items = doc.Segments
	}

	return normalizeSegments(items), nil
}

func errorDetail(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte("false")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// normalizeSegments drops entries without usable timing or translation.
func normalizeSegments(items []rawSegment) []Segment {
	segments := make([]Segment, 0, len(items))
	for i, item := range items {
		if !item.Start.ok || !item.End.ok {
			log.Printf("[Dubbing] Dropping segment %d: missing or unreadable timestamps", i)
			continue
		}
		seg := Segment{
			Start:          item.Start.v,
			End:            item.End.v,
			OriginalText:   strings.TrimSpace(item.OriginalText),
			TranslatedText: strings.TrimSpace(item.TranslatedText),
			Emotion:        strings.ToLower(strings.TrimSpace(item.Emotion)),
		}
		if !seg.Valid() {
			log.Printf("[Dubbing] Dropping segment %d: invalid range %.3f-%.3f", i, seg.Start, seg.End)
			continue
		}
		if seg.TranslatedText == "" {
			log.Printf("[Dubbing] Dropping segment %d: empty translation", i)
			continue
		}
		segments = append(segments, seg)
	}
	return segments
}

// stripCodeFences removes a surrounding ```json ... ``` block if present.
func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	start := strings.Index(trimmed, "```")
	if start < 0 {
		return trimmed
	}
	body := trimmed[start+3:]
	// Drop the language tag on the opening fence line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || !strings.ContainsAny(tag, "{[") {
			body = body[nl+1:]
		}
	}
	if end := strings.LastIndex(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// RepairJSON rewrites near-JSON produced by language models into JSON.
// It trims prose around the outermost object or array, converts single-quoted
// strings, maps True/False/None spellings to JSON literals, drops trailing
// commas before a closing bracket and escapes raw control characters inside strings.
func RepairJSON(s string) string {
	s = trimToJSON(s)

	var b strings.Builder
	b.Grow(len(s) + 16)

	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]

		if quote != 0 {
			switch {
			case c == '\\':
				if i+1 >= len(s) {
					b.WriteString(`\\`)
					continue
				}
				next := s[i+1]
				i++
				if quote == '\'' && next == '\'' {
					b.WriteByte('\'')
					continue
				}
				b.WriteByte('\\')
				b.WriteByte(next)
			case c == quote:
				b.WriteByte('"')
				quote = 0
			case c == '"':
				b.WriteString(`\"`)
			case c < 0x20:
				writeControlEscape(&b, c)
			default:
				b.WriteByte(c)
			}
			continue
		}

		switch {
		case c == '"' || c == '\'':
			quote = c
			b.WriteByte('"')
		case c == ',':
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
			b.WriteByte(c)
		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentChar(s[j]) {
				j++
			}
			word := s[i:j]
			switch strings.ToLower(word) {
			case "true":
				b.WriteString("true")
			case "false":
				b.WriteString("false")
			case "null", "none", "nil":
				b.WriteString("null")
			default:
				b.WriteString(word)
			}
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}

	// Unterminated string at end of input.
	if quote != 0 {
		b.WriteByte('"')
	}
	return b.String()
}

func trimToJSON(s string) string {
	start := strings.IndexAny(s, "{[")
	end := strings.LastIndexAny(s, "}]")
	if start < 0 || end < start {
		return strings.TrimSpace(s)
	}
	return s[start : end+1]
}

func writeControlEscape(b *strings.Builder, c byte) {
	switch c {
	case '\n':
		b.WriteString(`\n`)
	case '\r':
		b.WriteString(`\r`)
	case '\t':
		b.WriteString(`\t`)
	case '\b':
		b.WriteString(`\b`)
	case '\f':
		b.WriteString(`\f`)
	default:
		fmt.Fprintf(b, `\u%04x`, c)
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\r' || c == '\t'
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
