package annotation

import (
	"encoding/json"
	"strings"
)

// structuredForm parses the newer self-delimiting encoding:
//
//	[!KIND{"text":"...","ai":"pending"}]
//
// The braces hold a JSON object with at least "text"; AI annotations add
// "ai" plus optional "author", "alts" and "sel". The serializer escapes ']'
// inside JSON strings as ]; the parser brace-scans the literal (string-
// and escape-aware) so either spelling is accepted.
type structuredForm struct{}

type structuredRecord struct {
	Text   string   `json:"text"`
	AI     string   `json:"ai,omitempty"`
	Author string   `json:"author,omitempty"`
	Alts   []string `json:"alts,omitempty"`
	Sel    *int     `json:"sel,omitempty"`
	Prio   *float64 `json:"prio,omitempty"`
	Note   string   `json:"note,omitempty"`
}

func (structuredForm) match(content string, start int) (Annotation, int, bool) {
	body, end, ok := structuredSpan(content, start)
	if !ok {
		return Annotation{}, 0, false
	}
	kind, _, _ := matchKind(content, start+2)

	var rec structuredRecord
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return Annotation{}, 0, false
	}
	if rec.Text == "" {
		return Annotation{}, 0, false
	}

	a := Annotation{
		Kind:         kind,
		SelectedText: strings.TrimSpace(rec.Text),
		Author:       rec.Author,
		Comment:      rec.Note,
		Form:         FormStructured,
		Start:        start,
		End:          end,
	}

	switch rec.AI {
	case "":
		if rec.Prio != nil {
			a.Priority = NumericPriority(*rec.Prio)
		} else {
			a.Priority = Priority{Class: Untriaged}
		}
	case "pending":
		a.Priority = Priority{Class: AIPending}
	case "done":
		if len(rec.Alts) == 0 {
			return Annotation{}, 0, false
		}
		sel := 0
		if rec.Sel != nil {
			sel = *rec.Sel
		}
		if sel < 0 || sel > len(rec.Alts) {
			return Annotation{}, 0, false
		}
		a.Priority = Priority{Class: AIDone}
		a.Alternatives = rec.Alts
		a.Selected = sel
	default:
		return Annotation{}, 0, false
	}

	return a, end, true
}

// span lets the scanner jump past a structurally complete but semantically
// invalid literal, as dropped candidates must not be rescanned.
func (structuredForm) span(content string, start int) int {
	if _, end, ok := structuredSpan(content, start); ok {
		return end - start
	}
	return 0
}

// structuredSpan locates the JSON body and the closing "}]" for a candidate
// whose "[!" sits at start. It tracks brace depth and JSON string state, so
// braces and brackets inside string values do not terminate the literal.
func structuredSpan(content string, start int) (body string, end int, ok bool) {
	_, pos, matched := matchKind(content, start+2)
	if !matched || pos >= len(content) || content[pos] != '{' {
		return "", 0, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := pos; i < len(content); i++ {
		c := content[i]
		switch {
		case escaped:
			escaped = false
		case inString:
			if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
		case c == '"':
			inString = true
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				if i+1 < len(content) && content[i+1] == ']' {
					return content[pos : i+1], i + 2, true
				}
				return "", 0, false
			}
		}
	}
	return "", 0, false
}

func serializeStructured(a Annotation) string {
	rec := structuredRecord{
		Text:   a.SelectedText,
		Author: a.Author,
		Note:   a.Comment,
	}
	switch a.Priority.Class {
	case Numeric:
		v := a.Priority.Value
		rec.Prio = &v
	case AIPending:
		rec.AI = "pending"
	case AIDone:
		rec.AI = "done"
		rec.Alts = a.Alternatives
		sel := a.Selected
		rec.Sel = &sel
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		// A record of plain strings and numbers cannot fail to marshal.
		return ""
	}
	return "[!" + string(a.Kind) + escapeBrackets(string(raw)) + "]"
}

// escapeBrackets rewrites ']' inside JSON string values as the JSON
// escape ] so the serialized literal carries no raw ']' other than
// JSON array delimiters. json.Unmarshal decodes it back transparently.
func escapeBrackets(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case inString && c == '"':
			inString = false
		case !inString && c == '"':
			inString = true
		case inString && c == ']':
			b.WriteString(`\u005d`)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
