package annotation

import (
	"strconv"
	"strings"
)

// legacyForm parses the original colon-delimited encoding:
//
//	[!KIND:selected:priority:payload]
//	[!KIND@author:selected:priority:payload]
//
// The priority field is empty, a signed decimal, or one of the reserved
// state tokens "AI" / "AI-DONE". The payload is a free comment, except for
// AI-DONE where it is the encoded done-record (see codec.go). Selected text
// must not contain ':' or ']'; the payload may contain ':' but not ']'.
type legacyForm struct{}

func (legacyForm) match(content string, start int) (Annotation, int, bool) {
	kind, pos, ok := matchKind(content, start+2)
	if !ok {
		return Annotation{}, 0, false
	}

	author := ""
	if pos < len(content) && content[pos] == '@' {
		colon := strings.IndexByte(content[pos:], ':')
		if colon < 0 {
			return Annotation{}, 0, false
		}
		author = content[pos+1 : pos+colon]
		if strings.ContainsAny(author, "]") {
			return Annotation{}, 0, false
		}
		pos += colon
	}
	if pos >= len(content) || content[pos] != ':' {
		return Annotation{}, 0, false
	}

	close := strings.IndexByte(content[pos:], ']')
	if close < 0 {
		return Annotation{}, 0, false
	}
	end := pos + close + 1
	inner := content[pos+1 : end-1]

	fields := strings.SplitN(inner, ":", 3)
	if len(fields) < 3 {
		return Annotation{}, 0, false
	}
	selected, prioToken, payload := fields[0], fields[1], fields[2]

	a := Annotation{
		Kind:         kind,
		SelectedText: strings.TrimSpace(selected),
		Author:       author,
		Form:         FormLegacy,
		Start:        start,
		End:          end,
	}

	switch prioToken {
	case "":
		a.Priority = Priority{Class: Untriaged}
		a.Comment = payload
	case "AI":
		a.Priority = Priority{Class: AIPending}
		a.Comment = payload
	case "AI-DONE":
		alts, sel, _, err := decodeDonePayload(payload)
		if err != nil || len(alts) == 0 {
			// Undecodable done-record: drop the candidate entirely.
			return Annotation{}, 0, false
		}
		if sel < 0 || sel > len(alts) {
			return Annotation{}, 0, false
		}
		a.Priority = Priority{Class: AIDone}
		a.Alternatives = alts
		a.Selected = sel
	default:
		if v, err := strconv.ParseFloat(prioToken, 64); err == nil {
			a.Priority = NumericPriority(v)
		} else {
			// Non-numeric junk degrades to untriaged; the annotation is
			// still returned.
			a.Priority = Priority{Class: Untriaged}
		}
		a.Comment = payload
	}

	return a, end, true
}

func (legacyForm) span(content string, start int) int {
	// A rejected legacy candidate may legitimately contain another
	// annotation before its first ']', so the scanner is not told to jump;
	// it resumes at the next "[!" on its own.
	return 0
}

func serializeLegacy(a Annotation) string {
	var b strings.Builder
	b.WriteString("[!")
	b.WriteString(string(a.Kind))
	if a.Author != "" {
		b.WriteByte('@')
		b.WriteString(a.Author)
	}
	b.WriteByte(':')
	b.WriteString(a.SelectedText)
	b.WriteByte(':')
	switch a.Priority.Class {
	case Numeric:
		b.WriteString(strconv.FormatFloat(a.Priority.Value, 'f', -1, 64))
	case AIPending:
		b.WriteString("AI")
	case AIDone:
		b.WriteString("AI-DONE")
	}
	b.WriteByte(':')
	if a.Priority.Class == AIDone {
		b.WriteString(encodeDonePayload(a.Alternatives, a.Selected))
	} else {
		b.WriteString(a.Comment)
	}
	b.WriteByte(']')
	return b.String()
}
