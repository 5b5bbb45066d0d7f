// Package annotation implements the inline annotation micro-language embedded
// in chunk prose. Two textual encodings are supported: the legacy
// colon-delimited form [!KIND@author:text:priority:payload] and the structured
// form [!KIND{...}] carrying a JSON record. Parsing recomputes offsets on every
// call; offsets are only valid against the exact content string they came from.
package annotation

import "strings"

// Kind classifies an annotation.
type Kind string

const (
	KindTodo Kind = "TODO"
	KindNote Kind = "NOTE"
	KindFix  Kind = "FIX"
)

// kinds in the order the scanner probes them.
var kinds = []Kind{KindTodo, KindNote, KindFix}

// Valid reports whether k is one of the supported kinds.
func (k Kind) Valid() bool {
	return k == KindTodo || k == KindNote || k == KindFix
}

// PriorityClass discriminates the priority union. The legacy format overloads
// one field as either a number or an AI-state token; here the cases are
// explicit.
type PriorityClass int

const (
	// Untriaged means no priority was assigned.
	Untriaged PriorityClass = iota
	// Numeric means a signed decimal priority; lower sorts first.
	Numeric
	// AIPending marks an annotation awaiting an AI response.
	AIPending
	// AIDone marks an annotation whose alternatives have arrived.
	AIDone
)

// Priority is the tagged union of the priority field. Value is meaningful
// only when Class is Numeric.
type Priority struct {
	Class PriorityClass
	Value float64
}

// NumericPriority builds a numeric priority.
func NumericPriority(v float64) Priority {
	return Priority{Class: Numeric, Value: v}
}

// Form identifies which grammar encoding an annotation uses.
type Form int

const (
	FormLegacy Form = iota
	FormStructured
)

// Annotation is the parsed view of one inline annotation. Start and End are
// offsets of the full markup span in the content it was parsed from; they are
// never persisted.
type Annotation struct {
	Kind         Kind
	SelectedText string
	Priority     Priority
	Comment      string
	Author       string
	Alternatives []string
	Selected     int
	Form         Form
	Start        int
	End          int
	ChunkID      string
}

// Markup returns the exact textual span of the annotation within content.
// content must be the string the annotation was parsed from.
func (a Annotation) Markup(content string) string {
	if a.Start < 0 || a.End > len(content) || a.Start >= a.End {
		return ""
	}
	return content[a.Start:a.End]
}

// form is one grammar strategy. Implementations try to match a single
// annotation whose opening "[!" sits at start; they return the parsed
// annotation and the index one past its closing bracket.
type form interface {
	match(content string, start int) (Annotation, int, bool)
	// span reports how far the scanner should skip when the candidate at
	// start looks like this form but is malformed. Zero means no opinion.
	span(content string, start int) int
}

// forms are tried in order at each "[!" candidate.
var forms = []form{structuredForm{}, legacyForm{}}

// ParseAll scans content left to right and returns every valid annotation of
// either form, non-overlapping, earliest match first. Malformed candidates are
// skipped and scanning continues past them.
func ParseAll(content string) []Annotation {
	var out []Annotation
	pos := 0
	for {
		idx := strings.Index(content[pos:], "[!")
		if idx < 0 {
			return out
		}
		start := pos + idx
		matched := false
		for _, f := range forms {
			if a, end, ok := f.match(content, start); ok {
				out = append(out, a)
				pos = end
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		// Malformed or not an annotation at all. If a form recognized the
		// shape but rejected the body, skip its whole span so scanning
		// resumes after the candidate.
		skip := 0
		for _, f := range forms {
			if s := f.span(content, start); s > skip {
				skip = s
			}
		}
		if skip == 0 {
			skip = 2
		}
		pos = start + skip
	}
}

// Serialize renders the annotation in its Form encoding. The inverse of
// parsing: ParseAll(Serialize(a)) yields a again for any annotation whose
// selected text avoids the delimiter characters of the chosen form.
func Serialize(a Annotation) string {
	if a.Form == FormStructured {
		return serializeStructured(a)
	}
	return serializeLegacy(a)
}

// Strip replaces every valid annotation in content with its selected text,
// leaving all other characters untouched. Export paths run on stripped prose.
func Strip(content string) string {
	anns := ParseAll(content)
	if len(anns) == 0 {
		return content
	}
	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, a := range anns {
		b.WriteString(content[last:a.Start])
		b.WriteString(a.SelectedText)
		last = a.End
	}
	b.WriteString(content[last:])
	return b.String()
}

// ContainsMarkup reports whether s contains the opening sequence of either
// grammar form. Selections that already carry markup must be rejected before
// wrapping them in a new annotation; nesting produces unparseable text.
func ContainsMarkup(s string) bool {
	for _, k := range kinds {
		open := "[!" + string(k)
		from := 0
		for {
			idx := strings.Index(s[from:], open)
			if idx < 0 {
				break
			}
			rest := s[from+idx+len(open):]
			if rest != "" {
				switch rest[0] {
				case ':', '@', '{':
					return true
				}
			}
			from += idx + len(open)
		}
	}
	return false
}

// matchKind reads a kind keyword at content[start:], where start points just
// past "[!". Returns the kind and the index after it.
func matchKind(content string, start int) (Kind, int, bool) {
	for _, k := range kinds {
		if strings.HasPrefix(content[start:], string(k)) {
			return k, start + len(k), true
		}
	}
	return "", 0, false
}
