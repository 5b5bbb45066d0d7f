package revision

import (
	"regexp"
	"strings"
)

// MaxAlternatives bounds how many candidate rewrites one annotation carries.
const MaxAlternatives = 3

var enumPrefix = regexp.MustCompile(`^(\d+[.):]|[-*•])\s*`)

// SplitAlternatives turns a raw AI response into candidate replacements:
// one per line, trimmed, blanks dropped, leading enumeration markers like
// "1." or "-" stripped, capped at MaxAlternatives.
func SplitAlternatives(raw string) []string {
	out := make([]string, 0, MaxAlternatives)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(enumPrefix.ReplaceAllString(strings.TrimSpace(line), ""))
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == MaxAlternatives {
			break
		}
	}
	return out
}
