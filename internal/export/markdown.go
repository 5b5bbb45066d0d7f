package export

import (
	"regexp"
	"sort"
	"strings"

	"github.com/vipenzo/tramando-sub001/internal/annotation"
	"github.com/vipenzo/tramando-sub001/internal/trmd"
)

var aspectRefRe = regexp.MustCompile(`[ \t]*\[@[^\]\s]+\]`)
var multiSpaceRe = regexp.MustCompile(`(\S) {2,}`)
var spaceBeforePunctRe = regexp.MustCompile(` +([.,;:!?])`)

// CleanProse strips annotation markup (keeping each annotation's selected
// text) and removes aspect references. This is the only prose readers see.
func CleanProse(content string) string {
	out := annotation.Strip(content)
	// A ref is removed together with the whitespace that introduced it, so
	// "parola [@a]." comes out as "parola." and not "parola .".
	out = aspectRefRe.ReplaceAllString(out, "")
	out = multiSpaceRe.ReplaceAllString(out, "$1 ")
	out = spaceBeforePunctRe.ReplaceAllString(out, "$1")
	return strings.TrimRight(out, " ")
}

// BuildMarkdown renders the chunk tree as a markdown manuscript: the title
// as top-level heading, chunk titles as nested headings, cleaned prose
// below each.
func BuildMarkdown(meta trmd.Meta, chunks []trmd.Chunk) string {
	var b strings.Builder
	b.WriteString("# ")
	b.WriteString(meta.Title)
	b.WriteString("\n")
	if meta.Author != "" {
		b.WriteString("\n*")
		b.WriteString(meta.Author)
		b.WriteString("*\n")
	}

	byParent := make(map[string][]trmd.Chunk)
	for _, c := range chunks {
		byParent[c.ParentID] = append(byParent[c.ParentID], c)
	}
	for parent := range byParent {
		siblings := byParent[parent]
		sort.Slice(siblings, func(i, j int) bool {
			if siblings[i].Position != siblings[j].Position {
				return siblings[i].Position < siblings[j].Position
			}
			return siblings[i].ID < siblings[j].ID
		})
	}

	var walk func(parentID string, depth int)
	walk = func(parentID string, depth int) {
		for _, c := range byParent[parentID] {
			level := depth + 2
			if level > 6 {
				level = 6
			}
			if c.Title != "" {
				b.WriteString("\n")
				b.WriteString(strings.Repeat("#", level))
				b.WriteString(" ")
				b.WriteString(c.Title)
				b.WriteString("\n")
			}
			prose := CleanProse(c.Content)
			if strings.TrimSpace(prose) != "" {
				b.WriteString("\n")
				b.WriteString(strings.TrimRight(prose, "\n"))
				b.WriteString("\n")
			}
			walk(c.ID, depth+1)
		}
	}
	walk("", 0)

	return b.String()
}
