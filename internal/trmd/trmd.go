// Package trmd reads and writes the .trmd project format: a plain-text file
// with a YAML frontmatter followed by the chunk tree. Each chunk opens with
// a [C:id"Title"] header carrying its aspect references; two spaces of
// indentation per nesting level. The serialization is canonical (tree order,
// sorted aspects, fixed separators), so it doubles as the input for content
// hashing and for snapshot commits.
package trmd

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Meta is the project frontmatter.
type Meta struct {
	Title    string `yaml:"title"`
	Author   string `yaml:"author,omitempty"`
	Language string `yaml:"language,omitempty"`
}

// Chunk is one node of the document tree.
type Chunk struct {
	ID       string
	ParentID string
	Title    string
	Content  string
	Position int
	Aspects  []string
}

// Serialize renders the chunks as a .trmd document. Chunks are emitted
// depth-first, siblings ordered by Position then ID, so two equal trees
// always produce identical bytes.
func Serialize(meta Meta, chunks []Chunk) string {
	var b strings.Builder

	front, err := yaml.Marshal(meta)
	if err != nil {
		front = []byte(fmt.Sprintf("title: %q\n", meta.Title))
	}
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n")

	byParent := make(map[string][]Chunk)
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
		indent := strings.Repeat("  ", depth)
		for _, c := range byParent[parentID] {
			b.WriteString("\n")
			b.WriteString(indent)
			b.WriteString("[C:")
			b.WriteString(c.ID)
			b.WriteString("\"")
			b.WriteString(escapeQuotes(c.Title))
			b.WriteString("\"]")
			aspects := append([]string(nil), c.Aspects...)
			sort.Strings(aspects)
			for _, a := range aspects {
				b.WriteString("[@")
				b.WriteString(a)
				b.WriteString("]")
			}
			b.WriteString("\n")
			for _, line := range contentLines(c.Content) {
				if line != "" {
					b.WriteString(indent)
				}
				b.WriteString(escapeHeaderLookalike(line))
				b.WriteString("\n")
			}
			walk(c.ID, depth+1)
		}
	}
	walk("", 0)

	return b.String()
}

var headerRe = regexp.MustCompile(`^(\s*)\[C:([^"\]]+)"((?:[^"\\]|\\.)*)"\]((?:\[@[^\]\s]+\])*)\s*$`)
var aspectRe = regexp.MustCompile(`\[@([^\]\s]+)\]`)

// A prose line that itself starts with [C: would read back as a chunk
// header. Serialize shields it with one backslash, Parse strips one, so
// round-trips preserve the line exactly however many backslashes it had.
var headerLookalikeRe = regexp.MustCompile(`^(\s*\\*)(\[C:.*)$`)
var escapedHeaderRe = regexp.MustCompile(`^(\s*)\\(\\*\[C:.*)$`)

func escapeHeaderLookalike(line string) string {
	if m := headerLookalikeRe.FindStringSubmatch(line); m != nil {
		return m[1] + `\` + m[2]
	}
	return line
}

func unescapeHeaderLookalike(line string) string {
	if m := escapedHeaderRe.FindStringSubmatch(line); m != nil {
		return m[1] + m[2]
	}
	return line
}

// Parse reads a .trmd document back into its frontmatter and chunk tree.
// The inverse of Serialize for canonical input; indentation is two spaces
// per nesting level.
func Parse(text string) (Meta, []Chunk, error) {
	var meta Meta

	body := text
	if strings.HasPrefix(text, "---\n") {
		rest := text[len("---\n"):]
		end := strings.Index(rest, "\n---\n")
		if end < 0 {
			return Meta{}, nil, fmt.Errorf("unterminated frontmatter")
		}
		if err := yaml.Unmarshal([]byte(rest[:end]), &meta); err != nil {
			return Meta{}, nil, fmt.Errorf("parse frontmatter: %w", err)
		}
		body = rest[end+len("\n---\n"):]
	}

	var chunks []Chunk
	// Stack of open ancestors, one per depth level.
	type frame struct {
		id    string
		depth int
	}
	var stack []frame
	positions := map[string]int{}

	var current *Chunk
	var currentDepth int
	var lines []string

	flush := func() {
		if current == nil {
			return
		}
		for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
			lines = lines[:len(lines)-1]
		}
		current.Content = strings.Join(lines, "\n")
		chunks = append(chunks, *current)
		current = nil
		lines = nil
	}

	for _, line := range strings.Split(body, "\n") {
		m := headerRe.FindStringSubmatch(line)
		if m == nil {
			if current != nil {
				lines = append(lines, unescapeHeaderLookalike(dedent(line, currentDepth)))
			}
			continue
		}

		flush()

		indent, id, title, aspectTags := m[1], m[2], m[3], m[4]
		depth := len(indent) / 2

		for len(stack) > 0 && stack[len(stack)-1].depth >= depth {
			stack = stack[:len(stack)-1]
		}
		parentID := ""
		if len(stack) > 0 {
			parentID = stack[len(stack)-1].id
		}
		if depth > len(stack) {
			return Meta{}, nil, fmt.Errorf("chunk %s: indentation skips a level", id)
		}
		stack = append(stack, frame{id: id, depth: depth})

		var aspects []string
		for _, am := range aspectRe.FindAllStringSubmatch(aspectTags, -1) {
			aspects = append(aspects, am[1])
		}

		current = &Chunk{
			ID:       id,
			ParentID: parentID,
			Title:    unescapeQuotes(title),
			Position: positions[parentID],
			Aspects:  aspects,
		}
		currentDepth = depth
		positions[parentID]++
	}
	flush()

	return meta, chunks, nil
}

func contentLines(content string) []string {
	content = strings.TrimRight(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func dedent(line string, depth int) string {
	prefix := strings.Repeat("  ", depth)
	return strings.TrimPrefix(line, prefix)
}

func escapeQuotes(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func unescapeQuotes(s string) string {
	return strings.ReplaceAll(s, `\"`, `"`)
}
