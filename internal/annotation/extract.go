package annotation

import "sort"

// Source is one chunk's worth of prose to extract from. The extractor only
// needs the id and the raw content; the document tree owns everything else.
type Source struct {
	ChunkID string
	Content string
}

// ExtractForChunk parses one chunk and tags each annotation with its chunk id.
func ExtractForChunk(src Source) []Annotation {
	anns := ParseAll(src.Content)
	for i := range anns {
		anns[i].ChunkID = src.ChunkID
	}
	return anns
}

// ExtractAll aggregates annotations across a document, grouped by kind.
// Within each group, annotations carrying a numeric priority come first in
// ascending priority order; the rest follow in original scan order. The sort
// is stable: equal priorities keep their scan order. The sidebar panel and
// any report tooling depend on this exact two-tier ordering.
func ExtractAll(sources []Source) map[Kind][]Annotation {
	grouped := make(map[Kind][]Annotation)
	for _, src := range sources {
		for _, a := range ExtractForChunk(src) {
			grouped[a.Kind] = append(grouped[a.Kind], a)
		}
	}
	for kind := range grouped {
		group := grouped[kind]
		sort.SliceStable(group, func(i, j int) bool {
			pi, pj := group[i].Priority, group[j].Priority
			if pi.Class == Numeric && pj.Class == Numeric {
				return pi.Value < pj.Value
			}
			return pi.Class == Numeric && pj.Class != Numeric
		})
	}
	return grouped
}

// Count returns the total number of annotations across all kinds. It equals
// the sum of the ExtractAll group sizes; the top-bar badge shows this number.
func Count(sources []Source) int {
	total := 0
	for _, src := range sources {
		total += len(ParseAll(src.Content))
	}
	return total
}
