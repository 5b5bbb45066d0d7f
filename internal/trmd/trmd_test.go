package trmd

import (
	"reflect"
	"strings"
	"testing"
)

func sampleChunks() []Chunk {
	return []Chunk{
		{ID: "cap-1", Title: "Capitolo", Content: "Intro del capitolo.", Position: 0},
		{ID: "scene-1", ParentID: "cap-1", Title: "Prima", Content: "Elena entra in scena.\nSi guarda intorno.", Position: 0, Aspects: []string{"luoghi-1", "elena"}},
		{ID: "scene-2", ParentID: "cap-1", Title: "Seconda", Content: "La porta si chiude.", Position: 1},
		{ID: "personaggi", Title: "Personaggi", Content: "", Position: 1},
		{ID: "elena", ParentID: "personaggi", Title: "Elena", Content: "Protagonista.", Position: 0},
	}
}

func TestSerializeFrontmatterAndOrder(t *testing.T) {
	out := Serialize(Meta{Title: "Il Romanzo", Author: "Elena V."}, sampleChunks())

	if !strings.HasPrefix(out, "---\ntitle: Il Romanzo\nauthor: Elena V.\n---\n") {
		t.Fatalf("unexpected frontmatter:\n%s", out)
	}

	wantOrder := []string{
		`[C:cap-1"Capitolo"]`,
		`[C:scene-1"Prima"][@elena][@luoghi-1]`,
		`[C:scene-2"Seconda"]`,
		`[C:personaggi"Personaggi"]`,
		`[C:elena"Elena"]`,
	}
	last := -1
	for _, marker := range wantOrder {
		idx := strings.Index(out, marker)
		if idx < 0 {
			t.Fatalf("missing %q in output:\n%s", marker, out)
		}
		if idx <= last {
			t.Errorf("%q out of order", marker)
		}
		last = idx
	}

	// Children are indented two spaces per level.
	if !strings.Contains(out, "\n  [C:scene-1\"Prima\"]") {
		t.Fatalf("expected indented child header:\n%s", out)
	}
	if !strings.Contains(out, "\n  Elena entra in scena.\n  Si guarda intorno.\n") {
		t.Fatalf("expected indented child content:\n%s", out)
	}
}

func TestSerializeIsCanonical(t *testing.T) {
	chunks := sampleChunks()
	first := Serialize(Meta{Title: "T"}, chunks)

	// Shuffle input order; the output must not change.
	reversed := make([]Chunk, 0, len(chunks))
	for i := len(chunks) - 1; i >= 0; i-- {
		reversed = append(reversed, chunks[i])
	}
	second := Serialize(Meta{Title: "T"}, reversed)

	if first != second {
		t.Fatalf("serialization is input-order dependent:\n%s\nvs\n%s", first, second)
	}
}

func TestParseRoundTrip(t *testing.T) {
	meta := Meta{Title: "Il Romanzo", Author: "Elena V.", Language: "it"}
	chunks := sampleChunks()

	out := Serialize(meta, chunks)
	gotMeta, gotChunks, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if gotMeta != meta {
		t.Fatalf("meta mismatch: %+v vs %+v", gotMeta, meta)
	}
	if len(gotChunks) != len(chunks) {
		t.Fatalf("expected %d chunks, got %d", len(chunks), len(gotChunks))
	}

	byID := map[string]Chunk{}
	for _, c := range gotChunks {
		byID[c.ID] = c
	}
	for _, want := range chunks {
		got, ok := byID[want.ID]
		if !ok {
			t.Fatalf("missing chunk %s", want.ID)
		}
		if got.ParentID != want.ParentID {
			t.Errorf("chunk %s: parent %q, want %q", want.ID, got.ParentID, want.ParentID)
		}
		if got.Title != want.Title {
			t.Errorf("chunk %s: title %q, want %q", want.ID, got.Title, want.Title)
		}
		if got.Content != want.Content {
			t.Errorf("chunk %s: content %q, want %q", want.ID, got.Content, want.Content)
		}
		if len(want.Aspects) > 0 {
			// Serialization sorts aspects.
			if !reflect.DeepEqual(got.Aspects, []string{"elena", "luoghi-1"}) {
				t.Errorf("chunk %s: aspects %v", want.ID, got.Aspects)
			}
		}
	}

	// Reserializing the parse result must reproduce the bytes.
	if again := Serialize(gotMeta, gotChunks); again != out {
		t.Fatalf("round-trip not canonical:\n%s\nvs\n%s", again, out)
	}
}

func TestParseEscapedTitleQuotes(t *testing.T) {
	out := Serialize(Meta{Title: "T"}, []Chunk{
		{ID: "c1", Title: `Il "vero" inizio`, Content: "x"},
	})
	_, chunks, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(chunks) != 1 || chunks[0].Title != `Il "vero" inizio` {
		t.Fatalf("unexpected chunks: %+v", chunks)
	}
}

func TestParseRejectsSkippedIndentation(t *testing.T) {
	bad := "---\ntitle: T\n---\n\n    [C:c1\"Deep\"]\norphan\n"
	if _, _, err := Parse(bad); err == nil {
		t.Fatal("expected error for indentation that skips a level")
	}
}

func TestParseAnnotationsSurviveInContent(t *testing.T) {
	chunks := []Chunk{
		{ID: "c1", Title: "Scena", Content: "Testo con [!TODO:da completare:1:urgente] annotazione."},
	}
	out := Serialize(Meta{Title: "T"}, chunks)
	_, got, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got[0].Content != chunks[0].Content {
		t.Fatalf("annotation markup mangled: %q", got[0].Content)
	}
}

func TestParseHeaderLookalikeProseStaysProse(t *testing.T) {
	chunks := []Chunk{
		{ID: "c1", Title: "Scena", Content: "Prima riga.\n[C:x\"finto\"]\nUltima riga."},
		{ID: "c2", Title: "Dopo", Content: `\[C:era già con backslash`, Position: 1},
	}
	out := Serialize(Meta{Title: "T"}, chunks)

	_, got, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("prose line parsed as a chunk header: %d chunks", len(got))
	}
	if got[0].Content != chunks[0].Content {
		t.Errorf("content = %q, want %q", got[0].Content, chunks[0].Content)
	}
	if got[1].Content != chunks[1].Content {
		t.Errorf("backslashed content = %q, want %q", got[1].Content, chunks[1].Content)
	}
}
