package annotation

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseLegacyBasic(t *testing.T) {
	content := `Before [!TODO:riscrivere questo dialogo:1:troppo formale] after.`
	anns := ParseAll(content)
	if len(anns) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(anns))
	}
	a := anns[0]
	if a.Kind != KindTodo {
		t.Errorf("kind = %s", a.Kind)
	}
	if a.SelectedText != "riscrivere questo dialogo" {
		t.Errorf("selected = %q", a.SelectedText)
	}
	if a.Priority.Class != Numeric || a.Priority.Value != 1 {
		t.Errorf("priority = %+v", a.Priority)
	}
	if a.Comment != "troppo formale" {
		t.Errorf("comment = %q", a.Comment)
	}
	if got := a.Markup(content); got != "[!TODO:riscrivere questo dialogo:1:troppo formale]" {
		t.Errorf("markup = %q", got)
	}
}

func TestParseLegacyVariants(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		check   func(t *testing.T, a Annotation)
	}{
		{
			name:    "empty priority and comment",
			content: "x [!NOTE:verificare data::] y",
			want:    1,
			check: func(t *testing.T, a Annotation) {
				if a.Priority.Class != Untriaged {
					t.Errorf("priority = %+v", a.Priority)
				}
			},
		},
		{
			name:    "author suffix",
			content: "x [!FIX@marco:errore nome:2:] y",
			want:    1,
			check: func(t *testing.T, a Annotation) {
				if a.Author != "marco" {
					t.Errorf("author = %q", a.Author)
				}
				if a.Priority.Class != Numeric || a.Priority.Value != 2 {
					t.Errorf("priority = %+v", a.Priority)
				}
			},
		},
		{
			name:    "non-numeric priority degrades to untriaged",
			content: "x [!TODO:a:urgent:later] y",
			want:    1,
			check: func(t *testing.T, a Annotation) {
				if a.Priority.Class != Untriaged {
					t.Errorf("priority = %+v", a.Priority)
				}
				if a.Comment != "later" {
					t.Errorf("comment = %q", a.Comment)
				}
			},
		},
		{
			name:    "negative and fractional priorities",
			content: "[!TODO:a:-1.5:]",
			want:    1,
			check: func(t *testing.T, a Annotation) {
				if a.Priority.Value != -1.5 {
					t.Errorf("priority = %+v", a.Priority)
				}
			},
		},
		{
			name:    "ai pending token",
			content: "The [!NOTE:hero:AI:] enters.",
			want:    1,
			check: func(t *testing.T, a Annotation) {
				if a.Priority.Class != AIPending {
					t.Errorf("priority = %+v", a.Priority)
				}
			},
		},
		{
			name:    "selected text is trimmed",
			content: "[!NOTE: padded :1:]",
			want:    1,
			check: func(t *testing.T, a Annotation) {
				if a.SelectedText != "padded" {
					t.Errorf("selected = %q", a.SelectedText)
				}
			},
		},
		{
			name:    "too few fields is not an annotation",
			content: "array index [!TODO:a:b] stays text",
			want:    0,
		},
		{
			name:    "unknown kind ignored",
			content: "[!WARN:a:1:]",
			want:    0,
		},
		{
			name:    "unterminated candidate ignored",
			content: "broken [!TODO:a:1:comment with no close",
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anns := ParseAll(tt.content)
			if len(anns) != tt.want {
				t.Fatalf("expected %d annotations, got %d", tt.want, len(anns))
			}
			if tt.check != nil && tt.want > 0 {
				tt.check(t, anns[0])
			}
		})
	}
}

func TestParseStructured(t *testing.T) {
	content := `Line with [!NOTE{"text":"hero","ai":"pending"}] marker.`
	anns := ParseAll(content)
	if len(anns) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(anns))
	}
	a := anns[0]
	if a.Form != FormStructured {
		t.Errorf("form = %v", a.Form)
	}
	if a.SelectedText != "hero" {
		t.Errorf("selected = %q", a.SelectedText)
	}
	if a.Priority.Class != AIPending {
		t.Errorf("priority = %+v", a.Priority)
	}
}

func TestParseStructuredDone(t *testing.T) {
	content := `x [!NOTE{"text":"hero","ai":"done","alts":["protagonist","warrior"],"sel":2}] y`
	anns := ParseAll(content)
	if len(anns) != 1 {
		t.Fatalf("expected 1 annotation, got %d", len(anns))
	}
	a := anns[0]
	if a.Priority.Class != AIDone {
		t.Fatalf("priority = %+v", a.Priority)
	}
	if !reflect.DeepEqual(a.Alternatives, []string{"protagonist", "warrior"}) {
		t.Errorf("alternatives = %v", a.Alternatives)
	}
	if a.Selected != 2 {
		t.Errorf("selected index = %d", a.Selected)
	}
}

func TestParseStructuredMalformedDropped(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"broken json", `a [!NOTE{"text":}] b`, 0},
		{"missing text", `a [!NOTE{"ai":"pending"}] b`, 0},
		{"done without alts", `a [!NOTE{"text":"x","ai":"done"}] b`, 0},
		{"sel out of range", `a [!NOTE{"text":"x","ai":"done","alts":["y"],"sel":4}] b`, 0},
		{"unknown ai state", `a [!NOTE{"text":"x","ai":"maybe"}] b`, 0},
		{"scanning continues past dropped candidate", `[!NOTE{"text":}] then [!TODO:ok:1:]`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anns := ParseAll(tt.content)
			if len(anns) != tt.want {
				t.Fatalf("expected %d annotations, got %d: %+v", tt.want, len(anns), anns)
			}
		})
	}
}

func TestParseMixedFormsInOrder(t *testing.T) {
	content := `[!TODO:first:1:] middle [!FIX{"text":"second"}] end [!NOTE:third::]`
	anns := ParseAll(content)
	if len(anns) != 3 {
		t.Fatalf("expected 3 annotations, got %d", len(anns))
	}
	order := []string{"first", "second", "third"}
	for i, want := range order {
		if anns[i].SelectedText != want {
			t.Errorf("annotation %d = %q, want %q", i, anns[i].SelectedText, want)
		}
	}
	for i := 1; i < len(anns); i++ {
		if anns[i].Start < anns[i-1].End {
			t.Errorf("annotations overlap: %d and %d", i-1, i)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	values := []Annotation{
		{Kind: KindTodo, SelectedText: "rewrite this", Priority: NumericPriority(1), Comment: "too long"},
		{Kind: KindNote, SelectedText: "check date", Priority: Priority{Class: Untriaged}},
		{Kind: KindFix, SelectedText: "wrong name", Priority: NumericPriority(2.5), Author: "elena"},
		{Kind: KindNote, SelectedText: "hero", Priority: Priority{Class: AIPending}},
		{Kind: KindNote, SelectedText: "hero", Priority: Priority{Class: AIDone}, Alternatives: []string{"protagonist", "warrior"}, Selected: 2},
	}

	for _, form := range []Form{FormLegacy, FormStructured} {
		for _, v := range values {
			v.Form = form
			text := Serialize(v)
			anns := ParseAll(text)
			if len(anns) != 1 {
				t.Fatalf("form %v: %q parsed to %d annotations", form, text, len(anns))
			}
			got := anns[0]
			v.Start, v.End = got.Start, got.End
			if !reflect.DeepEqual(got, v) {
				t.Errorf("form %v round trip:\n got %+v\nwant %+v\ntext %q", form, got, v, text)
			}
		}
	}
}

func TestStrip(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "legacy",
			content: "Testo con [!TODO:da completare:1:urgente] annotazione.",
			want:    "Testo con da completare annotazione.",
		},
		{
			name:    "structured",
			content: `The [!NOTE{"text":"hero","ai":"pending"}] enters.`,
			want:    "The hero enters.",
		},
		{
			name:    "multiple",
			content: "[!FIX:a:1:x] and [!NOTE:b::]",
			want:    "a and b",
		},
		{
			name:    "no annotations untouched",
			content: "plain prose with [@elena] and **bold**",
			want:    "plain prose with [@elena] and **bold**",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Strip(tt.content); got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestContainsMarkup(t *testing.T) {
	if !ContainsMarkup("text with [!NOTE:x::] inside") {
		t.Error("legacy opening sequence not detected")
	}
	if !ContainsMarkup(`text with [!TODO{"text":"x"} inside`) {
		t.Error("structured opening sequence not detected")
	}
	if !ContainsMarkup("text with [!FIX@me:x::]") {
		t.Error("authored opening sequence not detected")
	}
	if ContainsMarkup("plain [@elena] reference and [!TODOS are fine") {
		t.Error("false positive")
	}
}

func TestDoneCodecVersions(t *testing.T) {
	payload := encodeDonePayload([]string{"a", "b"}, 1)
	if !strings.HasPrefix(payload, "v1:") {
		t.Fatalf("payload %q missing version prefix", payload)
	}
	if strings.ContainsRune(payload, ']') {
		t.Fatalf("payload %q contains a closing bracket", payload)
	}
	alts, sel, version, err := decodeDonePayload(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if version != 1 || sel != 1 || !reflect.DeepEqual(alts, []string{"a", "b"}) {
		t.Errorf("decoded alts=%v sel=%d version=%d", alts, sel, version)
	}

	// Unversioned blobs from older files still decode.
	legacy := "eyJhbHRzIjpbImEiXSwic2VsIjowfQ==" // {"alts":["a"],"sel":0}
	alts, sel, version, err = decodeDonePayload(legacy)
	if err != nil {
		t.Fatalf("legacy decode failed: %v", err)
	}
	if version != 0 || sel != 0 || len(alts) != 1 || alts[0] != "a" {
		t.Errorf("legacy decoded alts=%v sel=%d version=%d", alts, sel, version)
	}
}

func TestStructuredEscapesBracketInStrings(t *testing.T) {
	a := Annotation{
		Kind:         KindNote,
		SelectedText: "array[0] access",
		Priority:     Priority{Class: Untriaged},
		Form:         FormStructured,
	}
	text := Serialize(a)
	if strings.Contains(text, `array[0]`) {
		t.Fatalf("raw ']' left inside string value: %q", text)
	}
	anns := ParseAll(text)
	if len(anns) != 1 {
		t.Fatalf("escaped form did not parse: %q", text)
	}
	if anns[0].SelectedText != "array[0] access" {
		t.Errorf("selected = %q", anns[0].SelectedText)
	}
}
