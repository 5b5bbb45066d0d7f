package annotation

import "testing"

func TestExtractForChunkTagsChunkID(t *testing.T) {
	anns := ExtractForChunk(Source{ChunkID: "scene-1", Content: "[!TODO:a:1:] and [!NOTE:b::]"})
	if len(anns) != 2 {
		t.Fatalf("expected 2 annotations, got %d", len(anns))
	}
	for _, a := range anns {
		if a.ChunkID != "scene-1" {
			t.Errorf("chunk id = %q", a.ChunkID)
		}
	}
}

func TestExtractAllTwoTierOrdering(t *testing.T) {
	sources := []Source{
		{ChunkID: "cap-1", Content: "x [!TODO:alto:1:] y [!TODO:senza::] z"},
		{ChunkID: "cap-2", Content: "w [!TODO:urgente:0.5:] v"},
	}

	grouped := ExtractAll(sources)
	if len(grouped[KindNote]) != 0 || len(grouped[KindFix]) != 0 {
		t.Fatalf("NOTE/FIX groups should be empty, got %d/%d", len(grouped[KindNote]), len(grouped[KindFix]))
	}

	todos := grouped[KindTodo]
	if len(todos) != 3 {
		t.Fatalf("expected 3 TODOs, got %d", len(todos))
	}
	wantOrder := []string{"urgente", "alto", "senza"}
	for i, want := range wantOrder {
		if todos[i].SelectedText != want {
			t.Errorf("position %d = %q, want %q", i, todos[i].SelectedText, want)
		}
	}
}

func TestExtractAllStableWithinTiers(t *testing.T) {
	sources := []Source{
		{ChunkID: "c1", Content: "[!NOTE:one:2:] [!NOTE:two:2:] [!NOTE:three::] [!NOTE:four::]"},
	}
	notes := ExtractAll(sources)[KindNote]
	if len(notes) != 4 {
		t.Fatalf("expected 4 notes, got %d", len(notes))
	}
	wantOrder := []string{"one", "two", "three", "four"}
	for i, want := range wantOrder {
		if notes[i].SelectedText != want {
			t.Errorf("position %d = %q, want %q", i, notes[i].SelectedText, want)
		}
	}
}

func TestExtractAllAIStatesSortAsUntriaged(t *testing.T) {
	sources := []Source{
		{ChunkID: "c1", Content: `[!NOTE:pending:AI:] [!NOTE:ranked:3:]`},
	}
	notes := ExtractAll(sources)[KindNote]
	if len(notes) != 2 {
		t.Fatalf("expected 2 notes, got %d", len(notes))
	}
	if notes[0].SelectedText != "ranked" {
		t.Errorf("numeric priority should sort before AI state, got %q first", notes[0].SelectedText)
	}
}

func TestCountMatchesGroupSizes(t *testing.T) {
	sources := []Source{
		{ChunkID: "c1", Content: "[!TODO:a:1:] [!FIX:b::]"},
		{ChunkID: "c2", Content: "plain"},
		{ChunkID: "c3", Content: `[!NOTE{"text":"c"}]`},
	}
	total := Count(sources)
	if total != 3 {
		t.Fatalf("count = %d, want 3", total)
	}
	sum := 0
	for _, group := range ExtractAll(sources) {
		sum += len(group)
	}
	if sum != total {
		t.Errorf("count %d != sum of groups %d", total, sum)
	}
}
