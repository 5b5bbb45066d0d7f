package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vipenzo/tramando-sub001/internal/annotation"
	"github.com/vipenzo/tramando-sub001/internal/store"
)

// fakeStore is an in-memory persistence layer with the production hash
// protocol: every write checks baseHash against the current document hash
// and advances it.
type fakeStore struct {
	mu     sync.Mutex
	doc    store.Document
	chunks []store.Chunk
	saves  int

	pingFn func(context.Context) error
}

func newFakeStore(chunks ...store.Chunk) *fakeStore {
	return &fakeStore{
		doc:    store.Document{ID: "doc_1", Title: "Il Romanzo", Author: "ada", ContentHash: "h0"},
		chunks: chunks,
	}
}

func (f *fakeStore) chunkContent(chunkID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chunks {
		if c.ID == chunkID {
			return c.Content
		}
	}
	return ""
}

func (f *fakeStore) checkHashLocked(baseHash string) error {
	if baseHash != f.doc.ContentHash {
		return &store.ConflictError{CurrentHash: f.doc.ContentHash, CurrentContent: "server content"}
	}
	return nil
}

func (f *fakeStore) bumpLocked() string {
	f.saves++
	f.doc.ContentHash = fmt.Sprintf("h%d", f.saves)
	return f.doc.ContentHash
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) ListDocuments(context.Context) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []store.Document{f.doc}, nil
}

func (f *fakeStore) CreateDocument(_ context.Context, doc store.Document) (store.Document, error) {
	if doc.ID == "" {
		doc.ID = "doc_new"
	}
	doc.ContentHash = "h0"
	return doc, nil
}

func (f *fakeStore) GetDocument(_ context.Context, documentID string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if documentID != f.doc.ID {
		return store.Document{}, sql.ErrNoRows
	}
	return f.doc, nil
}

func (f *fakeStore) LoadDocument(_ context.Context, documentID string) (store.Document, []store.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if documentID != f.doc.ID {
		return store.Document{}, nil, sql.ErrNoRows
	}
	chunks := make([]store.Chunk, len(f.chunks))
	copy(chunks, f.chunks)
	return f.doc, chunks, nil
}

func (f *fakeStore) GetChunk(_ context.Context, chunkID string) (store.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.chunks {
		if c.ID == chunkID {
			return c, nil
		}
	}
	return store.Chunk{}, sql.ErrNoRows
}

func (f *fakeStore) SaveChunkContent(_ context.Context, chunkID, content, baseHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkHashLocked(baseHash); err != nil {
		return "", err
	}
	for i := range f.chunks {
		if f.chunks[i].ID == chunkID {
			f.chunks[i].Content = content
			return f.bumpLocked(), nil
		}
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) AddNode(_ context.Context, documentID, parentID, title, baseHash string) (store.Chunk, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkHashLocked(baseHash); err != nil {
		return store.Chunk{}, "", err
	}
	chunk := store.Chunk{
		ID:         fmt.Sprintf("chk_%d", len(f.chunks)+1),
		DocumentID: documentID,
		ParentID:   parentID,
		Title:      title,
		Position:   len(f.chunks),
	}
	f.chunks = append(f.chunks, chunk)
	return chunk, f.bumpLocked(), nil
}

func (f *fakeStore) DeleteNode(_ context.Context, chunkID, baseHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkHashLocked(baseHash); err != nil {
		return "", err
	}
	for i := range f.chunks {
		if f.chunks[i].ID == chunkID {
			f.chunks = append(f.chunks[:i], f.chunks[i+1:]...)
			return f.bumpLocked(), nil
		}
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) AddAspectRef(_ context.Context, chunkID, aspectID, baseHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkHashLocked(baseHash); err != nil {
		return "", err
	}
	for i := range f.chunks {
		if f.chunks[i].ID == chunkID {
			f.chunks[i].Aspects = append(f.chunks[i].Aspects, aspectID)
			return f.bumpLocked(), nil
		}
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) RemoveAspectRef(_ context.Context, chunkID, aspectID, baseHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkHashLocked(baseHash); err != nil {
		return "", err
	}
	for i := range f.chunks {
		if f.chunks[i].ID != chunkID {
			continue
		}
		kept := f.chunks[i].Aspects[:0]
		for _, a := range f.chunks[i].Aspects {
			if a != aspectID {
				kept = append(kept, a)
			}
		}
		f.chunks[i].Aspects = kept
		return f.bumpLocked(), nil
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) AddAnnotation(_ context.Context, chunkID, markup, baseHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkHashLocked(baseHash); err != nil {
		return "", err
	}
	for i := range f.chunks {
		if f.chunks[i].ID == chunkID {
			if f.chunks[i].Content != "" && !strings.HasSuffix(f.chunks[i].Content, "\n") {
				f.chunks[i].Content += "\n"
			}
			f.chunks[i].Content += markup
			return f.bumpLocked(), nil
		}
	}
	return "", sql.ErrNoRows
}

func (f *fakeStore) DeleteAnnotation(_ context.Context, chunkID, selectedText, baseHash string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkHashLocked(baseHash); err != nil {
		return "", false, err
	}
	for i := range f.chunks {
		if f.chunks[i].ID != chunkID {
			continue
		}
		for _, a := range annotation.ParseAll(f.chunks[i].Content) {
			if a.SelectedText != selectedText {
				continue
			}
			content := f.chunks[i].Content
			f.chunks[i].Content = content[:a.Start] + a.SelectedText + content[a.End:]
			return f.bumpLocked(), true, nil
		}
		return f.doc.ContentHash, false, nil
	}
	return "", false, sql.ErrNoRows
}

func (f *fakeStore) ReplaceChunks(_ context.Context, documentID string, chunks []store.Chunk, baseHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkHashLocked(baseHash); err != nil {
		return "", err
	}
	f.chunks = chunks
	return f.bumpLocked(), nil
}

func newTestServer(fs *fakeStore, deps Deps) *HTTPServer {
	return NewHTTPServer(NewService(fs, deps), "*", 200)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
			t.Fatalf("parse response %q: %v", rr.Body.String(), err)
		}
	}
	return rr, payload
}

func TestSaveChunkConflict(t *testing.T) {
	fs := newFakeStore(store.Chunk{ID: "chk_1", DocumentID: "doc_1", Title: "Scena", Content: "Testo originale."})
	fs.doc.ContentHash = "hashB"
	server := newTestServer(fs, Deps{})

	rr, payload := doJSON(t, server.Handler(), http.MethodPut, "/api/documents/doc_1/chunks/chk_1", map[string]any{
		"content":  "Testo nuovo.",
		"baseHash": "hashA",
	})

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rr.Code, rr.Body.String())
	}
	if payload["code"] != "CONFLICT" {
		t.Fatalf("expected code CONFLICT, got %v", payload["code"])
	}
	details, ok := payload["details"].(map[string]any)
	if !ok {
		t.Fatalf("expected conflict details, got %v", payload["details"])
	}
	if details["currentHash"] != "hashB" {
		t.Errorf("expected currentHash=hashB, got %v", details["currentHash"])
	}
	if got := fs.chunkContent("chk_1"); got != "Testo originale." {
		t.Errorf("content changed by conflicting save: %q", got)
	}
}

func TestSaveChunkHappyPath(t *testing.T) {
	fs := newFakeStore(store.Chunk{ID: "chk_1", DocumentID: "doc_1", Title: "Scena", Content: "Testo originale."})
	server := newTestServer(fs, Deps{})

	rr, payload := doJSON(t, server.Handler(), http.MethodPut, "/api/documents/doc_1/chunks/chk_1", map[string]any{
		"content":  "Testo nuovo.",
		"baseHash": "h0",
	})

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if payload["contentHash"] != "h1" {
		t.Errorf("expected contentHash=h1, got %v", payload["contentHash"])
	}
	if got := fs.chunkContent("chk_1"); got != "Testo nuovo." {
		t.Errorf("content not saved: %q", got)
	}
}

func TestCreateDocumentValidation(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(fs, Deps{})

	rr, payload := doJSON(t, server.Handler(), http.MethodPost, "/api/documents", map[string]any{
		"title": "   ",
	})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if payload["code"] != "VALIDATION_ERROR" {
		t.Errorf("expected VALIDATION_ERROR, got %v", payload["code"])
	}
}

func TestRevisionFlowOverHTTP(t *testing.T) {
	fs := newFakeStore(store.Chunk{ID: "chk_1", DocumentID: "doc_1", Title: "Scena", Content: "The hero enters."})
	server := newTestServer(fs, Deps{})
	handler := server.Handler()

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/chunks/chk_1/revisions", map[string]any{
		"selectedText": "hero",
		"baseHash":     "h0",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("insert: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if payload["found"] != true {
		t.Fatalf("insert: expected found=true, got %v", payload["found"])
	}
	pendingKey, _ := payload["pendingKey"].(string)
	if pendingKey == "" {
		t.Fatal("insert: expected a pending key")
	}
	if !annotation.ContainsMarkup(fs.chunkContent("chk_1")) {
		t.Fatalf("insert: no annotation in content %q", fs.chunkContent("chk_1"))
	}

	rr, payload = doJSON(t, handler, http.MethodPost, "/api/chunks/chk_1/revisions/complete", map[string]any{
		"pendingKey":   pendingKey,
		"alternatives": []string{"protagonist", "warrior"},
	})
	if rr.Code != http.StatusOK || payload["found"] != true {
		t.Fatalf("complete: got %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, handler, http.MethodPost, "/api/chunks/chk_1/revisions/select", map[string]any{
		"originalText": "hero",
		"selected":     2,
	})
	if rr.Code != http.StatusOK || payload["found"] != true {
		t.Fatalf("select: got %d %v", rr.Code, payload)
	}

	rr, payload = doJSON(t, handler, http.MethodPost, "/api/chunks/chk_1/revisions/confirm", map[string]any{
		"originalText": "hero",
	})
	if rr.Code != http.StatusOK || payload["found"] != true {
		t.Fatalf("confirm: got %d %v", rr.Code, payload)
	}
	if got := fs.chunkContent("chk_1"); got != "The warrior enters." {
		t.Fatalf("confirm: content = %q, want %q", got, "The warrior enters.")
	}
}

func TestRevisionInsertRejectsNestedSelection(t *testing.T) {
	fs := newFakeStore(store.Chunk{ID: "chk_1", DocumentID: "doc_1", Content: "Una frase qualunque."})
	server := newTestServer(fs, Deps{})

	rr, payload := doJSON(t, server.Handler(), http.MethodPost, "/api/chunks/chk_1/revisions", map[string]any{
		"selectedText": "text with [!NOTE:x::] inside",
		"baseHash":     "h0",
	})

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if payload["code"] != "NESTED_ANNOTATION" {
		t.Errorf("expected NESTED_ANNOTATION, got %v", payload["code"])
	}
	if fs.chunkContent("chk_1") != "Una frase qualunque." {
		t.Error("rejected insert must not mutate content")
	}
}

func TestAsyncAIRevision(t *testing.T) {
	fs := newFakeStore(store.Chunk{ID: "chk_1", DocumentID: "doc_1", Content: "The hero enters."})
	server := newTestServer(fs, Deps{AI: fakeAI{response: "1. protagonist\n2. warrior"}})

	rr, _ := doJSON(t, server.Handler(), http.MethodPost, "/api/chunks/chk_1/revisions", map[string]any{
		"selectedText": "hero",
		"baseHash":     "h0",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("insert: expected 200, got %d", rr.Code)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		anns := annotation.ParseAll(fs.chunkContent("chk_1"))
		if len(anns) == 1 && anns[0].Priority.Class == annotation.AIDone {
			if len(anns[0].Alternatives) != 2 || anns[0].Alternatives[1] != "warrior" {
				t.Fatalf("unexpected alternatives %v", anns[0].Alternatives)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("AI response never applied; content: %q", fs.chunkContent("chk_1"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAnnotationsEndpointGrouping(t *testing.T) {
	fs := newFakeStore(
		store.Chunk{ID: "chk_1", DocumentID: "doc_1", Content: "Una [!TODO:frase:1:primo] e [!TODO:altra::secondo] qui."},
		store.Chunk{ID: "chk_2", DocumentID: "doc_1", Content: "Altro [!TODO:testo:0.5:terzo] ancora."},
	)
	server := newTestServer(fs, Deps{})

	rr, payload := doJSON(t, server.Handler(), http.MethodGet, "/api/documents/doc_1/annotations", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload["total"] != float64(3) {
		t.Errorf("expected total=3, got %v", payload["total"])
	}

	groups, ok := payload["annotations"].(map[string]any)
	if !ok {
		t.Fatalf("expected annotation groups, got %v", payload["annotations"])
	}
	if _, exists := groups["NOTE"]; exists {
		t.Error("NOTE group should be absent")
	}
	todos, ok := groups["TODO"].([]any)
	if !ok || len(todos) != 3 {
		t.Fatalf("expected 3 TODO annotations, got %v", groups["TODO"])
	}
	var order []string
	for _, item := range todos {
		order = append(order, item.(map[string]any)["selectedText"].(string))
	}
	want := []string{"testo", "frase", "altra"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("TODO order = %v, want %v", order, want)
		}
	}
}

func TestDeleteAnnotation(t *testing.T) {
	fs := newFakeStore(store.Chunk{ID: "chk_1", DocumentID: "doc_1", Content: "Una [!TODO:frase:1:rivedere] qui."})
	server := newTestServer(fs, Deps{})

	rr, payload := doJSON(t, server.Handler(), http.MethodDelete, "/api/documents/doc_1/chunks/chk_1/annotations", map[string]any{
		"selectedText": "frase",
		"baseHash":     "h0",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload["found"] != true {
		t.Fatalf("expected found=true, got %v", payload["found"])
	}
	if got := fs.chunkContent("chk_1"); got != "Una frase qui." {
		t.Errorf("content = %q, want %q", got, "Una frase qui.")
	}

	rr, payload = doJSON(t, server.Handler(), http.MethodDelete, "/api/documents/doc_1/chunks/chk_1/annotations", map[string]any{
		"selectedText": "frase",
		"baseHash":     "h1",
	})
	if rr.Code != http.StatusOK || payload["found"] != false {
		t.Fatalf("second delete should be a benign miss, got %d %v", rr.Code, payload)
	}
}

func TestDocumentTrmdDownload(t *testing.T) {
	fs := newFakeStore(store.Chunk{ID: "chk_1", DocumentID: "doc_1", Title: "Scena", Content: "Testo."})
	server := newTestServer(fs, Deps{})

	req := httptest.NewRequest(http.MethodGet, "/api/documents/doc_1/trmd", nil)
	rr := httptest.NewRecorder()
	server.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("expected text/plain, got %q", ct)
	}
	if !strings.HasPrefix(rr.Body.String(), "---\n") {
		t.Errorf("serialization missing frontmatter:\n%s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `[C:chk_1"Scena"]`) {
		t.Errorf("serialization missing chunk header:\n%s", rr.Body.String())
	}
}

func TestAddNodeAndAspects(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(fs, Deps{})
	handler := server.Handler()

	rr, payload := doJSON(t, handler, http.MethodPost, "/api/documents/doc_1/nodes", map[string]any{
		"title":    "Capitolo 1",
		"baseHash": "h0",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("add node: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	chunk, ok := payload["chunk"].(map[string]any)
	if !ok || chunk["title"] != "Capitolo 1" {
		t.Fatalf("unexpected chunk payload %v", payload["chunk"])
	}
	chunkID := chunk["id"].(string)

	rr, payload = doJSON(t, handler, http.MethodPost, "/api/documents/doc_1/chunks/"+chunkID+"/aspects", map[string]any{
		"aspectId": "elena",
		"baseHash": payload["contentHash"],
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("add aspect: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr, _ = doJSON(t, handler, http.MethodDelete, "/api/documents/doc_1/nodes/"+chunkID, map[string]any{
		"baseHash": payload["contentHash"],
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("delete node: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(fs.chunks) != 0 {
		t.Errorf("expected empty tree, got %d chunks", len(fs.chunks))
	}
}

func TestRestoreWithoutSnapshotsIs404(t *testing.T) {
	fs := newFakeStore()
	server := newTestServer(fs, Deps{})

	rr, payload := doJSON(t, server.Handler(), http.MethodPost, "/api/documents/doc_1/restore", map[string]any{
		"hash":     "abc123",
		"baseHash": "h0",
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if payload["code"] != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %v", payload["code"])
	}
}

type fakeAI struct {
	response string
}

func (f fakeAI) Revise(context.Context, string) (string, error) {
	return f.response, nil
}

type fakeSnapshots struct {
	lastLimit int
}

func (f *fakeSnapshots) EnsureDocumentRepo(string, string, string) error { return nil }

func (f *fakeSnapshots) Commit(string, string, string, string) (store.Snapshot, error) {
	return store.Snapshot{}, nil
}

func (f *fakeSnapshots) GetContentByHash(string, string) (string, error) {
	return "", fmt.Errorf("no snapshot")
}

func (f *fakeSnapshots) History(_ string, limit int) ([]store.Snapshot, error) {
	f.lastLimit = limit
	return nil, nil
}

func TestHistoryLimitClamped(t *testing.T) {
	fs := newFakeStore()
	snaps := &fakeSnapshots{}
	server := NewHTTPServer(NewService(fs, Deps{Snapshots: snaps}), "*", 200)

	tests := []struct {
		name  string
		query string
		want  int
	}{
		{"default is the configured cap", "", 200},
		{"explicit limit below cap", "?limit=10", 10},
		{"excessive limit clamped to cap", "?limit=10000", 200},
		{"garbage limit falls back to cap", "?limit=molti", 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, _ := doJSON(t, server.Handler(), http.MethodGet, "/api/documents/doc_1/history"+tt.query, nil)
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}
			if snaps.lastLimit != tt.want {
				t.Errorf("history queried with limit %d, want %d", snaps.lastLimit, tt.want)
			}
		})
	}
}
