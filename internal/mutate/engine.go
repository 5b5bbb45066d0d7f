package mutate

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vipenzo/tramando-sub001/internal/annotation"
	"github.com/vipenzo/tramando-sub001/internal/store"
)

// EditorPort is a live editing surface for one chunk. A registered port
// performs substitutions inside the surface so they land in its own undo
// history; Replace reports whether the search text was found.
type EditorPort interface {
	Replace(searchText, replacementText string) bool
}

// EditorRegistry tracks which chunks currently have a mounted editor. At
// most one port per chunk; registering again replaces the previous port.
type EditorRegistry struct {
	mu    sync.Mutex
	ports map[string]EditorPort
}

func NewEditorRegistry() *EditorRegistry {
	return &EditorRegistry{ports: map[string]EditorPort{}}
}

func (r *EditorRegistry) Register(chunkID string, port EditorPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[chunkID] = port
}

func (r *EditorRegistry) Unregister(chunkID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, chunkID)
}

func (r *EditorRegistry) Lookup(chunkID string) (EditorPort, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	port, ok := r.ports[chunkID]
	return port, ok
}

// ContentStore is the slice of the persistence layer the engine writes
// through on the direct-rewrite path.
type ContentStore interface {
	GetChunk(ctx context.Context, chunkID string) (store.Chunk, error)
	SaveChunkContent(ctx context.Context, chunkID, content, baseHash string) (string, error)
}

// Refresher is told when a chunk changed behind any mounted surface, so
// observers can re-render.
type Refresher interface {
	ChunkChanged(ctx context.Context, chunkID string)
}

// NestedSelectionError rejects wrapping a selection that already contains
// annotation markup. It is reported to the user, never fatal.
type NestedSelectionError struct {
	Selected string
}

func (e *NestedSelectionError) Error() string {
	return "selected text already contains annotation markup"
}

// Result describes one replacement. ContentHash is empty when a mounted
// editor handled the substitution, since the authoritative content then
// lives in that surface until its next save.
type Result struct {
	Found       bool
	ContentHash string
}

// Engine replaces one exact substring in a chunk's content, preferring a
// mounted editor port over a direct store rewrite.
type Engine struct {
	store    ContentStore
	registry *EditorRegistry
	refresh  Refresher
}

func NewEngine(contentStore ContentStore, registry *EditorRegistry, refresh Refresher) *Engine {
	return &Engine{store: contentStore, registry: registry, refresh: refresh}
}

func (e *Engine) Registry() *EditorRegistry {
	return e.registry
}

// Replace substitutes the first occurrence of searchText in the chunk's
// content. Search text not found is a benign Result{Found: false}, never an
// error; the prose may have shifted since the caller located its span.
func (e *Engine) Replace(ctx context.Context, chunkID, baseHash, searchText, replacementText string) (Result, error) {
	if port, ok := e.registry.Lookup(chunkID); ok {
		return Result{Found: port.Replace(searchText, replacementText)}, nil
	}

	chunk, err := e.store.GetChunk(ctx, chunkID)
	if err != nil {
		return Result{}, fmt.Errorf("load chunk %s: %w", chunkID, err)
	}

	next, found := replaceFirstOccurrence(chunk.Content, searchText, replacementText)
	if !found {
		return Result{}, nil
	}

	hash, err := e.store.SaveChunkContent(ctx, chunkID, next, baseHash)
	if err != nil {
		return Result{}, fmt.Errorf("save chunk %s: %w", chunkID, err)
	}

	if e.refresh != nil {
		e.refresh.ChunkChanged(ctx, chunkID)
	}

	return Result{Found: true, ContentHash: hash}, nil
}

// GuardSelection rejects selections that already carry annotation markup in
// either grammar form, before new markup is wrapped around them.
func (e *Engine) GuardSelection(selectedText string) error {
	if annotation.ContainsMarkup(selectedText) {
		return &NestedSelectionError{Selected: selectedText}
	}
	return nil
}

// replaceFirstOccurrence is deliberately not global: callers pass a
// self-delimiting span (usually full annotation markup) so the first match
// is the right one even when the plain text repeats elsewhere.
func replaceFirstOccurrence(content, searchText, replacementText string) (string, bool) {
	if searchText == "" {
		return content, false
	}
	idx := strings.Index(content, searchText)
	if idx < 0 {
		return content, false
	}
	return content[:idx] + replacementText + content[idx+len(searchText):], true
}
