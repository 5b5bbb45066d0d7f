// Package revision drives the AI-assisted rewrite workflow: a span of prose
// is wrapped in a pending annotation, the AI's alternatives land back in the
// same annotation, and the user cycles, confirms or cancels. Every lookup is
// tolerant of absence because the prose can shift while a request is in
// flight.
package revision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vipenzo/tramando-sub001/internal/annotation"
	"github.com/vipenzo/tramando-sub001/internal/mutate"
	"github.com/vipenzo/tramando-sub001/internal/notify"
	"github.com/vipenzo/tramando-sub001/internal/store"
)

var (
	ErrNoAlternatives      = errors.New("alternatives must be non-empty")
	ErrSelectionOutOfRange = errors.New("selection index out of range")
	ErrNoSelection         = errors.New("no alternative selected")
)

// ChunkStore is the read side the lifecycle needs: current chunk content to
// locate annotations, and the owning document for its concurrency token.
type ChunkStore interface {
	GetChunk(ctx context.Context, chunkID string) (store.Chunk, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
}

// Outcome reports one lifecycle transition. Found is false when the
// transition's search missed, which is a benign no-op, not an error.
type Outcome struct {
	Found       bool
	ContentHash string
}

// Lifecycle is the state machine per unit of AI-assisted revision, keyed by
// (chunk, original text). Collaborators are injected, never global.
type Lifecycle struct {
	chunks   ChunkStore
	engine   *mutate.Engine
	pending  PendingStore
	notifier notify.Notifier
}

func NewLifecycle(chunks ChunkStore, engine *mutate.Engine, pending PendingStore, notifier notify.Notifier) *Lifecycle {
	return &Lifecycle{chunks: chunks, engine: engine, pending: pending, notifier: notifier}
}

// Insert wraps selectedText in a pending annotation and records the request.
// author may be empty in single-user mode. The returned key identifies the
// request for Complete. Outcome.Found is false when selectedText is not
// present in the chunk.
func (l *Lifecycle) Insert(ctx context.Context, chunkID, baseHash, selectedText, author string) (string, Outcome, error) {
	if err := l.engine.GuardSelection(selectedText); err != nil {
		l.emit(ctx, notify.Event{
			Type:    notify.EventSelectionRejected,
			ChunkID: chunkID,
			Message: "selection already contains annotation markup",
		})
		return "", Outcome{}, err
	}

	a := annotation.Annotation{
		Kind:         annotation.KindNote,
		SelectedText: selectedText,
		Author:       author,
		Priority:     annotation.Priority{Class: annotation.AIPending},
		Form:         annotation.FormStructured,
	}

	res, err := l.engine.Replace(ctx, chunkID, baseHash, selectedText, annotation.Serialize(a))
	if err != nil {
		return "", Outcome{}, err
	}
	if !res.Found {
		return "", Outcome{}, nil
	}

	rec := PendingRecord{
		Key:          PendingKey(chunkID, selectedText),
		ChunkID:      chunkID,
		OriginalText: selectedText,
		Author:       author,
		CreatedAt:    time.Now().UTC(),
	}
	l.pending.Put(rec)

	return rec.Key, Outcome{Found: true, ContentHash: res.ContentHash}, nil
}

// Complete attaches the AI's alternatives to the pending annotation and
// marks it done with no alternative chosen yet. If the annotation is gone
// (cancelled, or the prose shifted) the stale record is dropped and the call
// no-ops.
func (l *Lifecycle) Complete(ctx context.Context, pendingKey string, alternatives []string) (Outcome, error) {
	rec, ok := l.pending.Get(pendingKey)
	if !ok {
		return Outcome{}, nil
	}
	if len(alternatives) == 0 {
		return Outcome{}, ErrNoAlternatives
	}

	chunk, err := l.chunks.GetChunk(ctx, rec.ChunkID)
	if err != nil {
		if store.IsNotFound(err) {
			l.pending.Delete(pendingKey)
			return Outcome{}, nil
		}
		return Outcome{}, fmt.Errorf("load chunk %s: %w", rec.ChunkID, err)
	}

	a, ok := findBySelectedText(chunk.Content, rec.OriginalText, annotation.AIPending)
	if !ok {
		l.pending.Delete(pendingKey)
		return Outcome{}, nil
	}

	oldMarkup := a.Markup(chunk.Content)
	a.Priority = annotation.Priority{Class: annotation.AIDone}
	a.Alternatives = alternatives
	a.Selected = 0

	baseHash, err := l.baseHashFor(ctx, chunk, "")
	if err != nil {
		return Outcome{}, err
	}
	res, err := l.engine.Replace(ctx, rec.ChunkID, baseHash, oldMarkup, annotation.Serialize(a))
	if err != nil {
		return Outcome{}, err
	}
	l.pending.Delete(pendingKey)

	if res.Found {
		l.emit(ctx, notify.Event{
			Type:    notify.EventAlternativesReady,
			ChunkID: rec.ChunkID,
			Message: fmt.Sprintf("%d alternatives ready for %q", len(alternatives), rec.OriginalText),
		})
	}
	return Outcome{Found: res.Found, ContentHash: res.ContentHash}, nil
}

// UpdateSelection moves the chosen-alternative cursor on a done annotation.
// newSel ranges over [0, len(alternatives)], where 0 keeps the original text.
func (l *Lifecycle) UpdateSelection(ctx context.Context, chunkID, baseHash, originalText string, newSel int) (Outcome, error) {
	chunk, err := l.chunks.GetChunk(ctx, chunkID)
	if err != nil {
		if store.IsNotFound(err) {
			return Outcome{}, nil
		}
		return Outcome{}, fmt.Errorf("load chunk %s: %w", chunkID, err)
	}

	a, ok := findBySelectedText(chunk.Content, originalText, annotation.AIDone)
	if !ok {
		return Outcome{}, nil
	}
	if newSel < 0 || newSel > len(a.Alternatives) {
		return Outcome{}, ErrSelectionOutOfRange
	}

	oldMarkup := a.Markup(chunk.Content)
	a.Selected = newSel

	baseHash, err = l.baseHashFor(ctx, chunk, baseHash)
	if err != nil {
		return Outcome{}, err
	}
	res, err := l.engine.Replace(ctx, chunkID, baseHash, oldMarkup, annotation.Serialize(a))
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Found: res.Found, ContentHash: res.ContentHash}, nil
}

// Confirm substitutes the chosen alternative for the whole annotation. The
// selection cursor is one-indexed over the alternatives; zero means nothing
// was chosen and confirming is an error.
func (l *Lifecycle) Confirm(ctx context.Context, chunkID, baseHash, originalText string) (Outcome, error) {
	chunk, err := l.chunks.GetChunk(ctx, chunkID)
	if err != nil {
		if store.IsNotFound(err) {
			return Outcome{}, nil
		}
		return Outcome{}, fmt.Errorf("load chunk %s: %w", chunkID, err)
	}

	a, ok := findBySelectedText(chunk.Content, originalText, annotation.AIDone)
	if !ok {
		return Outcome{}, nil
	}
	if a.Selected == 0 {
		return Outcome{}, ErrNoSelection
	}

	replacement := a.Alternatives[a.Selected-1]

	baseHash, err = l.baseHashFor(ctx, chunk, baseHash)
	if err != nil {
		return Outcome{}, err
	}
	res, err := l.engine.Replace(ctx, chunkID, baseHash, a.Markup(chunk.Content), replacement)
	if err != nil {
		return Outcome{}, err
	}
	if res.Found {
		l.emit(ctx, notify.Event{
			Type:    notify.EventAnnotationRemoved,
			ChunkID: chunkID,
			Message: fmt.Sprintf("applied alternative for %q", originalText),
		})
	}
	return Outcome{Found: res.Found, ContentHash: res.ContentHash}, nil
}

// Cancel removes a pending or done annotation, restoring the original text.
// Idempotent: a second cancel finds nothing and no-ops. An AI response still
// in flight will later find no pending annotation and no-op in turn.
func (l *Lifecycle) Cancel(ctx context.Context, chunkID, baseHash, originalText string) (Outcome, error) {
	l.pending.Delete(PendingKey(chunkID, originalText))

	chunk, err := l.chunks.GetChunk(ctx, chunkID)
	if err != nil {
		if store.IsNotFound(err) {
			return Outcome{}, nil
		}
		return Outcome{}, fmt.Errorf("load chunk %s: %w", chunkID, err)
	}

	a, ok := findBySelectedText(chunk.Content, originalText, annotation.AIPending, annotation.AIDone)
	if !ok {
		return Outcome{}, nil
	}

	baseHash, err = l.baseHashFor(ctx, chunk, baseHash)
	if err != nil {
		return Outcome{}, err
	}
	res, err := l.engine.Replace(ctx, chunkID, baseHash, a.Markup(chunk.Content), originalText)
	if err != nil {
		return Outcome{}, err
	}
	if res.Found {
		l.emit(ctx, notify.Event{
			Type:    notify.EventAnnotationRemoved,
			ChunkID: chunkID,
			Message: fmt.Sprintf("cancelled revision of %q", originalText),
		})
	}
	return Outcome{Found: res.Found, ContentHash: res.ContentHash}, nil
}

// baseHashFor resolves the concurrency token for a write. Client-driven
// transitions pass their last-observed hash through; server-driven ones pass
// "" and write against the document's current hash.
func (l *Lifecycle) baseHashFor(ctx context.Context, chunk store.Chunk, baseHash string) (string, error) {
	if baseHash != "" {
		return baseHash, nil
	}
	doc, err := l.chunks.GetDocument(ctx, chunk.DocumentID)
	if err != nil {
		return "", fmt.Errorf("load document %s: %w", chunk.DocumentID, err)
	}
	return doc.ContentHash, nil
}

func (l *Lifecycle) emit(ctx context.Context, event notify.Event) {
	if l.notifier != nil {
		l.notifier.Notify(ctx, event)
	}
}

// findBySelectedText returns the first annotation of either grammar form
// whose selected text matches and whose priority class is one of classes.
func findBySelectedText(content, selectedText string, classes ...annotation.PriorityClass) (annotation.Annotation, bool) {
	for _, a := range annotation.ParseAll(content) {
		if a.SelectedText != selectedText {
			continue
		}
		for _, c := range classes {
			if a.Priority.Class == c {
				return a, true
			}
		}
	}
	return annotation.Annotation{}, false
}
