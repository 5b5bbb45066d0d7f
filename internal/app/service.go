package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/vipenzo/tramando-sub001/internal/annotation"
	"github.com/vipenzo/tramando-sub001/internal/export"
	"github.com/vipenzo/tramando-sub001/internal/mutate"
	"github.com/vipenzo/tramando-sub001/internal/notify"
	"github.com/vipenzo/tramando-sub001/internal/revision"
	"github.com/vipenzo/tramando-sub001/internal/search"
	"github.com/vipenzo/tramando-sub001/internal/store"
	"github.com/vipenzo/tramando-sub001/internal/trmd"
)

type dataStore interface {
	Ping(context.Context) error
	ListDocuments(context.Context) ([]store.Document, error)
	CreateDocument(context.Context, store.Document) (store.Document, error)
	GetDocument(ctx context.Context, documentID string) (store.Document, error)
	LoadDocument(ctx context.Context, documentID string) (store.Document, []store.Chunk, error)
	GetChunk(ctx context.Context, chunkID string) (store.Chunk, error)
	SaveChunkContent(ctx context.Context, chunkID, content, baseHash string) (string, error)
	AddNode(ctx context.Context, documentID, parentID, title, baseHash string) (store.Chunk, string, error)
	DeleteNode(ctx context.Context, chunkID, baseHash string) (string, error)
	AddAspectRef(ctx context.Context, chunkID, aspectID, baseHash string) (string, error)
	RemoveAspectRef(ctx context.Context, chunkID, aspectID, baseHash string) (string, error)
	AddAnnotation(ctx context.Context, chunkID, markup, baseHash string) (string, error)
	DeleteAnnotation(ctx context.Context, chunkID, selectedText, baseHash string) (string, bool, error)
	ReplaceChunks(ctx context.Context, documentID string, chunks []store.Chunk, baseHash string) (string, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexChunk(chunkID, documentID, title, content string)
	DeleteChunk(id string)
}

type snapshotService interface {
	EnsureDocumentRepo(documentID, serialized, author string) error
	Commit(documentID, serialized, author, message string) (store.Snapshot, error)
	GetContentByHash(documentID, hash string) (string, error)
	History(documentID string, limit int) ([]store.Snapshot, error)
}

type exportService interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type aiClient interface {
	Revise(ctx context.Context, text string) (string, error)
}

// Deps carries the optional collaborators around the store. Nil fields
// degrade gracefully: no search means empty results, no snapshots means no
// history, no AI means revision requests stay pending.
type Deps struct {
	Search    searchService
	Snapshots snapshotService
	Exporter  exportService
	AI        aiClient
	Notifier  notify.Notifier
	Pending   revision.PendingStore
	Registry  *mutate.EditorRegistry
}

type Service struct {
	store     dataStore
	search    searchService
	snapshots snapshotService
	exporter  exportService
	ai        aiClient
	notifier  notify.Notifier
	engine    *mutate.Engine
	revision  *revision.Lifecycle
}

func NewService(st dataStore, deps Deps) *Service {
	if deps.Notifier == nil {
		deps.Notifier = notify.LogNotifier{}
	}
	if deps.Pending == nil {
		deps.Pending = revision.NewMemoryPendingStore()
	}
	if deps.Registry == nil {
		deps.Registry = mutate.NewEditorRegistry()
	}

	svc := &Service{
		store:     st,
		search:    deps.Search,
		snapshots: deps.Snapshots,
		exporter:  deps.Exporter,
		ai:        deps.AI,
		notifier:  deps.Notifier,
	}
	svc.engine = mutate.NewEngine(st, deps.Registry, svc)
	svc.revision = revision.NewLifecycle(st, svc.engine, deps.Pending, deps.Notifier)
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// EditorRegistry exposes the port registry so transports (or tests) can
// mount editing surfaces.
func (s *Service) EditorRegistry() *mutate.EditorRegistry {
	return s.engine.Registry()
}

// ChunkChanged re-indexes and snapshots a chunk after the mutation engine
// rewrote it outside the regular save endpoint.
func (s *Service) ChunkChanged(ctx context.Context, chunkID string) {
	chunk, err := s.store.GetChunk(ctx, chunkID)
	if err != nil {
		log.Printf("app: refresh of chunk %s failed: %v", chunkID, err)
		return
	}
	if s.search != nil {
		s.search.IndexChunk(chunk.ID, chunk.DocumentID, chunk.Title, chunk.Content)
	}
	s.notifier.Notify(ctx, notify.Event{
		Type:       notify.EventChunkChanged,
		DocumentID: chunk.DocumentID,
		ChunkID:    chunk.ID,
	})
	s.commitSnapshot(chunk.DocumentID, "", fmt.Sprintf("Rewrite chunk %s", chunk.ID))
}

// ── Documents ──

func (s *Service) ListDocuments(ctx context.Context) (map[string]any, error) {
	items, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	documents := make([]map[string]any, 0, len(items))
	for _, d := range items {
		documents = append(documents, documentPayload(d))
	}
	return map[string]any{"documents": documents}, nil
}

func (s *Service) CreateDocument(ctx context.Context, title, author string) (map[string]any, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	doc, err := s.store.CreateDocument(ctx, store.Document{Title: title, Author: strings.TrimSpace(author)})
	if err != nil {
		return nil, err
	}
	if s.snapshots != nil {
		serialized, _ := store.DocumentDigest(doc, nil)
		if err := s.snapshots.EnsureDocumentRepo(doc.ID, serialized, doc.Author); err != nil {
			log.Printf("app: baseline snapshot for %s failed: %v", doc.ID, err)
		}
	}
	return map[string]any{"document": documentPayload(doc)}, nil
}

func (s *Service) GetDocument(ctx context.Context, documentID string) (map[string]any, error) {
	doc, chunks, err := s.store.LoadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(chunks))
	for _, c := range chunks {
		items = append(items, chunkPayload(c))
	}
	return map[string]any{
		"document":    documentPayload(doc),
		"chunks":      items,
		"contentHash": doc.ContentHash,
	}, nil
}

// DocumentTrmd returns the canonical serialization of the current tree.
func (s *Service) DocumentTrmd(ctx context.Context, documentID string) (string, error) {
	doc, chunks, err := s.store.LoadDocument(ctx, documentID)
	if err != nil {
		return "", err
	}
	serialized, _ := store.DocumentDigest(doc, chunks)
	return serialized, nil
}

// ── Tree and content writes ──
// Every write returns the updated content hash; a stale baseHash surfaces as
// *store.ConflictError and is never retried here.

func (s *Service) SaveChunk(ctx context.Context, chunkID, content, baseHash string) (map[string]any, error) {
	newHash, err := s.store.SaveChunkContent(ctx, chunkID, content, baseHash)
	if err != nil {
		return nil, err
	}
	s.afterChunkWrite(ctx, chunkID, fmt.Sprintf("Save chunk %s", chunkID))
	return map[string]any{"contentHash": newHash}, nil
}

func (s *Service) AddNode(ctx context.Context, documentID, parentID, title, baseHash string) (map[string]any, error) {
	if strings.TrimSpace(title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	chunk, newHash, err := s.store.AddNode(ctx, documentID, parentID, strings.TrimSpace(title), baseHash)
	if err != nil {
		return nil, err
	}
	s.afterChunkWrite(ctx, chunk.ID, fmt.Sprintf("Add node %s", chunk.ID))
	return map[string]any{"chunk": chunkPayload(chunk), "contentHash": newHash}, nil
}

func (s *Service) DeleteNode(ctx context.Context, documentID, chunkID, baseHash string) (map[string]any, error) {
	newHash, err := s.store.DeleteNode(ctx, chunkID, baseHash)
	if err != nil {
		return nil, err
	}
	if s.search != nil {
		s.search.DeleteChunk(chunkID)
	}
	s.commitSnapshot(documentID, "", fmt.Sprintf("Delete node %s", chunkID))
	return map[string]any{"contentHash": newHash}, nil
}

func (s *Service) AddAspectRef(ctx context.Context, chunkID, aspectID, baseHash string) (map[string]any, error) {
	if strings.TrimSpace(aspectID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "aspectId is required", nil)
	}
	newHash, err := s.store.AddAspectRef(ctx, chunkID, aspectID, baseHash)
	if err != nil {
		return nil, err
	}
	s.afterChunkWrite(ctx, chunkID, fmt.Sprintf("Reference aspect %s from %s", aspectID, chunkID))
	return map[string]any{"contentHash": newHash}, nil
}

func (s *Service) RemoveAspectRef(ctx context.Context, chunkID, aspectID, baseHash string) (map[string]any, error) {
	newHash, err := s.store.RemoveAspectRef(ctx, chunkID, aspectID, baseHash)
	if err != nil {
		return nil, err
	}
	s.afterChunkWrite(ctx, chunkID, fmt.Sprintf("Drop aspect %s from %s", aspectID, chunkID))
	return map[string]any{"contentHash": newHash}, nil
}

// ── Annotations ──

func (s *Service) AddAnnotation(ctx context.Context, chunkID, markup, baseHash string) (map[string]any, error) {
	newHash, err := s.store.AddAnnotation(ctx, chunkID, markup, baseHash)
	if err != nil {
		return nil, err
	}
	s.afterChunkWrite(ctx, chunkID, fmt.Sprintf("Annotate chunk %s", chunkID))
	return map[string]any{"contentHash": newHash}, nil
}

func (s *Service) DeleteAnnotation(ctx context.Context, chunkID, selectedText, baseHash string) (map[string]any, error) {
	newHash, found, err := s.store.DeleteAnnotation(ctx, chunkID, selectedText, baseHash)
	if err != nil {
		return nil, err
	}
	if found {
		s.afterChunkWrite(ctx, chunkID, fmt.Sprintf("Remove annotation from %s", chunkID))
		s.notifier.Notify(ctx, notify.Event{
			Type:    notify.EventAnnotationRemoved,
			ChunkID: chunkID,
			Message: fmt.Sprintf("annotation on %q removed", selectedText),
		})
	}
	return map[string]any{"contentHash": newHash, "found": found}, nil
}

// Annotations returns the sidebar payload: annotations grouped by kind, each
// group in two-tier priority order, plus the badge total.
func (s *Service) Annotations(ctx context.Context, documentID string) (map[string]any, error) {
	sources, err := s.annotationSources(ctx, documentID)
	if err != nil {
		return nil, err
	}
	grouped := annotation.ExtractAll(sources)
	payload := make(map[string][]map[string]any, len(grouped))
	for kind, group := range grouped {
		items := make([]map[string]any, 0, len(group))
		for _, a := range group {
			items = append(items, annotationPayload(a))
		}
		payload[string(kind)] = items
	}
	return map[string]any{
		"annotations": payload,
		"total":       annotation.Count(sources),
	}, nil
}

func (s *Service) AnnotationCount(ctx context.Context, documentID string) (map[string]any, error) {
	sources, err := s.annotationSources(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"total": annotation.Count(sources)}, nil
}

func (s *Service) annotationSources(ctx context.Context, documentID string) ([]annotation.Source, error) {
	_, chunks, err := s.store.LoadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	sources := make([]annotation.Source, 0, len(chunks))
	for _, c := range chunks {
		sources = append(sources, annotation.Source{ChunkID: c.ID, Content: c.Content})
	}
	return sources, nil
}

// ── AI revision lifecycle ──

func (s *Service) RevisionInsert(ctx context.Context, chunkID, baseHash, selectedText, author string) (map[string]any, error) {
	key, outcome, err := s.revision.Insert(ctx, chunkID, baseHash, selectedText, author)
	if err != nil {
		return nil, err
	}
	if outcome.Found && s.ai != nil {
		go s.requestAlternatives(key, selectedText)
	}
	return map[string]any{
		"pendingKey":  key,
		"found":       outcome.Found,
		"contentHash": outcome.ContentHash,
	}, nil
}

// requestAlternatives runs the AI round-trip off the request path. A response
// arriving after the annotation was cancelled no-ops inside Complete.
func (s *Service) requestAlternatives(pendingKey, selectedText string) {
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	raw, err := s.ai.Revise(ctx, selectedText)
	if err != nil {
		log.Printf("revision: AI request for %s failed: %v", pendingKey, err)
		return
	}
	alternatives := revision.SplitAlternatives(raw)
	if len(alternatives) == 0 {
		log.Printf("revision: AI response for %s had no usable alternatives", pendingKey)
		return
	}
	if _, err := s.revision.Complete(ctx, pendingKey, alternatives); err != nil {
		log.Printf("revision: completing %s failed: %v", pendingKey, err)
	}
}

// CompleteRevision applies an externally produced set of alternatives to a
// pending request. It backs the direct completion endpoint used when the AI
// call is made by the client.
func (s *Service) CompleteRevision(ctx context.Context, pendingKey string, alternatives []string) (map[string]any, error) {
	outcome, err := s.revision.Complete(ctx, pendingKey, alternatives)
	if err != nil {
		return nil, err
	}
	return outcomePayload(outcome), nil
}

func (s *Service) RevisionSelect(ctx context.Context, chunkID, baseHash, originalText string, selected int) (map[string]any, error) {
	outcome, err := s.revision.UpdateSelection(ctx, chunkID, baseHash, originalText, selected)
	if err != nil {
		return nil, err
	}
	return outcomePayload(outcome), nil
}

func (s *Service) RevisionConfirm(ctx context.Context, chunkID, baseHash, originalText string) (map[string]any, error) {
	outcome, err := s.revision.Confirm(ctx, chunkID, baseHash, originalText)
	if err != nil {
		return nil, err
	}
	return outcomePayload(outcome), nil
}

func (s *Service) RevisionCancel(ctx context.Context, chunkID, baseHash, originalText string) (map[string]any, error) {
	outcome, err := s.revision.Cancel(ctx, chunkID, baseHash, originalText)
	if err != nil {
		return nil, err
	}
	return outcomePayload(outcome), nil
}

// ── History ──

func (s *Service) History(ctx context.Context, documentID string, limit int) (map[string]any, error) {
	if s.snapshots == nil {
		return map[string]any{"snapshots": []any{}}, nil
	}
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	snapshots, err := s.snapshots.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(snapshots))
	for _, snap := range snapshots {
		items = append(items, map[string]any{
			"hash":      snap.Hash,
			"message":   snap.Message,
			"author":    snap.Author,
			"createdAt": snap.CreatedAt,
		})
	}
	return map[string]any{"snapshots": items}, nil
}

func (s *Service) SnapshotContent(ctx context.Context, documentID, hash string) (map[string]any, error) {
	if s.snapshots == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "snapshot history not configured", nil)
	}
	content, err := s.snapshots.GetContentByHash(documentID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "snapshot not found", nil)
	}
	return map[string]any{"hash": hash, "content": content}, nil
}

// Restore replaces the document's chunk tree with a past snapshot. It is a
// hash-checked write like any other, so it conflicts when the caller's view
// is stale.
func (s *Service) Restore(ctx context.Context, documentID, hash, baseHash string) (map[string]any, error) {
	if s.snapshots == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "snapshot history not configured", nil)
	}
	content, err := s.snapshots.GetContentByHash(documentID, hash)
	if err != nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "snapshot not found", nil)
	}
	_, parsed, err := trmd.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse snapshot %s: %w", hash, err)
	}
	newHash, err := s.store.ReplaceChunks(ctx, documentID, store.ChunksFromTrmd(documentID, parsed), baseHash)
	if err != nil {
		return nil, err
	}
	s.commitSnapshot(documentID, "", fmt.Sprintf("Restore snapshot %.8s", hash))
	s.reindexDocument(ctx, documentID)
	return map[string]any{"contentHash": newHash}, nil
}

// ── Export and search ──

func (s *Service) ExportDocument(ctx context.Context, req export.Request) (*export.Result, error) {
	if s.exporter == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "export not configured", nil)
	}
	return s.exporter.Export(ctx, req)
}

func (s *Service) Search(ctx context.Context, q search.Query) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}, nil
	}
	return s.search.Search(q), nil
}

// ── Internals ──

func (s *Service) afterChunkWrite(ctx context.Context, chunkID, message string) {
	chunk, err := s.store.GetChunk(ctx, chunkID)
	if err != nil {
		log.Printf("app: post-write load of chunk %s failed: %v", chunkID, err)
		return
	}
	if s.search != nil {
		s.search.IndexChunk(chunk.ID, chunk.DocumentID, chunk.Title, chunk.Content)
	}
	s.commitSnapshot(chunk.DocumentID, "", message)
}

// commitSnapshot records the current tree in the document's snapshot log.
// Failures are logged, never surfaced: the write already succeeded.
func (s *Service) commitSnapshot(documentID, author, message string) {
	if s.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doc, chunks, err := s.store.LoadDocument(ctx, documentID)
	if err != nil {
		log.Printf("app: snapshot load of %s failed: %v", documentID, err)
		return
	}
	serialized, _ := store.DocumentDigest(doc, chunks)
	if err := s.snapshots.EnsureDocumentRepo(documentID, serialized, author); err != nil {
		log.Printf("app: snapshot repo for %s failed: %v", documentID, err)
		return
	}
	if _, err := s.snapshots.Commit(documentID, serialized, author, message); err != nil {
		log.Printf("app: snapshot commit for %s failed: %v", documentID, err)
	}
}

func (s *Service) reindexDocument(ctx context.Context, documentID string) {
	if s.search == nil {
		return
	}
	_, chunks, err := s.store.LoadDocument(ctx, documentID)
	if err != nil {
		log.Printf("app: reindex load of %s failed: %v", documentID, err)
		return
	}
	for _, c := range chunks {
		s.search.IndexChunk(c.ID, c.DocumentID, c.Title, c.Content)
	}
}

func documentPayload(d store.Document) map[string]any {
	return map[string]any{
		"id":          d.ID,
		"title":       d.Title,
		"author":      d.Author,
		"contentHash": d.ContentHash,
		"updatedAt":   d.UpdatedAt,
	}
}

func chunkPayload(c store.Chunk) map[string]any {
	aspects := c.Aspects
	if aspects == nil {
		aspects = []string{}
	}
	return map[string]any{
		"id":         c.ID,
		"documentId": c.DocumentID,
		"parentId":   c.ParentID,
		"title":      c.Title,
		"content":    c.Content,
		"position":   c.Position,
		"aspects":    aspects,
	}
}

func annotationPayload(a annotation.Annotation) map[string]any {
	alternatives := a.Alternatives
	if alternatives == nil {
		alternatives = []string{}
	}
	return map[string]any{
		"kind":         string(a.Kind),
		"chunkId":      a.ChunkID,
		"selectedText": a.SelectedText,
		"priority":     priorityPayload(a.Priority),
		"comment":      a.Comment,
		"author":       a.Author,
		"alternatives": alternatives,
		"selected":     a.Selected,
	}
}

func priorityPayload(p annotation.Priority) any {
	switch p.Class {
	case annotation.Numeric:
		return p.Value
	case annotation.AIPending:
		return "AI"
	case annotation.AIDone:
		return "AI-DONE"
	default:
		return nil
	}
}

func outcomePayload(o revision.Outcome) map[string]any {
	return map[string]any{"found": o.Found, "contentHash": o.ContentHash}
}
