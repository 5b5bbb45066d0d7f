package search

import (
	"context"
	"log"

	"github.com/vipenzo/tramando-sub001/internal/annotation"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexChunk indexes a chunk and its inline annotations (fire-and-forget to
// Meilisearch). content is the raw chunk content including markup.
func (s *Service) IndexChunk(chunkID, documentID, title, content string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := ChunkRecord{
		ID:         chunkID,
		DocumentID: documentID,
		Title:      title,
		Content:    annotation.Strip(content),
	}
	anns := AnnotationRecords(chunkID, documentID, content)
	go func() {
		if err := s.meili.IndexChunk(record); err != nil {
			log.Printf("search: index chunk %s: %v", chunkID, err)
		}
		if err := s.meili.IndexAnnotations(chunkID, anns); err != nil {
			log.Printf("search: index annotations for %s: %v", chunkID, err)
		}
	}()
}

// DeleteChunk removes a chunk and its annotations from the search index
// (fire-and-forget).
func (s *Service) DeleteChunk(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteChunk(id); err != nil {
			log.Printf("search: delete chunk %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes the given records to Meilisearch.
func (s *Service) ReindexAll(chunks []ChunkRecord, annotations []AnnotationRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(chunks) > 0 {
		if err := s.meili.IndexChunks(chunks); err != nil {
			log.Printf("search: reindex chunks: %v", err)
		}
	}
	if len(annotations) > 0 {
		if err := s.meili.IndexAllAnnotations(annotations); err != nil {
			log.Printf("search: reindex annotations: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	chunks, annotations, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(chunks, annotations)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
