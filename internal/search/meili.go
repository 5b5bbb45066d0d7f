package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const (
	idxChunks      = "tramando_chunks"
	idxAnnotations = "tramando_annotations"
)

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures indexes.
// Returns a client that reports unhealthy if the initial connection fails;
// the caller proceeds with the Postgres fallback.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	// Initial health check
	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndexes()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndexes() {
	indexes := []struct {
		uid        string
		primaryKey string
		filterable []string
		searchable []string
	}{
		{
			uid:        idxChunks,
			primaryKey: "id",
			filterable: []string{"documentId"},
			searchable: []string{"title", "content"},
		},
		{
			uid:        idxAnnotations,
			primaryKey: "id",
			filterable: []string{"documentId", "chunkId", "kind"},
			searchable: []string{"selectedText", "comment"},
		},
	}

	for _, idx := range indexes {
		if _, err := m.client.CreateIndex(&meili.IndexConfig{
			Uid:        idx.uid,
			PrimaryKey: idx.primaryKey,
		}); err != nil {
			log.Printf("search: create index %s (may already exist): %v", idx.uid, err)
		}

		index := m.client.Index(idx.uid)
		filterableInterface := make([]interface{}, len(idx.filterable))
		for i, v := range idx.filterable {
			filterableInterface[i] = v
		}
		if _, err := index.UpdateFilterableAttributes(&filterableInterface); err != nil {
			log.Printf("search: update filterable attrs for %s: %v", idx.uid, err)
		}
		if _, err := index.UpdateSearchableAttributes(&idx.searchable); err != nil {
			log.Printf("search: update searchable attrs for %s: %v", idx.uid, err)
		}
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring indexes")
				m.configureIndexes()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries both indexes (or a filtered subset) and merges results.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	var queries []*meili.SearchRequest
	targetIndexes := []struct {
		uid  string
		rtyp ResultType
	}{
		{idxChunks, ResultChunk},
		{idxAnnotations, ResultAnnotation},
	}

	for _, ti := range targetIndexes {
		if q.FilterType != "" && q.FilterType != ti.rtyp {
			continue
		}
		sr := &meili.SearchRequest{
			IndexUID:              ti.uid,
			Limit:                 limit,
			Offset:                int64(q.Offset),
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
			ShowRankingScore:      true,
		}

		var filters []string
		if q.FilterDocumentID != "" {
			filters = append(filters, fmt.Sprintf("documentId = %q", q.FilterDocumentID))
		}
		if q.FilterKind != "" && ti.rtyp == ResultAnnotation {
			filters = append(filters, fmt.Sprintf("kind = %q", q.FilterKind))
		}
		if len(filters) > 0 {
			sr.Filter = filters
		}
		queries = append(queries, sr)
	}

	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: queries,
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, sr := range resp.Results {
		total += int(sr.EstimatedTotalHits)
		rtyp := indexToResultType(sr.IndexUID)
		for _, hit := range sr.Hits {
			results = append(results, hitToResult(hit, rtyp))
		}
	}

	return results, total, nil
}

func indexToResultType(uid string) ResultType {
	switch uid {
	case idxChunks:
		return ResultChunk
	case idxAnnotations:
		return ResultAnnotation
	default:
		return ""
	}
}

func hitToResult(hit meili.Hit, rtyp ResultType) Result {
	r := Result{Type: rtyp}
	r.ID = decodeString(hit, "id")
	r.ChunkID = decodeString(hit, "chunkId")
	r.DocumentID = decodeString(hit, "documentId")

	switch rtyp {
	case ResultChunk:
		r.Title = firstNonBlank(decodeFormattedString(hit, "title"), decodeString(hit, "title"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "content"), decodeString(hit, "content"))
		r.ChunkID = r.ID // chunk's own ID
	case ResultAnnotation:
		r.Kind = decodeString(hit, "kind")
		r.Title = firstNonBlank(decodeFormattedString(hit, "selectedText"), decodeString(hit, "selectedText"))
		r.Snippet = firstNonBlank(decodeFormattedString(hit, "comment"), decodeString(hit, "comment"))
	}
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexChunk adds or updates a chunk in the search index.
func (m *Meili) IndexChunk(c ChunkRecord) error {
	_, err := m.client.Index(idxChunks).AddDocuments([]ChunkRecord{c}, nil)
	return err
}

// IndexAnnotations replaces the indexed annotations of one chunk. The old
// records are deleted first so annotations removed from the prose do not
// linger as stale hits.
func (m *Meili) IndexAnnotations(chunkID string, anns []AnnotationRecord) error {
	if _, err := m.client.Index(idxAnnotations).DeleteDocumentsByFilter(fmt.Sprintf("chunkId = %q", chunkID), nil); err != nil {
		return fmt.Errorf("clear annotations for %s: %w", chunkID, err)
	}
	if len(anns) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAnnotations).AddDocuments(anns, nil)
	return err
}

// DeleteChunk removes a chunk and its annotations from the search index.
func (m *Meili) DeleteChunk(id string) error {
	if _, err := m.client.Index(idxChunks).DeleteDocument(id, nil); err != nil {
		return err
	}
	_, err := m.client.Index(idxAnnotations).DeleteDocumentsByFilter(fmt.Sprintf("chunkId = %q", id), nil)
	return err
}

// IndexChunks bulk-indexes chunks.
func (m *Meili) IndexChunks(chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	_, err := m.client.Index(idxChunks).AddDocuments(chunks, nil)
	return err
}

// IndexAllAnnotations bulk-indexes annotation records.
func (m *Meili) IndexAllAnnotations(anns []AnnotationRecord) error {
	if len(anns) == 0 {
		return nil
	}
	_, err := m.client.Index(idxAnnotations).AddDocuments(anns, nil)
	return err
}
