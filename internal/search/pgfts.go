package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/vipenzo/tramando-sub001/internal/annotation"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
// Chunk hits come straight from the chunks.fts column; annotation hits are
// recovered by parsing the matching chunks' inline markup, since annotations
// have no table of their own.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search queries chunks with plainto_tsquery and ts_rank, then derives
// annotation results from the matched content when requested.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	ctx := context.Background()
	var results []Result

	if q.FilterType == "" || q.FilterType == ResultChunk {
		chunkResults, err := p.searchChunks(ctx, q)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, chunkResults...)
	}

	if q.FilterType == "" || q.FilterType == ResultAnnotation {
		annResults, err := p.searchAnnotations(ctx, q)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, annResults...)
	}

	total := len(results)
	if offset >= total {
		return []Result{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return results[offset:end], total, nil
}

func (p *PgFTS) searchChunks(ctx context.Context, q Query) ([]Result, error) {
	where := "c.fts @@ plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	if q.FilterDocumentID != "" {
		where += " AND c.document_id = $2"
		args = append(args, q.FilterDocumentID)
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.title,
			ts_headline('simple', c.content, plainto_tsquery('simple', $1), 'MaxFragments=1,MaxWords=30') AS snippet
		FROM chunks c
		WHERE %s
		ORDER BY ts_rank(c.fts, plainto_tsquery('simple', $1)) DESC`, where)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgfts chunks: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		r := Result{Type: ResultChunk}
		if err := rows.Scan(&r.ID, &r.DocumentID, &r.Title, &r.Snippet); err != nil {
			return nil, fmt.Errorf("pgfts scan chunk: %w", err)
		}
		r.ChunkID = r.ID
		results = append(results, r)
	}
	return results, rows.Err()
}

func (p *PgFTS) searchAnnotations(ctx context.Context, q Query) ([]Result, error) {
	where := "c.fts @@ plainto_tsquery('simple', $1)"
	args := []any{q.Text}
	if q.FilterDocumentID != "" {
		where += " AND c.document_id = $2"
		args = append(args, q.FilterDocumentID)
	}

	query := fmt.Sprintf(`
		SELECT c.id, c.document_id, c.content
		FROM chunks c
		WHERE %s`, where)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgfts annotations: %w", err)
	}
	defer rows.Close()

	needle := strings.ToLower(q.Text)
	var results []Result
	for rows.Next() {
		var chunkID, documentID, content string
		if err := rows.Scan(&chunkID, &documentID, &content); err != nil {
			return nil, fmt.Errorf("pgfts scan annotation chunk: %w", err)
		}
		for i, a := range annotation.ParseAll(content) {
			if q.FilterKind != "" && string(a.Kind) != q.FilterKind {
				continue
			}
			if !strings.Contains(strings.ToLower(a.SelectedText), needle) &&
				!strings.Contains(strings.ToLower(a.Comment), needle) {
				continue
			}
			results = append(results, Result{
				Type:       ResultAnnotation,
				ID:         fmt.Sprintf("%s_%d", chunkID, i),
				Title:      a.SelectedText,
				Snippet:    a.Comment,
				ChunkID:    chunkID,
				DocumentID: documentID,
				Kind:       string(a.Kind),
			})
		}
	}
	return results, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ChunkRecord, []AnnotationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, document_id, title, content
		FROM chunks
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]ChunkRecord, 0)
	annotations := make([]AnnotationRecord, 0)
	for rows.Next() {
		var c ChunkRecord
		var content string
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Title, &content); err != nil {
			return nil, nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Content = annotation.Strip(content)
		chunks = append(chunks, c)
		annotations = append(annotations, AnnotationRecords(c.ID, c.DocumentID, content)...)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate chunks: %w", err)
	}

	return chunks, annotations, nil
}

// AnnotationRecords parses content and returns one index record per inline
// annotation, with deterministic per-chunk IDs.
func AnnotationRecords(chunkID, documentID, content string) []AnnotationRecord {
	anns := annotation.ParseAll(content)
	out := make([]AnnotationRecord, 0, len(anns))
	for i, a := range anns {
		out = append(out, AnnotationRecord{
			ID:           fmt.Sprintf("%s_%d", chunkID, i),
			ChunkID:      chunkID,
			DocumentID:   documentID,
			Kind:         string(a.Kind),
			SelectedText: a.SelectedText,
			Comment:      a.Comment,
		})
	}
	return out
}
