package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/vipenzo/tramando-sub001/internal/annotation"
	"github.com/vipenzo/tramando-sub001/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// querier is satisfied by both *sql.DB and *sql.Tx so chunk loading can run
// inside or outside a transaction.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, author, content_hash, updated_at
		FROM documents
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(&item.ID, &item.Title, &item.Author, &item.ContentHash, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	return getDocument(ctx, s.db, documentID, false)
}

func getDocument(ctx context.Context, q querier, documentID string, forUpdate bool) (Document, error) {
	query := `SELECT id, title, author, content_hash, updated_at FROM documents WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var item Document
	err := q.QueryRowContext(ctx, query, documentID).
		Scan(&item.ID, &item.Title, &item.Author, &item.ContentHash, &item.UpdatedAt)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = util.NewID("doc")
	}
	_, hash := DocumentDigest(doc, nil)
	doc.ContentHash = hash

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, author, content_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING updated_at
	`, doc.ID, doc.Title, doc.Author, doc.ContentHash).Scan(&doc.UpdatedAt)
	if err != nil {
		return Document{}, fmt.Errorf("insert document: %w", err)
	}
	return doc, nil
}

// LoadDocument returns the document together with its chunk tree and the
// content hash recomputed from the stored content. The recomputed hash is
// what clients must echo back on save.
func (s *PostgresStore) LoadDocument(ctx context.Context, documentID string) (Document, []Chunk, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil {
		return Document{}, nil, err
	}
	chunks, err := listChunks(ctx, s.db, documentID)
	if err != nil {
		return Document{}, nil, err
	}
	_, doc.ContentHash = DocumentDigest(doc, chunks)
	return doc, chunks, nil
}

func (s *PostgresStore) GetChunk(ctx context.Context, chunkID string) (Chunk, error) {
	return getChunk(ctx, s.db, chunkID)
}

func getChunk(ctx context.Context, q querier, chunkID string) (Chunk, error) {
	var c Chunk
	err := q.QueryRowContext(ctx, `
		SELECT id, document_id, COALESCE(parent_id, ''), title, content, position
		FROM chunks
		WHERE id=$1
	`, chunkID).Scan(&c.ID, &c.DocumentID, &c.ParentID, &c.Title, &c.Content, &c.Position)
	if err != nil {
		return Chunk{}, err
	}
	aspects, err := chunkAspects(ctx, q, chunkID)
	if err != nil {
		return Chunk{}, err
	}
	c.Aspects = aspects
	return c, nil
}

func listChunks(ctx context.Context, q querier, documentID string) ([]Chunk, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, document_id, COALESCE(parent_id, ''), title, content, position
		FROM chunks
		WHERE document_id=$1
		ORDER BY position, id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	chunks := make([]Chunk, 0)
	for rows.Next() {
		var c Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.ParentID, &c.Title, &c.Content, &c.Position); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}

	refRows, err := q.QueryContext(ctx, `
		SELECT r.chunk_id, r.aspect_id
		FROM aspect_refs r
		JOIN chunks c ON c.id = r.chunk_id
		WHERE c.document_id=$1
		ORDER BY r.aspect_id
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list aspect refs: %w", err)
	}
	defer refRows.Close()

	refs := make(map[string][]string)
	for refRows.Next() {
		var chunkID, aspectID string
		if err := refRows.Scan(&chunkID, &aspectID); err != nil {
			return nil, fmt.Errorf("scan aspect ref: %w", err)
		}
		refs[chunkID] = append(refs[chunkID], aspectID)
	}
	if err := refRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aspect refs: %w", err)
	}
	for i := range chunks {
		chunks[i].Aspects = refs[chunks[i].ID]
	}
	return chunks, nil
}

func chunkAspects(ctx context.Context, q querier, chunkID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT aspect_id FROM aspect_refs WHERE chunk_id=$1 ORDER BY aspect_id
	`, chunkID)
	if err != nil {
		return nil, fmt.Errorf("list chunk aspects: %w", err)
	}
	defer rows.Close()

	var aspects []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scan chunk aspect: %w", err)
		}
		aspects = append(aspects, a)
	}
	return aspects, rows.Err()
}

// mutateDocument runs fn inside a transaction that holds the document row
// lock, after verifying baseHash against the digest of the stored content.
// On success it recomputes and persists the document hash and returns it.
// A stale baseHash aborts with *ConflictError carrying the current state.
func (s *PostgresStore) mutateDocument(ctx context.Context, documentID, baseHash string, fn func(ctx context.Context, tx *sql.Tx) error) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin document tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	doc, err := getDocument(ctx, tx, documentID, true)
	if err != nil {
		return "", err
	}
	chunks, err := listChunks(ctx, tx, documentID)
	if err != nil {
		return "", err
	}
	serialized, current := DocumentDigest(doc, chunks)
	if baseHash != current {
		return "", &ConflictError{CurrentHash: current, CurrentContent: serialized}
	}

	if err := fn(ctx, tx); err != nil {
		return "", err
	}

	chunks, err = listChunks(ctx, tx, documentID)
	if err != nil {
		return "", err
	}
	_, newHash := DocumentDigest(doc, chunks)
	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET content_hash=$2, updated_at=NOW() WHERE id=$1
	`, documentID, newHash); err != nil {
		return "", fmt.Errorf("update document hash: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit document tx: %w", err)
	}
	return newHash, nil
}

func (s *PostgresStore) chunkDocumentID(ctx context.Context, chunkID string) (string, error) {
	var documentID string
	err := s.db.QueryRowContext(ctx, `SELECT document_id FROM chunks WHERE id=$1`, chunkID).Scan(&documentID)
	if err != nil {
		return "", err
	}
	return documentID, nil
}

// SaveChunkContent performs the hash-checked save of a single chunk's raw
// content.
func (s *PostgresStore) SaveChunkContent(ctx context.Context, chunkID, content, baseHash string) (string, error) {
	documentID, err := s.chunkDocumentID(ctx, chunkID)
	if err != nil {
		return "", err
	}
	return s.mutateDocument(ctx, documentID, baseHash, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE chunks SET content=$2 WHERE id=$1`, chunkID, content)
		if err != nil {
			return fmt.Errorf("update chunk content: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// AddNode inserts a new chunk under parentID (empty for root level) at the
// end of its sibling list.
func (s *PostgresStore) AddNode(ctx context.Context, documentID, parentID, title, baseHash string) (Chunk, string, error) {
	chunk := Chunk{
		ID:         util.NewID("chk"),
		DocumentID: documentID,
		ParentID:   parentID,
		Title:      title,
	}
	newHash, err := s.mutateDocument(ctx, documentID, baseHash, func(ctx context.Context, tx *sql.Tx) error {
		var parent any
		if parentID != "" {
			parent = parentID
		}
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position)+1, 0) FROM chunks
			WHERE document_id=$1 AND parent_id IS NOT DISTINCT FROM $2
		`, documentID, parent).Scan(&chunk.Position)
		if err != nil {
			return fmt.Errorf("next sibling position: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, parent_id, title, content, position)
			VALUES ($1, $2, $3, $4, '', $5)
		`, chunk.ID, documentID, parent, title, chunk.Position); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
		return nil
	})
	if err != nil {
		return Chunk{}, "", err
	}
	return chunk, newHash, nil
}

// DeleteNode removes a chunk; its children are reparented to the deleted
// node's parent so no subtree is silently lost.
func (s *PostgresStore) DeleteNode(ctx context.Context, chunkID, baseHash string) (string, error) {
	documentID, err := s.chunkDocumentID(ctx, chunkID)
	if err != nil {
		return "", err
	}
	return s.mutateDocument(ctx, documentID, baseHash, func(ctx context.Context, tx *sql.Tx) error {
		chunk, err := getChunk(ctx, tx, chunkID)
		if err != nil {
			return err
		}
		var parent any
		if chunk.ParentID != "" {
			parent = chunk.ParentID
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE chunks SET parent_id=$2 WHERE parent_id=$1
		`, chunkID, parent); err != nil {
			return fmt.Errorf("reparent children: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM aspect_refs WHERE chunk_id=$1`, chunkID); err != nil {
			return fmt.Errorf("delete aspect refs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE id=$1`, chunkID); err != nil {
			return fmt.Errorf("delete chunk: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) AddAspectRef(ctx context.Context, chunkID, aspectID, baseHash string) (string, error) {
	documentID, err := s.chunkDocumentID(ctx, chunkID)
	if err != nil {
		return "", err
	}
	return s.mutateDocument(ctx, documentID, baseHash, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO aspect_refs (chunk_id, aspect_id)
			VALUES ($1, $2)
			ON CONFLICT (chunk_id, aspect_id) DO NOTHING
		`, chunkID, aspectID)
		if err != nil {
			return fmt.Errorf("insert aspect ref: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) RemoveAspectRef(ctx context.Context, chunkID, aspectID, baseHash string) (string, error) {
	documentID, err := s.chunkDocumentID(ctx, chunkID)
	if err != nil {
		return "", err
	}
	return s.mutateDocument(ctx, documentID, baseHash, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			DELETE FROM aspect_refs WHERE chunk_id=$1 AND aspect_id=$2
		`, chunkID, aspectID)
		if err != nil {
			return fmt.Errorf("delete aspect ref: %w", err)
		}
		return nil
	})
}

// ReplaceChunks swaps the entire chunk tree of a document for the given one,
// as a single hash-checked write. Restoring a snapshot goes through here, so
// a restore conflicts exactly like any other save.
func (s *PostgresStore) ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk, baseHash string) (string, error) {
	return s.mutateDocument(ctx, documentID, baseHash, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM aspect_refs WHERE chunk_id IN (SELECT id FROM chunks WHERE document_id=$1)
		`, documentID); err != nil {
			return fmt.Errorf("clear aspect refs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id=$1`, documentID); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		for _, c := range chunks {
			var parent any
			if c.ParentID != "" {
				parent = c.ParentID
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO chunks (id, document_id, parent_id, title, content, position)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, c.ID, documentID, parent, c.Title, c.Content, c.Position); err != nil {
				return fmt.Errorf("insert chunk %s: %w", c.ID, err)
			}
			for _, aspectID := range c.Aspects {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO aspect_refs (chunk_id, aspect_id) VALUES ($1, $2)
					ON CONFLICT (chunk_id, aspect_id) DO NOTHING
				`, c.ID, aspectID); err != nil {
					return fmt.Errorf("insert aspect ref %s->%s: %w", c.ID, aspectID, err)
				}
			}
		}
		return nil
	})
}

// AddAnnotation appends serialized annotation markup to the chunk's content.
// The markup must be exactly one valid annotation span.
func (s *PostgresStore) AddAnnotation(ctx context.Context, chunkID, markup, baseHash string) (string, error) {
	anns := annotation.ParseAll(markup)
	if len(anns) != 1 || anns[0].Start != 0 || anns[0].End != len(markup) {
		return "", fmt.Errorf("markup is not a single annotation span")
	}
	documentID, err := s.chunkDocumentID(ctx, chunkID)
	if err != nil {
		return "", err
	}
	return s.mutateDocument(ctx, documentID, baseHash, func(ctx context.Context, tx *sql.Tx) error {
		chunk, err := getChunk(ctx, tx, chunkID)
		if err != nil {
			return err
		}
		content := chunk.Content
		if content != "" && !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		content += markup
		if _, err := tx.ExecContext(ctx, `UPDATE chunks SET content=$2 WHERE id=$1`, chunkID, content); err != nil {
			return fmt.Errorf("append annotation: %w", err)
		}
		return nil
	})
}

// DeleteAnnotation replaces the first annotation matching selectedText with
// the bare text. Reports whether a matching annotation was found; a miss is
// not an error.
func (s *PostgresStore) DeleteAnnotation(ctx context.Context, chunkID, selectedText, baseHash string) (string, bool, error) {
	documentID, err := s.chunkDocumentID(ctx, chunkID)
	if err != nil {
		return "", false, err
	}
	found := false
	newHash, err := s.mutateDocument(ctx, documentID, baseHash, func(ctx context.Context, tx *sql.Tx) error {
		chunk, err := getChunk(ctx, tx, chunkID)
		if err != nil {
			return err
		}
		for _, a := range annotation.ParseAll(chunk.Content) {
			if a.SelectedText != selectedText {
				continue
			}
			found = true
			content := chunk.Content[:a.Start] + a.SelectedText + chunk.Content[a.End:]
			if _, err := tx.ExecContext(ctx, `UPDATE chunks SET content=$2 WHERE id=$1`, chunkID, content); err != nil {
				return fmt.Errorf("remove annotation: %w", err)
			}
			return nil
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return newHash, found, nil
}

// IsNotFound reports whether err is a row miss.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
