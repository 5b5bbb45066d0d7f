package export

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log"

	"github.com/yuin/goldmark"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/vipenzo/tramando-sub001/internal/store"
	"github.com/vipenzo/tramando-sub001/internal/trmd"
)

// DataStore loads the current document tree for export.
type DataStore interface {
	LoadDocument(ctx context.Context, documentID string) (store.Document, []store.Chunk, error)
}

// SnapshotStore loads a past serialization for versioned export.
type SnapshotStore interface {
	GetContentByHash(documentID, hash string) (string, error)
}

// Archiver receives a copy of every export for long-term storage. May be nil.
type Archiver interface {
	Store(ctx context.Context, documentID string, res *Result) error
}

// Service provides document export functionality
type Service struct {
	store     DataStore
	snapshots SnapshotStore
	archiver  Archiver
	markdown  goldmark.Markdown
}

// NewService creates a new export service. snapshots and archiver may be nil;
// without snapshots only "latest" exports are served.
func NewService(dataStore DataStore, snapshots SnapshotStore, archiver Archiver) *Service {
	return &Service{
		store:     dataStore,
		snapshots: snapshots,
		archiver:  archiver,
		markdown: goldmark.New(
			goldmark.WithRendererOptions(gmhtml.WithHardWraps()),
		),
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	meta, chunks, err := s.loadVersion(ctx, req)
	if err != nil {
		return nil, err
	}

	md := BuildMarkdown(meta, chunks)
	filename := sanitizeFilename(meta.Title)

	var res *Result
	switch req.Format {
	case FormatMarkdown:
		res = &Result{
			Data:     []byte(md),
			Filename: filename + ".md",
			MimeType: "text/markdown; charset=utf-8",
		}
	case FormatHTML, FormatPDF, FormatDOCX:
		html, err := s.renderHTML(meta, md)
		if err != nil {
			return nil, fmt.Errorf("render html: %w", err)
		}
		switch req.Format {
		case FormatHTML:
			res = &Result{
				Data:     []byte(html),
				Filename: filename + ".html",
				MimeType: "text/html; charset=utf-8",
			}
		case FormatPDF:
			res, err = exportPDF(html, meta.Title)
		case FormatDOCX:
			res, err = exportDOCX(html, meta.Title)
		}
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}

	if s.archiver != nil {
		archived := *res
		go func() {
			if err := s.archiver.Store(context.Background(), req.DocumentID, &archived); err != nil {
				log.Printf("export: archive %s: %v", archived.Filename, err)
			}
		}()
	}

	return res, nil
}

func (s *Service) loadVersion(ctx context.Context, req Request) (trmd.Meta, []trmd.Chunk, error) {
	if req.Version != "" && req.Version != "latest" {
		if s.snapshots == nil {
			return trmd.Meta{}, nil, fmt.Errorf("%w: no snapshot store", ErrContentUnavailable)
		}
		serialized, err := s.snapshots.GetContentByHash(req.DocumentID, req.Version)
		if err != nil {
			return trmd.Meta{}, nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
		}
		meta, chunks, err := trmd.Parse(serialized)
		if err != nil {
			return trmd.Meta{}, nil, fmt.Errorf("parse snapshot: %w", err)
		}
		return meta, chunks, nil
	}

	doc, chunks, err := s.store.LoadDocument(ctx, req.DocumentID)
	if err != nil {
		return trmd.Meta{}, nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}
	out := make([]trmd.Chunk, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, trmd.Chunk{
			ID:       c.ID,
			ParentID: c.ParentID,
			Title:    c.Title,
			Content:  c.Content,
			Position: c.Position,
			Aspects:  c.Aspects,
		})
	}
	return trmd.Meta{Title: doc.Title, Author: doc.Author}, out, nil
}

func (s *Service) renderHTML(meta trmd.Meta, markdown string) (string, error) {
	var body bytes.Buffer
	if err := s.markdown.Convert([]byte(markdown), &body); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return RenderDocumentHTML(TemplateData{
		Title:       meta.Title,
		Author:      meta.Author,
		ContentHTML: template.HTML(body.String()),
	})
}
