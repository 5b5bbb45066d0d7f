// Package export renders a document's chunk tree for readers: markdown,
// HTML, PDF (headless Chrome) and DOCX (pandoc). Annotation markup and
// aspect references never appear in exported output.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatPDF      Format = "pdf"
	FormatDOCX     Format = "docx"
)

// Request contains parameters for an export operation
type Request struct {
	DocumentID string
	Version    string // "latest" or a snapshot hash
	Format     Format
}

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Metadata describes the exported document for templates and archiving.
type Metadata struct {
	Title     string
	Author    string
	UpdatedAt time.Time
}

var (
	// ErrContentUnavailable indicates document content could not be loaded for export.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
