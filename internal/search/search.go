package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultChunk      ResultType = "chunk"
	ResultAnnotation ResultType = "annotation"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	ChunkID    string     `json:"chunkId"`
	DocumentID string     `json:"documentId"`
	Kind       string     `json:"kind,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterType       ResultType // empty = all types
	FilterDocumentID string
	FilterKind       string // annotation kind: TODO, NOTE, FIX
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// ChunkRecord is the data indexed for a chunk. Content is stripped prose;
// annotation markup is indexed separately as AnnotationRecords.
type ChunkRecord struct {
	ID         string `json:"id"`
	DocumentID string `json:"documentId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

// AnnotationRecord is the data indexed for one inline annotation.
type AnnotationRecord struct {
	ID           string `json:"id"`
	ChunkID      string `json:"chunkId"`
	DocumentID   string `json:"documentId"`
	Kind         string `json:"kind"`
	SelectedText string `json:"selectedText"`
	Comment      string `json:"comment"`
}
