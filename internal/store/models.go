package store

import "time"

// Document is a writing project. ContentHash is the blake2b digest of the
// canonical .trmd serialization of its chunk tree; every hash-checked write
// keeps it current.
type Document struct {
	ID          string
	Title       string
	Author      string
	ContentHash string
	UpdatedAt   time.Time
}

// Chunk is one node of a document tree: a chapter, a scene, an aspect
// definition, a note. Content is raw markdown prose and owns all embedded
// annotation markup; Aspects are the ids of referenced aspect chunks.
type Chunk struct {
	ID         string
	DocumentID string
	ParentID   string
	Title      string
	Content    string
	Position   int
	Aspects    []string
}

// Snapshot describes one committed version of a document.
type Snapshot struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
