// Package notify delivers fire-and-forget workflow events: alternatives
// received, annotations removed, chunks rewritten behind the editor. Events
// are advisory; delivery failure never fails the operation that raised them.
package notify

import (
	"context"
	"time"
)

// Event kinds published on the workflow channel.
const (
	EventAlternativesReady = "alternatives_ready"
	EventAnnotationRemoved = "annotation_removed"
	EventSelectionRejected = "selection_rejected"
	EventChunkChanged      = "chunk_changed"
)

// Event is one user-visible workflow outcome.
type Event struct {
	Type       string    `json:"type"`
	DocumentID string    `json:"document_id,omitempty"`
	ChunkID    string    `json:"chunk_id,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

// Notifier fans events out to whoever is listening.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}
