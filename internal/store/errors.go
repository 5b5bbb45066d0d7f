package store

import "fmt"

// ConflictError rejects a hash-checked write whose base hash no longer
// matches the stored content. It carries the server's current hash and the
// current serialization so the caller can re-base; it is never resolved
// automatically.
type ConflictError struct {
	CurrentHash    string
	CurrentContent string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("content hash mismatch (current %s)", e.CurrentHash)
}
