package store

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/vipenzo/tramando-sub001/internal/trmd"
)

// ContentHash digests a canonical serialization. The value is opaque to
// clients; they only ever echo it back on save.
func ContentHash(serialized string) string {
	sum := blake2b.Sum256([]byte(serialized))
	return hex.EncodeToString(sum[:])
}

// DocumentDigest serializes a document's chunk tree canonically and hashes
// it. The serialization doubles as the snapshot payload and the download
// format, so the hash always matches what a client downloaded.
func DocumentDigest(doc Document, chunks []Chunk) (serialized, hash string) {
	serialized = trmd.Serialize(trmd.Meta{Title: doc.Title, Author: doc.Author}, toTrmd(chunks))
	return serialized, ContentHash(serialized)
}
// ChunksFromTrmd rebuilds store chunks from a parsed serialization, as
// needed when restoring a snapshot.
func ChunksFromTrmd(documentID string, in []trmd.Chunk) []Chunk {
	out := make([]Chunk, 0, len(in))
	for _, c := range in {
		out = append(out, Chunk{
			ID:         c.ID,
			DocumentID: documentID,
			ParentID:   c.ParentID,
			Title:      c.Title,
			Content:    c.Content,
			Position:   c.Position,
			Aspects:    c.Aspects,
		})
	}
	return out
}

func toTrmd(chunks []Chunk) []trmd.Chunk {
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
	return out
}
