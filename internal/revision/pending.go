package revision

import (
	"encoding/hex"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// PendingRecord tracks one AI revision request that has been issued but not
// yet answered. Records are keyed by chunk and original text so the response
// handler can find the matching annotation even after unrelated edits.
type PendingRecord struct {
	Key          string
	ChunkID      string
	OriginalText string
	Author       string
	CreatedAt    time.Time
}

// PendingKey derives the record key for a (chunk, original text) pair.
func PendingKey(chunkID, originalText string) string {
	sum := blake2b.Sum256([]byte(originalText))
	return chunkID + ":" + hex.EncodeToString(sum[:8])
}

type PendingStore interface {
	Put(rec PendingRecord)
	Get(key string) (PendingRecord, bool)
	Delete(key string)
}

// MemoryPendingStore keeps pending records in process memory only. In-flight
// AI requests do not survive a restart; their annotations stay PENDING in the
// prose until cancelled.
type MemoryPendingStore struct {
	mu   sync.Mutex
	recs map[string]PendingRecord
}

func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{recs: map[string]PendingRecord{}}
}

func (s *MemoryPendingStore) Put(rec PendingRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[rec.Key] = rec
}

func (s *MemoryPendingStore) Get(key string) (PendingRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[key]
	return rec, ok
}

func (s *MemoryPendingStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, key)
}

// Len reports how many requests are currently in flight.
func (s *MemoryPendingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}
