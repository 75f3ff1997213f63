package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

type memoryEntry struct {
	id        string
	embedding []float32
	meta      map[string]string
}

// MemoryStore is an in-process Store used in tests and single-node
// development runs.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Upsert(_ context.Context, alertID string, embedding []float32, meta map[string]string) error {
	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[alertID] = memoryEntry{id: alertID, embedding: vec, meta: meta}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, embedding []float32, k int, filter map[string]string) ([]Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Match
	for _, e := range s.entries {
		if !metaContains(e.meta, filter) {
			continue
		}
		out = append(out, Match{AlertID: e.id, Similarity: cosine(embedding, e.embedding), Meta: e.meta})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].AlertID < out[j].AlertID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func metaContains(meta, filter map[string]string) bool {
	for key, want := range filter {
		if meta[key] != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
