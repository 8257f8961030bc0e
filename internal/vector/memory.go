package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store using brute-force cosine similarity.
// It backs unit tests and small single-process deployments.
//
// MemoryStore is safe for concurrent use.
type MemoryStore struct {
	mu         sync.RWMutex
	dimension  int
	namespaces map[string]map[string]Record
}

// NewMemoryStore creates an empty MemoryStore accepting vectors of the given
// dimension. A non-positive dimension falls back to Dimension.
func NewMemoryStore(dimension int) *MemoryStore {
	if dimension <= 0 {
		dimension = Dimension
	}
	return &MemoryStore{
		dimension:  dimension,
		namespaces: make(map[string]map[string]Record),
	}
}

// Upsert inserts or overwrites records in the namespace.
func (m *MemoryStore) Upsert(_ context.Context, namespace string, records []Record) error {
	if len(records) > MaxUpsertBatch {
		return fmt.Errorf("%w: %d records (max %d)", ErrBatchTooLarge, len(records), MaxUpsertBatch)
	}
	for _, r := range records {
		if len(r.Vector) != m.dimension {
			return fmt.Errorf("%w: record %q has %d dimensions, store expects %d",
				ErrDimensionMismatch, r.ID, len(r.Vector), m.dimension)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.namespaces[namespace]
	if !ok {
		ns = make(map[string]Record, len(records))
		m.namespaces[namespace] = ns
	}
	for _, r := range records {
		ns[r.ID] = cloneRecord(r)
	}
	return nil
}

// Query returns the topK closest records by cosine similarity, descending.
func (m *MemoryStore) Query(_ context.Context, namespace string, vec []float32, topK int, filter map[string]string) ([]Match, error) {
	if len(vec) != m.dimension {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, store expects %d",
			ErrDimensionMismatch, len(vec), m.dimension)
	}
	if topK <= 0 {
		topK = 5
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ns := m.namespaces[namespace]
	matches := make([]Match, 0, len(ns))
	for id, r := range ns {
		if !matchesFilter(r.Metadata, filter) {
			continue
		}
		matches = append(matches, Match{
			ID:       id,
			Score:    cosine(vec, r.Vector),
			Metadata: cloneMeta(r.Metadata),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].ID < matches[j].ID // stable order for equal scores
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// DeleteMany removes all records in the namespace matching the filter.
func (m *MemoryStore) DeleteMany(_ context.Context, namespace string, filter map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ns := m.namespaces[namespace]
	for id, r := range ns {
		if matchesFilter(r.Metadata, filter) {
			delete(ns, id)
		}
	}
	if len(ns) == 0 {
		delete(m.namespaces, namespace)
	}
	return nil
}

// Count reports the number of records in the namespace matching the filter.
func (m *MemoryStore) Count(_ context.Context, namespace string, filter map[string]string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, r := range m.namespaces[namespace] {
		if matchesFilter(r.Metadata, filter) {
			count++
		}
	}
	return count, nil
}

// cosine computes cosine similarity between two equal-length vectors.
func cosine(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func cloneRecord(r Record) Record {
	vec := make([]float32, len(r.Vector))
	copy(vec, r.Vector)
	return Record{ID: r.ID, Vector: vec, Metadata: cloneMeta(r.Metadata)}
}

func cloneMeta(meta map[string]string) map[string]string {
	out := make(map[string]string, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}
