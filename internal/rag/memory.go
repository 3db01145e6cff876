package rag

import (
	"context"
	"sync"
)

// MemoryStore is a process-local VectorStore. Search is a brute-force scan
// over the records of one scope, which is fine for tests and small
// single-node deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	records   []EmbeddingRecord
}

// NewMemoryStore returns an empty store. A dimension of 0 is fixed by the
// first inserted vector.
func NewMemoryStore(dimension int) *MemoryStore {
	return &MemoryStore{dimension: dimension}
}

// Insert implements VectorStore.
func (m *MemoryStore) Insert(ctx context.Context, rec EmbeddingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := prepareRecord(&rec, m.dimension); err != nil {
		return err
	}
	if m.dimension == 0 {
		m.dimension = len(rec.Vector)
	}
	rec.Vector = append([]float32(nil), rec.Vector...)
	rec.Score = 0
	m.records = append(m.records, rec)
	return nil
}

// Search implements VectorStore. Records outside scope are excluded before
// any scoring happens.
func (m *MemoryStore) Search(ctx context.Context, scope Scope, vector []float32, k int) ([]EmbeddingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []EmbeddingRecord
	for _, rec := range m.records {
		if rec.OwnerID != scope.OwnerID || rec.CollectionName != scope.CollectionName {
			continue
		}
		hit := rec
		hit.Vector = append([]float32(nil), rec.Vector...)
		hit.Score = CosineSimilarity(vector, rec.Vector)
		candidates = append(candidates, hit)
	}
	return rankTopK(candidates, normaliseK(k)), nil
}

// Count implements VectorStore.
func (m *MemoryStore) Count(ctx context.Context, scope Scope) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, rec := range m.records {
		if rec.OwnerID == scope.OwnerID && rec.CollectionName == scope.CollectionName {
			n++
		}
	}
	return n, nil
}

// Close implements VectorStore.
func (m *MemoryStore) Close() error { return nil }
