package rag

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// CosineSimilarity returns the cosine of the angle between a and b. Vectors
// of different length, or a zero vector, score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
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
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// rankTopK sorts candidates by descending score and keeps the first k.
// Ties keep insertion order.
func rankTopK(candidates []EmbeddingRecord, k int) []EmbeddingRecord {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}

// prepareRecord validates rec for insertion and fills in a missing ID.
// dimension <= 0 disables the length check.
func prepareRecord(rec *EmbeddingRecord, dimension int) error {
	if err := rec.Scope().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if len(rec.Vector) == 0 {
		return fmt.Errorf("%w: record has an empty vector", ErrStorage)
	}
	if dimension > 0 && len(rec.Vector) != dimension {
		return fmt.Errorf("%w: vector has %d dimensions, store expects %d", ErrStorage, len(rec.Vector), dimension)
	}
	if strings.TrimSpace(rec.ID) == "" {
		rec.ID = uuid.NewString()
	}
	return nil
}

func normaliseK(k int) int {
	if k <= 0 {
		return DefaultTopK
	}
	return k
}
