package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// MemoryLedger is a process-local rag.OwnershipLedger for tests and
// ephemeral runs.
type MemoryLedger struct {
	mu      sync.RWMutex
	records map[rag.Scope]time.Time
}

var _ rag.OwnershipLedger = (*MemoryLedger)(nil)

// NewMemoryLedger returns an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[rag.Scope]time.Time)}
}

// Record implements rag.OwnershipLedger.
func (m *MemoryLedger) Record(_ context.Context, scope rag.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[scope]; !ok {
		m.records[scope] = time.Now()
	}
	return nil
}

// Exists implements rag.OwnershipLedger.
func (m *MemoryLedger) Exists(_ context.Context, scope rag.Scope) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[scope]
	return ok, nil
}

// List implements rag.OwnershipLedger, newest collection first.
func (m *MemoryLedger) List(_ context.Context, ownerID string) ([]rag.OwnershipRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []rag.OwnershipRecord
	for scope, created := range m.records {
		if scope.OwnerID != ownerID {
			continue
		}
		out = append(out, rag.OwnershipRecord{
			OwnerID:        scope.OwnerID,
			CollectionName: scope.CollectionName,
			CreatedAt:      created,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CollectionName < out[j].CollectionName
	})
	return out, nil
}
