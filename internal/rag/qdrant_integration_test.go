//go:build integration

package rag

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestQdrantStore_ScopeIsolation_Integration runs the scope isolation checks
// against a live Qdrant. Each run writes to a fresh physical collection and
// drops it afterwards.
//
// Prerequisites:
//
//	docker run -p 6334:6334 qdrant/qdrant
//
// Run with:
//
//	go test -tags=integration -run TestQdrantStore_ScopeIsolation_Integration ./internal/rag/
//
// In CI, set QDRANT_HOST and QDRANT_PORT if Qdrant is not on localhost:6334.
func TestQdrantStore_ScopeIsolation_Integration(t *testing.T) {
	host := os.Getenv("QDRANT_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 6334
	if v := os.Getenv("QDRANT_PORT"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			t.Fatalf("QDRANT_PORT=%q: %v", v, err)
		}
		port = p
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := NewQdrantStore(ctx, &QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: "docqa_it_" + uuid.NewString()[:8],
		VectorSize: 3,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
	})
	if err != nil {
		t.Fatalf("NewQdrantStore failed: %v\n\nEnsure Qdrant is running on %s:%d", err, host, port)
	}
	t.Cleanup(func() {
		if err := s.client.DeleteCollection(context.Background(), s.cfg.Collection); err != nil {
			t.Logf("drop collection %q: %v", s.cfg.Collection, err)
		}
		_ = s.Close()
	})

	assertScopeIsolation(t, s, "owner-a", "owner-b")
}
