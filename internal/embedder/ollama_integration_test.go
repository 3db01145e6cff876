//go:build integration

package embedder

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// TestOllamaEmbedder_Integration performs real HTTP calls to a locally running
// Ollama instance through the Reliable wrapper.
//
// Prerequisites:
//
//	ollama pull nomic-embed-text
//	ollama serve   (or it must already be running)
//
// Run with:
//
//	go test -tags=integration -run TestOllamaEmbedder_Integration ./internal/embedder/
//
// In CI, set OLLAMA_HOST if Ollama is not on localhost:11434.
func TestOllamaEmbedder_Integration(t *testing.T) {
	host := os.Getenv("OLLAMA_HOST")
	if host == "" {
		host = "http://localhost:11434"
	}
	model := os.Getenv("EMBEDDING_MODEL")
	if model == "" {
		model = "nomic-embed-text"
	}

	emb := NewReliable(NewOllamaEmbedder(&OllamaConfig{
		Host:  host,
		Model: model,
	}), RetryConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	texts := []string{
		"The warranty covers manufacturing defects for two years.",
		"Replace the filter cartridge every six months.",
	}

	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := emb.Embed(ctx, text)
		if err != nil {
			t.Fatalf("Embed(%d) failed: %v\n\nEnsure Ollama is running and %q is pulled:\n  ollama pull %s", i, err, model, model)
		}
		if len(v) == 0 {
			t.Fatalf("embedding[%d] is empty", i)
		}
		vecs[i] = v
		t.Logf("embedding[%d]: dim=%d, first_3=%v", i, len(v), v[:3])
	}

	if sim := rag.CosineSimilarity(vecs[0], vecs[1]); sim > 0.9999 {
		t.Errorf("embeddings are near-identical (cosine=%f); model may not be working correctly", sim)
	}

	// Log the dimension so the caller can confirm it matches their vector store.
	t.Logf("model=%s dim=%d (set EMBEDDING_DIMENSIONS=%d for the vector store)", model, len(vecs[0]), len(vecs[0]))
}
