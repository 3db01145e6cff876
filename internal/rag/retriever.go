package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/54b3r/docqa-go/internal/logging"
)

// DefaultRetriever implements the Retriever interface by combining an Embedder
// and a VectorStore. It embeds the question at retrieval time and delegates
// the scoped similarity search to the store.
type DefaultRetriever struct {
	// embedder converts question text to a dense vector.
	embedder Embedder

	// store performs the scoped vector similarity search.
	store VectorStore

	// topK is the number of chunks returned per question.
	topK int

	// classify tags embedder errors with ErrRateLimited or
	// ErrEmbeddingService.
	classify func(error) error
}

// RetrieverOption configures a DefaultRetriever.
type RetrieverOption func(*DefaultRetriever)

// WithErrorClassifier sets the function applied to embedder errors. It must
// return an error wrapping ErrRateLimited or ErrEmbeddingService. The default
// keeps either tag when present and otherwise adds ErrEmbeddingService.
func WithErrorClassifier(fn func(error) error) RetrieverOption {
	return func(r *DefaultRetriever) {
		if fn != nil {
			r.classify = fn
		}
	}
}

func classifyEmbedError(err error) error {
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrEmbeddingService) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrEmbeddingService, err)
}

// NewRetriever constructs a DefaultRetriever from the given Embedder and VectorStore.
// topK <= 0 falls back to DefaultTopK.
func NewRetriever(embedder Embedder, store VectorStore, topK int, opts ...RetrieverOption) (*DefaultRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	r := &DefaultRetriever{
		embedder: embedder,
		store:    store,
		topK:     normaliseK(topK),
		classify: classifyEmbedError,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Retrieve returns the chunks of scope most similar to question. A scope with
// no stored records yields ErrNotFound without calling the embedder.
func (r *DefaultRetriever) Retrieve(ctx context.Context, scope Scope, question string) ([]EmbeddingRecord, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("%w: question must not be empty", ErrInvalidInput)
	}

	n, err := r.store.Count(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("rag: counting %s: %w", scope, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("rag: collection %q: %w", scope.CollectionName, ErrNotFound)
	}

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("rag: embedding question: %w", r.classify(err))
	}

	hits, err := r.store.Search(ctx, scope, vec, r.topK)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, fmt.Errorf("rag: collection %q: %w", scope.CollectionName, ErrNotFound)
	}

	logging.FromContext(ctx).Debug("rag: retrieved chunks",
		"scope", scope,
		"stored", n,
		"returned", len(hits),
	)
	return hits, nil
}
