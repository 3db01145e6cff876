package rag

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns a fixed vector and counts calls.
type stubEmbedder struct {
	vec   []float32
	err   error
	calls atomic.Int32
}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.vec, nil
}

func Test_Retriever_EmptyScopeIsNotFoundWithoutEmbedding(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(2)
	require.NoError(t, store.Insert(ctx, record("u2", "ml", 0, "someone else's", 1, 0)))

	emb := &stubEmbedder{vec: []float32{1, 0}}
	r, err := NewRetriever(emb, store, 0)
	require.NoError(t, err)

	_, err = r.Retrieve(ctx, Scope{OwnerID: "u1", CollectionName: "ml"}, "what is it?")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, emb.calls.Load())
}

func Test_Retriever_ReturnsScopedTopK(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(2)
	for i := range 5 {
		require.NoError(t, store.Insert(ctx, record("u1", "ml", i, "chunk", float32(i), 1)))
	}
	require.NoError(t, store.Insert(ctx, record("u2", "ml", 0, "foreign", 100, 1)))

	r, err := NewRetriever(&stubEmbedder{vec: []float32{1, 0}}, store, 0)
	require.NoError(t, err)

	hits, err := r.Retrieve(ctx, Scope{OwnerID: "u1", CollectionName: "ml"}, "q")
	require.NoError(t, err)
	require.Len(t, hits, DefaultTopK)
	for _, h := range hits {
		assert.Equal(t, "u1", h.OwnerID)
		assert.NotEqual(t, "foreign", h.Text)
	}
}

func Test_Retriever_PropagatesEmbeddingErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(2)
	require.NoError(t, store.Insert(ctx, record("u1", "ml", 0, "c", 1, 0)))

	r, err := NewRetriever(&stubEmbedder{err: ErrRateLimited}, store, 3)
	require.NoError(t, err)

	_, err = r.Retrieve(ctx, Scope{OwnerID: "u1", CollectionName: "ml"}, "q")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func Test_Retriever_ClassifiesEmbeddingErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewMemoryStore(2)
	require.NoError(t, store.Insert(ctx, record("u1", "ml", 0, "c", 1, 0)))
	scope := Scope{OwnerID: "u1", CollectionName: "ml"}

	r, err := NewRetriever(&stubEmbedder{err: errors.New("dial tcp: connection refused")}, store, 3)
	require.NoError(t, err)
	_, err = r.Retrieve(ctx, scope, "q")
	assert.ErrorIs(t, err, ErrEmbeddingService)
	assert.Equal(t, KindEmbeddingService, KindOf(err))

	limited := func(err error) error { return fmt.Errorf("%w: %w", ErrRateLimited, err) }
	r, err = NewRetriever(&stubEmbedder{err: errors.New("HTTP 429")}, store, 3, WithErrorClassifier(limited))
	require.NoError(t, err)
	_, err = r.Retrieve(ctx, scope, "q")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, KindRateLimited, KindOf(err))
}

func Test_Retriever_ValidatesInput(t *testing.T) {
	t.Parallel()
	r, err := NewRetriever(&stubEmbedder{vec: []float32{1}}, NewMemoryStore(1), 3)
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), Scope{OwnerID: "u1"}, "q")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = r.Retrieve(context.Background(), Scope{OwnerID: "u1", CollectionName: "c"}, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewRetriever(nil, NewMemoryStore(1), 3)
	assert.Error(t, err)
}

func Test_KindOf(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want Kind
	}{
		{nil, ""},
		{ErrUnauthenticated, KindUnauthenticated},
		{&AbortError{Index: 2, Total: 5, Persisted: 2}, KindRateLimited},
		{&PartialFailureError{Attempted: 3, Err: ErrStorage}, KindPartialFailure},
		{&InterruptedError{Attempted: 4, Persisted: 3, Total: 6, Err: context.DeadlineExceeded}, KindInterrupted},
		{errors.Join(errors.New("ctx"), ErrNotFound), KindNotFound},
		{ErrEmbeddingService, KindEmbeddingService},
		{errors.New("boom"), KindInternal},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KindOf(tc.err), "err=%v", tc.err)
	}
}

func Test_InterruptedError_Unwrap(t *testing.T) {
	t.Parallel()
	err := &InterruptedError{Attempted: 4, Persisted: 3, Total: 6, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "3 chunks stored")
}

func Test_AbortError_Message(t *testing.T) {
	t.Parallel()
	err := &AbortError{Index: 2, Persisted: 2, Total: 5}
	assert.Contains(t, err.Error(), "chunk 3 of 5")
	assert.ErrorIs(t, err, ErrRateLimited)
}
