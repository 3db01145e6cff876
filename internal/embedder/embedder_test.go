package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docqa-go/internal/rag"
)

// scriptedEmbedder fails with errs[i] on call i and returns vec once the
// script runs out.
type scriptedEmbedder struct {
	mu    sync.Mutex
	errs  []error
	vec   []float32
	calls int
}

func (s *scriptedEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.vec, nil
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		CallTimeout:     time.Second,
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		err  error
		want error
	}{
		{"status 429", &StatusError{Backend: "hf", StatusCode: 429, Message: "slow down"}, rag.ErrRateLimited},
		{"message", errors.New("Rate Limit reached for requests"), rag.ErrRateLimited},
		{"openai api error", &openai.APIError{HTTPStatusCode: 429, Message: "quota"}, rag.ErrRateLimited},
		{"status 500", &StatusError{Backend: "hf", StatusCode: 500, Message: "boom"}, rag.ErrEmbeddingService},
		{"deadline", context.DeadlineExceeded, rag.ErrEmbeddingService},
		{"already classified", fmt.Errorf("x: %w", rag.ErrRateLimited), rag.ErrRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, Classify(tc.err), tc.want)
		})
	}
	assert.NoError(t, Classify(nil))
}

func TestReliable_RetriesTransientFailures(t *testing.T) {
	t.Parallel()
	inner := &scriptedEmbedder{
		errs: []error{&StatusError{StatusCode: 503}, errors.New("connection reset")},
		vec:  []float32{1, 2, 3},
	}
	vec, err := NewReliable(inner, fastRetry()).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vec)
	assert.Equal(t, 3, inner.calls)
}

func TestReliable_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	boom := &StatusError{Backend: "ollama", StatusCode: 500, Message: "boom"}
	inner := &scriptedEmbedder{errs: []error{boom, boom, boom, boom}}
	_, err := NewReliable(inner, fastRetry()).Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, rag.ErrEmbeddingService)
	assert.Equal(t, 3, inner.calls)
}

func TestReliable_RateLimitIsNotRetried(t *testing.T) {
	t.Parallel()
	inner := &scriptedEmbedder{errs: []error{&StatusError{StatusCode: http.StatusTooManyRequests}}}
	_, err := NewReliable(inner, fastRetry()).Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, rag.ErrRateLimited)
	assert.Equal(t, 1, inner.calls)
}

func TestReliable_RejectsBadVectors(t *testing.T) {
	t.Parallel()
	cfg := fastRetry()
	cfg.Dimensions = 4

	_, err := NewReliable(&scriptedEmbedder{vec: []float32{1, 2}}, cfg).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, rag.ErrEmbeddingService)

	_, err = NewReliable(&scriptedEmbedder{vec: nil}, cfg).Embed(context.Background(), "x")
	assert.ErrorIs(t, err, rag.ErrEmbeddingService)

	_, err = NewReliable(&scriptedEmbedder{vec: []float32{1}}, cfg).Embed(context.Background(), "  ")
	assert.ErrorIs(t, err, rag.ErrEmbeddingService)
}

func TestReliable_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	inner := &scriptedEmbedder{errs: []error{context.Canceled}}
	_, err := NewReliable(inner, fastRetry()).Embed(ctx, "hello")
	assert.Error(t, err)
	assert.LessOrEqual(t, inner.calls, 1)
}

func TestOllamaEmbedder_HTTP(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) || len(req.Input) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.Input[0] == "throttle" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":"too many requests"}`)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1, 0.2}}})
	}))
	t.Cleanup(srv.Close)

	emb := NewOllamaEmbedder(&OllamaConfig{Host: srv.URL, Model: "nomic-embed-text"})
	vec, err := emb.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)

	_, err = emb.Embed(context.Background(), "throttle")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	assert.True(t, IsRateLimit(err))
}

func TestHuggingFaceEmbedder_HTTP(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer hf_test", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/intfloat/multilingual-e5-large/pipeline/feature-extraction":
			_, _ = io.WriteString(w, `[0.5, 0.25]`)
		case "/bert/pipeline/feature-extraction":
			_, _ = io.WriteString(w, `[[1, 2], [3, 4]]`)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = io.WriteString(w, `{"error":"model is loading"}`)
		}
	}))
	t.Cleanup(srv.Close)

	flat := NewHuggingFaceEmbedder(&HuggingFaceConfig{Endpoint: srv.URL, Model: defaultHuggingFaceModel, Token: "hf_test"})
	vec, err := flat.Embed(context.Background(), "query: hi")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, vec)

	tokens := NewHuggingFaceEmbedder(&HuggingFaceConfig{Endpoint: srv.URL, Model: "bert", Token: "hf_test"})
	vec, err = tokens.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 3}, vec)

	missing := NewHuggingFaceEmbedder(&HuggingFaceConfig{Endpoint: srv.URL, Model: "nope", Token: "hf_test"})
	_, err = missing.Embed(context.Background(), "hi")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "model is loading", se.Message)
	assert.False(t, IsRateLimit(err))
}

func TestOpenAIEmbedder_RateLimitIsClassified(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"Too many requests","type":"requests","code":"rate_exceeded"}}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: defaultOpenAIModel})
	_, err := emb.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.ErrorIs(t, Classify(err), rag.ErrRateLimited)
}

func TestOpenAIEmbedder_Success(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"object":"list","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2,0.3]}],"model":"text-embedding-3-small"}`)
	}))
	t.Cleanup(srv.Close)

	emb := NewOpenAIEmbedder(&OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: defaultOpenAIModel})
	vec, err := emb.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestDefaultDimensions(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	assert.Equal(t, 768, DefaultDimensions("ollama"))
	assert.Equal(t, 1024, DefaultDimensions("huggingface"))
	assert.Equal(t, 1536, DefaultDimensions("azure"))

	t.Setenv("EMBEDDING_DIMENSIONS", "384")
	assert.Equal(t, 384, DefaultDimensions("ollama"))
}

func TestRetryConfigFromEnv_RetriesExcludeFirstCall(t *testing.T) {
	t.Setenv("EMBEDDING_DIMENSIONS", "")
	t.Setenv("EMBEDDING_RPS", "")
	t.Setenv("EMBEDDING_MAX_RETRIES", "")
	assert.Equal(t, DefaultMaxAttempts, retryConfigFromEnv("ollama").MaxAttempts)

	t.Setenv("EMBEDDING_MAX_RETRIES", "0")
	assert.Equal(t, 1, retryConfigFromEnv("ollama").MaxAttempts)

	t.Setenv("EMBEDDING_MAX_RETRIES", "-2")
	assert.Equal(t, 1, retryConfigFromEnv("ollama").MaxAttempts)

	// Three retries survive three transient failures.
	t.Setenv("EMBEDDING_MAX_RETRIES", "3")
	cfg := retryConfigFromEnv("ollama")
	assert.Equal(t, 4, cfg.MaxAttempts)

	cfg.InitialInterval, cfg.MaxInterval = time.Millisecond, 2*time.Millisecond
	cfg.Dimensions = 0
	boom := &StatusError{Backend: "ollama", StatusCode: 503, Message: "busy"}
	inner := &scriptedEmbedder{errs: []error{boom, boom, boom}, vec: []float32{1, 2}}
	_, err := NewReliable(inner, cfg).Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, 4, inner.calls)
}

func TestBackend_Resolution(t *testing.T) {
	t.Setenv("EMBEDDING_PROVIDER", "")
	t.Setenv("MODEL_PROVIDER", "gemini")
	assert.Equal(t, "ollama", Backend())

	t.Setenv("MODEL_PROVIDER", "azure")
	assert.Equal(t, "azure", Backend())

	t.Setenv("EMBEDDING_PROVIDER", "huggingface")
	assert.Equal(t, "huggingface", Backend())
}

func TestValidateForRAG(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Setenv("EMBEDDING_PROVIDER", "huggingface")
	t.Setenv("EMBEDDING_API_KEY", "")
	t.Setenv("HF_API_TOKEN", "")
	assert.Error(t, ValidateForRAG(log))

	t.Setenv("HF_API_TOKEN", "hf_x")
	assert.NoError(t, ValidateForRAG(log))

	t.Setenv("EMBEDDING_PROVIDER", "bogus")
	assert.Error(t, ValidateForRAG(log))
}

func TestLooksLikeChatModel(t *testing.T) {
	t.Parallel()
	assert.True(t, looksLikeChatModel("gpt-4o-mini"))
	assert.True(t, looksLikeChatModel("llama3.1:8b"))
	assert.False(t, looksLikeChatModel("nomic-embed-text"))
	assert.False(t, looksLikeChatModel("intfloat/multilingual-e5-large"))
}
