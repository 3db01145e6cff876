package embedder

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/54b3r/docqa-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel      = "nomic-embed-text"
	defaultOpenAIModel      = "text-embedding-3-small"
	defaultHuggingFaceModel = "intfloat/multilingual-e5-large"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ; override with EMBEDDING_DIMENSIONS.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
	// defaultHuggingFaceDimensions is the output dimension of multilingual-e5-large.
	defaultHuggingFaceDimensions = 1024
)

// Backend resolves the effective embedding backend: EMBEDDING_PROVIDER, then
// MODEL_PROVIDER when it names a backend that can embed, then ollama.
func Backend() string {
	if b := getEnv("EMBEDDING_PROVIDER"); b != "" {
		return b
	}
	switch b := getEnv("MODEL_PROVIDER"); b {
	case "ollama", "openai", "azure":
		return b
	}
	return "ollama"
}

// DefaultDimensions returns the correct default embedding vector size for the
// given backend name. Callers that need to pre-configure a vector store (e.g.
// Qdrant collection creation) should use this rather than hardcoding a value.
// EMBEDDING_DIMENSIONS always takes precedence when set.
func DefaultDimensions(backend string) int {
	if v := getEnvInt("EMBEDDING_DIMENSIONS", 0); v > 0 {
		return v
	}
	switch backend {
	case "ollama":
		return defaultOllamaDimensions
	case "huggingface":
		return defaultHuggingFaceDimensions
	default:
		return defaultOpenAIDimensions
	}
}

// NewFromEnv constructs a rag.Embedder for the backend chosen by Backend and
// wraps it in a Reliable.
//
// Resolution order:
//
//  1. EMBEDDING_PROVIDER: ollama | openai | azure | huggingface
//  2. Per-backend credentials are inherited from the chat provider's env vars
//  3. EMBEDDING_MODEL: overrides the default model for the resolved backend
//  4. EMBEDDING_API_KEY: overrides the inherited API key (HF_API_TOKEN for huggingface)
//  5. EMBEDDING_ENDPOINT: overrides the inherited endpoint
//  6. EMBEDDING_DIMENSIONS: overrides the default dimensions
//  7. EMBEDDING_RPS, EMBEDDING_MAX_RETRIES, EMBEDDING_TIMEOUT_SECONDS: Reliable tuning
func NewFromEnv() (rag.Embedder, error) {
	backend := Backend()
	inner, err := newBackend(backend)
	if err != nil {
		return nil, err
	}
	return NewReliable(inner, retryConfigFromEnv(backend)), nil
}

// retryConfigFromEnv reads the Reliable tuning. EMBEDDING_MAX_RETRIES counts
// retries after the first call, so MaxAttempts is one more.
func retryConfigFromEnv(backend string) RetryConfig {
	retries := max(getEnvInt("EMBEDDING_MAX_RETRIES", DefaultMaxAttempts-1), 0)
	return RetryConfig{
		MaxAttempts:       retries + 1,
		CallTimeout:       time.Duration(getEnvInt("EMBEDDING_TIMEOUT_SECONDS", int(DefaultCallTimeout/time.Second))) * time.Second,
		RequestsPerSecond: getEnvFloat("EMBEDDING_RPS", 0),
		Burst:             getEnvInt("EMBEDDING_BURST", 1),
		Dimensions:        DefaultDimensions(backend),
	}
}

func newBackend(backend string) (rag.Embedder, error) {
	switch backend {
	case "ollama":
		host := getEnv("EMBEDDING_ENDPOINT")
		if host == "" {
			host = getEnvOrDefault("OLLAMA_HOST", "http://localhost:11434")
		}
		model := getEnvOrDefault("EMBEDDING_MODEL", defaultOllamaModel)
		return NewOllamaEmbedder(&OllamaConfig{
			Host:  host,
			Model: model,
		}), nil

	case "openai":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: openai requires OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    getEnv("EMBEDDING_ENDPOINT"),
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions),
		}), nil

	case "azure":
		apiKey := getEnv("EMBEDDING_API_KEY")
		if apiKey == "" {
			apiKey = getEnv("AZURE_OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_API_KEY or EMBEDDING_API_KEY")
		}
		endpoint := getEnv("EMBEDDING_ENDPOINT")
		if endpoint == "" {
			endpoint = getEnv("AZURE_OPENAI_ENDPOINT")
		}
		if endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires AZURE_OPENAI_ENDPOINT or EMBEDDING_ENDPOINT")
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    endpoint,
			APIKey:     apiKey,
			Model:      getEnvOrDefault("EMBEDDING_MODEL", defaultOpenAIModel),
			Dimensions: getEnvInt("EMBEDDING_DIMENSIONS", defaultOpenAIDimensions),
			Azure:      true,
			APIVersion: getEnvOrDefault("AZURE_OPENAI_API_VERSION", "2025-04-01-preview"),
		}), nil

	case "huggingface":
		token := getEnv("EMBEDDING_API_KEY")
		if token == "" {
			token = getEnv("HF_API_TOKEN")
		}
		if token == "" {
			return nil, fmt.Errorf("embedder: huggingface requires HF_API_TOKEN or EMBEDDING_API_KEY")
		}
		return NewHuggingFaceEmbedder(&HuggingFaceConfig{
			Endpoint: getEnv("EMBEDDING_ENDPOINT"),
			Model:    getEnvOrDefault("EMBEDDING_MODEL", defaultHuggingFaceModel),
			Token:    token,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q, valid values: ollama, openai, azure, huggingface", backend)
	}
}

// getEnv returns the value of the named environment variable, or empty string.
func getEnv(key string) string {
	return os.Getenv(key)
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
