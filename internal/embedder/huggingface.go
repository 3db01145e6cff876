package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultHuggingFaceEndpoint is the Inference Providers base URL for
// feature-extraction models.
const DefaultHuggingFaceEndpoint = "https://router.huggingface.co/hf-inference/models"

// HuggingFaceEmbedder implements rag.Embedder against the Hugging Face
// feature-extraction pipeline.
type HuggingFaceEmbedder struct {
	endpoint string
	model    string
	token    string
	client   *http.Client
}

// HuggingFaceConfig holds the settings for constructing a HuggingFaceEmbedder.
type HuggingFaceConfig struct {
	// Endpoint is the models base URL (default DefaultHuggingFaceEndpoint).
	Endpoint string
	// Model is the repository id, e.g. "intfloat/multilingual-e5-large".
	Model string
	// Token is the Hugging Face access token sent as a Bearer credential.
	Token string
	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// NewHuggingFaceEmbedder constructs a HuggingFaceEmbedder from the given config.
func NewHuggingFaceEmbedder(cfg *HuggingFaceConfig) *HuggingFaceEmbedder {
	endpoint := strings.TrimRight(cfg.Endpoint, "/")
	if endpoint == "" {
		endpoint = DefaultHuggingFaceEndpoint
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HuggingFaceEmbedder{
		endpoint: endpoint,
		model:    cfg.Model,
		token:    cfg.Token,
		client:   client,
	}
}

type hfRequest struct {
	Inputs string `json:"inputs"`
}

type hfError struct {
	Error string `json:"error"`
}

// Embed converts one text into its embedding. Sentence-transformer models
// return one vector; plain encoders return one vector per token, which is
// mean-pooled here.
func (e *HuggingFaceEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(hfRequest{Inputs: text})
	if err != nil {
		return nil, fmt.Errorf("huggingface embedder: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/pipeline/feature-extraction", e.endpoint, e.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("huggingface embedder: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("huggingface embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("huggingface embedder: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		var he hfError
		if json.Unmarshal(body, &he) == nil && he.Error != "" {
			msg = he.Error
		}
		return nil, &StatusError{Backend: "huggingface", StatusCode: resp.StatusCode, Message: msg}
	}

	return decodeFeatures(body)
}

// decodeFeatures accepts [d], [[d]...] (tokens), or [[[d]...]] (batch of
// tokens) and reduces the latter two to one vector by mean pooling.
func decodeFeatures(body []byte) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(body, &flat); err == nil {
		return flat, nil
	}
	var tokens [][]float32
	if err := json.Unmarshal(body, &tokens); err == nil {
		return meanPool(tokens)
	}
	var batch [][][]float32
	if err := json.Unmarshal(body, &batch); err == nil && len(batch) > 0 {
		return meanPool(batch[0])
	}
	return nil, fmt.Errorf("huggingface embedder: unrecognised response shape")
}

func meanPool(tokens [][]float32) ([]float32, error) {
	if len(tokens) == 0 || len(tokens[0]) == 0 {
		return nil, fmt.Errorf("huggingface embedder: empty token embeddings")
	}
	dim := len(tokens[0])
	out := make([]float32, dim)
	for _, tok := range tokens {
		if len(tok) != dim {
			return nil, fmt.Errorf("huggingface embedder: ragged token embeddings")
		}
		for i, v := range tok {
			out[i] += v
		}
	}
	n := float32(len(tokens))
	for i := range out {
		out[i] /= n
	}
	return out, nil
}
