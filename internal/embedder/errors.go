package embedder

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/54b3r/docqa-go/internal/rag"
)

// StatusError is returned by the HTTP embedders when the service answers with
// a non-2xx status.
type StatusError struct {
	// Backend names the embedder that received the response.
	Backend string
	// StatusCode is the HTTP status code.
	StatusCode int
	// Message is the service's error text, or the status text when the body
	// carried none.
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s embedder: HTTP %d: %s", e.Backend, e.StatusCode, e.Message)
}

// IsRateLimit reports whether err signals that the embedding service is
// throttling the caller: an HTTP 429 from any backend, or an error message
// mentioning 429 or "rate limit".
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// Classify wraps err with rag.ErrRateLimited or rag.ErrEmbeddingService.
// Errors that already carry one of the two are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rag.ErrRateLimited), errors.Is(err, rag.ErrEmbeddingService):
		return err
	case IsRateLimit(err):
		return fmt.Errorf("%w: %w", rag.ErrRateLimited, err)
	default:
		return fmt.Errorf("%w: %w", rag.ErrEmbeddingService, err)
	}
}
