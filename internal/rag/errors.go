package rag

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by every layer. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is; the HTTP layer maps each one to a status code.
var (
	ErrUnauthenticated  = errors.New("unauthenticated")
	ErrInvalidInput     = errors.New("invalid input")
	ErrEmptyDocument    = errors.New("document produced no text chunks")
	ErrRateLimited      = errors.New("embedding service rate limited")
	ErrEmbeddingService = errors.New("embedding service error")
	ErrStorage          = errors.New("storage error")
	ErrNotFound         = errors.New("no stored chunks for this collection")
	ErrPartialFailure   = errors.New("no chunks were persisted")
	ErrInterrupted      = errors.New("ingestion interrupted")
)

// AbortError reports an ingestion run stopped early because the embedding
// service rate limited the caller. Chunks before Index remain persisted.
type AbortError struct {
	// Index is the zero-based chunk index that hit the rate limit.
	Index int
	// Persisted is the number of chunks stored before the abort.
	Persisted int
	// Total is the number of chunks the document was split into.
	Total int
	// Err is the underlying rate-limit error.
	Err error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("rate limit exceeded at chunk %d of %d (%d chunks stored); wait a few minutes and try again",
		e.Index+1, e.Total, e.Persisted)
}

// Unwrap exposes both ErrRateLimited and the underlying cause.
func (e *AbortError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRateLimited}
	}
	return []error{ErrRateLimited, e.Err}
}

// PartialFailureError reports that a run attempted chunks but persisted none.
type PartialFailureError struct {
	Attempted int
	// Err is the last per-chunk failure, if any.
	Err error
}

func (e *PartialFailureError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no chunks were persisted out of %d attempted", e.Attempted)
	}
	return fmt.Sprintf("no chunks were persisted out of %d attempted: last error: %v", e.Attempted, e.Err)
}

func (e *PartialFailureError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrPartialFailure}
	}
	return []error{ErrPartialFailure, e.Err}
}

// InterruptedError reports an ingestion run cut short by cancellation or a
// deadline before every chunk was stored. Stored chunks stay stored.
type InterruptedError struct {
	// Attempted is the number of chunks handed to the embedder.
	Attempted int
	// Persisted is the number of chunks stored before the interruption.
	Persisted int
	// Total is the number of chunks the document was split into.
	Total int
	// Err is the context error.
	Err error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("ingestion interrupted after %d of %d chunks (%d chunks stored): %v",
		e.Attempted, e.Total, e.Persisted, e.Err)
}

func (e *InterruptedError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInterrupted}
	}
	return []error{ErrInterrupted, e.Err}
}

// Kind names an error category for logs, metrics labels, and API responses.
type Kind string

const (
	KindUnauthenticated  Kind = "unauthenticated"
	KindInvalidInput     Kind = "invalid_input"
	KindEmptyDocument    Kind = "empty_document"
	KindRateLimited      Kind = "rate_limited"
	KindInterrupted      Kind = "interrupted"
	KindPartialFailure   Kind = "partial_failure"
	KindNotFound         Kind = "not_found"
	KindEmbeddingService Kind = "embedding_service"
	KindStorage          Kind = "storage"
	KindInternal         Kind = "internal"
)

// KindOf classifies err against the sentinel errors. Order matters: a
// PartialFailureError may also wrap a storage or embedding cause, and the
// partial failure is the more useful category.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return KindUnauthenticated
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrEmptyDocument):
		return KindEmptyDocument
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrInterrupted):
		return KindInterrupted
	case errors.Is(err, ErrPartialFailure):
		return KindPartialFailure
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEmbeddingService):
		return KindEmbeddingService
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}
