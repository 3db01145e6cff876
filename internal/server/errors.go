package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// retryAfterSeconds is sent with 429 responses caused by the embedding
// service rate limit.
const retryAfterSeconds = 60

// statusFor maps an error kind to its HTTP status code.
func statusFor(kind rag.Kind) int {
	switch kind {
	case rag.KindUnauthenticated:
		return http.StatusUnauthorized
	case rag.KindInvalidInput:
		return http.StatusBadRequest
	case rag.KindEmptyDocument:
		return http.StatusUnprocessableEntity
	case rag.KindNotFound:
		return http.StatusNotFound
	case rag.KindRateLimited:
		return http.StatusTooManyRequests
	case rag.KindPartialFailure, rag.KindEmbeddingService:
		return http.StatusBadGateway
	case rag.KindStorage:
		return http.StatusServiceUnavailable
	case rag.KindInterrupted:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the human-readable text sent to the client. Internal
// failures get a generic message; the detail goes to the log only.
func userMessage(kind rag.Kind, err error) string {
	switch kind {
	case rag.KindUnauthenticated:
		return "please sign in to use this service"
	case rag.KindNotFound:
		return "no documents found for this collection; upload a document first"
	case rag.KindEmptyDocument:
		return "the document contains no extractable text"
	case rag.KindStorage:
		return "storage is temporarily unavailable; try again shortly"
	case rag.KindInterrupted:
		var ie *rag.InterruptedError
		if errors.As(err, &ie) {
			return fmt.Sprintf("ingestion stopped before finishing: %d of %d chunks stored; re-submit to store the rest",
				ie.Persisted, ie.Total)
		}
		return "ingestion stopped before finishing"
	case rag.KindInternal:
		return "internal error"
	default:
		return err.Error()
	}
}

// writeError logs err and writes the JSON error body with the mapped status.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := rag.KindOf(err)
	status := statusFor(kind)
	resp := errorResponse{Error: string(kind), Message: userMessage(kind, err)}

	var abort *rag.AbortError
	if errors.As(err, &abort) {
		resp.Index, resp.Persisted, resp.Total = &abort.Index, &abort.Persisted, &abort.Total
	}
	var interrupted *rag.InterruptedError
	if errors.As(err, &interrupted) {
		resp.Persisted, resp.Total = &interrupted.Persisted, &interrupted.Total
	}
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}

	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("kind", string(kind)), slog.Any("error", err))
	} else {
		log.Warn("request rejected", slog.String("kind", string(kind)), slog.Any("error", err))
	}
	writeJSON(w, r, status, resp)
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", slog.Any("error", err))
	}
}
