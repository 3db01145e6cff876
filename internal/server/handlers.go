package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/54b3r/docqa-go/internal/docqa"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// handleIngest handles POST /api/ingest. The caller's owner ID comes from
// identityMiddleware, never from the body.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxIngestBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, fmt.Errorf("%w: document exceeds %d bytes", rag.ErrInvalidInput, tooBig.Limit))
			return
		}
		writeError(w, r, fmt.Errorf("%w: invalid request body", rag.ErrInvalidInput))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.IngestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := s.svc.Ingest(ctx, ownerFrom(r.Context()), docqa.IngestRequest{
		Text:       req.Text,
		Name:       req.Name,
		TotalPages: req.TotalPages,
	})
	s.metrics.observe("ingest", err, time.Since(start))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusOK, ingestResponse{
		Success:         true,
		Message:         resp.Message(),
		SucceededChunks: resp.SucceededChunks,
		TotalChunks:     resp.TotalChunks,
	})
}

// handleQuery handles POST /api/query. When the request omits history and a
// transcript store is configured, the stored turns for the collection are
// used, and the new exchange is appended after answering.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid request body", rag.ErrInvalidInput))
		return
	}
	history, err := decodeHistory(req.History)
	if err != nil {
		writeError(w, r, err)
		return
	}

	owner := ownerFrom(r.Context())
	scope := rag.Scope{OwnerID: owner, CollectionName: strings.TrimSpace(req.Name)}
	if req.History == nil && s.transcripts != nil && scope.Validate() == nil {
		history = s.loadHistory(r.Context(), scope)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.svc.Query(ctx, owner, docqa.QueryRequest{
		Question: req.Question,
		Name:     req.Name,
		History:  history,
	})
	s.metrics.observe("query", err, time.Since(start))
	if err != nil {
		writeError(w, r, err)
		return
	}

	if s.transcripts != nil {
		s.saveExchange(r.Context(), scope, req.Question, res.Answer)
	}

	out := queryResponse{Success: true, Answer: res.Answer, Sources: make([]sourceJSON, 0, len(res.SourceChunks))}
	for _, c := range res.SourceChunks {
		out.Sources = append(out.Sources, sourceJSON{Text: c.Text, Score: c.Score, ChunkIndex: c.ChunkIndex})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// handleCollections handles GET /api/collections.
func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	recs, err := s.svc.Collections(r.Context(), ownerFrom(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := collectionsResponse{Success: true, Collections: make([]collectionJSON, 0, len(recs))}
	for _, rec := range recs {
		out.Collections = append(out.Collections, collectionJSON{Name: rec.CollectionName, CreatedAt: rec.CreatedAt})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// decodeHistory validates wire turns. Roles are case-insensitive.
func decodeHistory(in []turnJSON) ([]rag.ConversationTurn, error) {
	out := make([]rag.ConversationTurn, 0, len(in))
	for i, t := range in {
		role := rag.Role(strings.ToLower(strings.TrimSpace(t.Role)))
		if role != rag.RoleUser && role != rag.RoleAssistant {
			return nil, fmt.Errorf("%w: history[%d]: role must be %q or %q", rag.ErrInvalidInput, i, rag.RoleUser, rag.RoleAssistant)
		}
		out = append(out, rag.ConversationTurn{Role: role, Text: t.Text})
	}
	return out, nil
}

// loadHistory returns the recent stored turns for scope. Failures are logged
// and yield no history.
func (s *Server) loadHistory(ctx context.Context, scope rag.Scope) []rag.ConversationTurn {
	turns, err := s.transcripts.Recent(ctx, scope, s.cfg.HistoryDepth*2)
	if err != nil {
		logging.FromContext(ctx).Warn("history: failed to load prior turns", slog.Any("error", err))
		return nil
	}
	return turns
}

// saveExchange appends the question and answer to the transcript. Failures
// are logged; the answer has already been produced.
func (s *Server) saveExchange(ctx context.Context, scope rag.Scope, question, answer string) {
	log := logging.FromContext(ctx)
	if err := s.transcripts.Append(ctx, scope, rag.ConversationTurn{Role: rag.RoleUser, Text: question}); err != nil {
		log.Warn("history: failed to persist user turn", slog.Any("error", err))
		return
	}
	if err := s.transcripts.Append(ctx, scope, rag.ConversationTurn{Role: rag.RoleAssistant, Text: answer}); err != nil {
		log.Warn("history: failed to persist assistant turn", slog.Any("error", err))
	}
}
