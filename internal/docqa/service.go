// Package docqa is the service facade over ingestion, retrieval and answer
// assembly. Every operation takes the caller's owner ID explicitly; the
// transport layer resolves it from the request and nothing here looks it up.
package docqa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/docqa-go/internal/answer"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/ingestion"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Options tunes a Service. The zero value is usable.
type Options struct {
	// Generator produces answers. nil selects the extractive generator.
	Generator answer.Generator

	// MaxContextTokens bounds the answer context. 0 selects the default.
	MaxContextTokens int

	// TopK is the number of chunks retrieved per question. 0 selects
	// rag.DefaultTopK.
	TopK int

	// Concurrency is the number of chunks embedded in parallel.
	Concurrency int

	// Chunker overrides the default splitter.
	Chunker ingestion.Chunker

	// Progress is passed through to the ingestion pipeline.
	Progress func(done, total int)

	// Registerer receives the service and pipeline metrics.
	Registerer prometheus.Registerer
}

// IngestRequest is one document to ingest.
type IngestRequest struct {
	Text       string
	Name       string
	TotalPages int
}

// IngestResponse reports how much of the document was stored.
type IngestResponse struct {
	SucceededChunks int
	TotalChunks     int
}

// Message renders the outcome for display.
func (r *IngestResponse) Message() string {
	return fmt.Sprintf("stored %d of %d chunks", r.SucceededChunks, r.TotalChunks)
}

// QueryRequest is one question against a stored collection.
type QueryRequest struct {
	Question string
	Name     string
	History  []rag.ConversationTurn
}

// Service exposes the ingest and query operations.
type Service struct {
	pipeline  *ingestion.Pipeline
	retriever rag.Retriever
	assembler *answer.Assembler
	ledger    rag.OwnershipLedger

	queries *prometheus.CounterVec
}

// New wires a Service from its storage and embedding dependencies.
func New(emb rag.Embedder, store rag.VectorStore, ledger rag.OwnershipLedger, opts Options) (*Service, error) {
	pipeline, err := ingestion.NewPipeline(emb, store, ledger, &ingestion.Config{
		Chunker:     opts.Chunker,
		Concurrency: opts.Concurrency,
		Registerer:  opts.Registerer,
		Progress:    opts.Progress,
	})
	if err != nil {
		return nil, fmt.Errorf("docqa: %w", err)
	}
	retriever, err := rag.NewRetriever(emb, store, opts.TopK, rag.WithErrorClassifier(embedder.Classify))
	if err != nil {
		return nil, fmt.Errorf("docqa: %w", err)
	}
	return &Service{
		pipeline:  pipeline,
		retriever: retriever,
		assembler: answer.NewAssembler(opts.Generator, opts.MaxContextTokens),
		ledger:    ledger,
		queries: promauto.With(opts.Registerer).NewCounterVec(prometheus.CounterOpts{
			Namespace: "docqa",
			Name:      "queries_total",
			Help:      "Total number of queries, partitioned by result.",
		}, []string{"result"}),
	}, nil
}

// Ingest chunks, embeds and stores req.Text under (ownerID, req.Name). The
// response is non-nil whenever chunking ran, including on abort, so callers
// can report partial progress alongside the error.
func (s *Service) Ingest(ctx context.Context, ownerID string, req IngestRequest) (*IngestResponse, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("docqa: %w", rag.ErrUnauthenticated)
	}
	sum, err := s.pipeline.Ingest(ctx, ownerID, ingestion.Document{
		Text:           req.Text,
		CollectionName: req.Name,
		TotalPages:     req.TotalPages,
	})
	if sum == nil {
		return nil, err
	}
	return &IngestResponse{SucceededChunks: sum.Succeeded, TotalChunks: sum.Total}, err
}

// Query answers req.Question from the chunks stored under (ownerID, req.Name).
func (s *Service) Query(ctx context.Context, ownerID string, req QueryRequest) (*rag.QueryResult, error) {
	res, err := s.query(ctx, ownerID, req)
	result := "ok"
	if err != nil {
		result = string(rag.KindOf(err))
	}
	s.queries.WithLabelValues(result).Inc()
	return res, err
}

func (s *Service) query(ctx context.Context, ownerID string, req QueryRequest) (*rag.QueryResult, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("docqa: %w", rag.ErrUnauthenticated)
	}
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("docqa: %w: question must not be empty", rag.ErrInvalidInput)
	}
	scope := rag.Scope{OwnerID: ownerID, CollectionName: strings.TrimSpace(req.Name)}
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("docqa: %w", err)
	}

	chunks, err := s.retriever.Retrieve(ctx, scope, req.Question)
	if err != nil {
		return nil, fmt.Errorf("docqa: %w", err)
	}

	text, err := s.assembler.Assemble(ctx, answer.AssembleInput{
		Question:       req.Question,
		CollectionName: scope.CollectionName,
		History:        req.History,
		Chunks:         chunks,
	})
	if err != nil {
		return nil, fmt.Errorf("docqa: %w", err)
	}

	logging.FromContext(ctx).Info("docqa: query answered",
		slog.Any("scope", scope),
		slog.Int("sources", len(chunks)),
		slog.Int("history_turns", len(req.History)),
	)
	return &rag.QueryResult{Answer: text, SourceChunks: chunks}, nil
}

// Collections lists the collections ownerID has created, newest first.
func (s *Service) Collections(ctx context.Context, ownerID string) ([]rag.OwnershipRecord, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("docqa: %w", rag.ErrUnauthenticated)
	}
	recs, err := s.ledger.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("docqa: listing collections: %w", err)
	}
	return recs, nil
}
