// Package ingestion implements the document ingestion pipeline: chunk the
// text, record ownership of the collection, then embed and store each chunk
// under the caller's scope. A rate-limited embedding call aborts the
// run; any other per-chunk failure skips that chunk and the run continues.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Document is one extracted text to ingest under a named collection.
type Document struct {
	// Text is the full extracted text of the document.
	Text string
	// CollectionName is the user-chosen name the chunks are stored under.
	CollectionName string
	// TotalPages is the page count of the source document; it drives the
	// chunk size.
	TotalPages int
}

// Chunker splits document text into chunks. *chunker.Splitter satisfies it.
type Chunker interface {
	Split(text string, totalPages int) []string
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// Chunker overrides the default recursive splitter.
	Chunker Chunker

	// Concurrency is the number of chunks embedded in parallel. 0 or 1 runs
	// strictly in order.
	Concurrency int

	// Registerer receives the pipeline's Prometheus metrics. nil leaves them
	// unregistered.
	Registerer prometheus.Registerer

	// Progress, when set, is called after every attempted chunk with the
	// number attempted so far and the total.
	Progress func(done, total int)
}

// Pipeline orchestrates the chunk → ledger → embed → store flow.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// ledger records which owner created which collection.
	ledger rag.OwnershipLedger

	// cfg holds the resolved pipeline configuration.
	cfg *Config

	metrics *pipelineMetrics
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(emb rag.Embedder, store rag.VectorStore, ledger rag.OwnershipLedger, cfg *Config) (*Pipeline, error) {
	if emb == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if ledger == nil {
		return nil, fmt.Errorf("ingestion: ledger must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Chunker == nil {
		cfg.Chunker = chunker.New()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}

	return &Pipeline{
		embedder: emb,
		store:    store,
		ledger:   ledger,
		cfg:      cfg,
		metrics:  newPipelineMetrics(cfg.Registerer),
	}, nil
}

// Ingest runs one document through the pipeline under ownerID.
//
// Invalid input is rejected before any side effect with a nil summary. After
// that the summary is always returned. The error is nil on Done with at least
// one stored chunk, a *rag.AbortError when the embedding service rate limited
// the run, a *rag.InterruptedError when ctx ended before every chunk was
// stored, or a *rag.PartialFailureError when no chunk could be stored.
// Whitespace-only text fails with rag.ErrEmptyDocument and a ledger failure
// with rag.ErrStorage.
func (p *Pipeline) Ingest(ctx context.Context, ownerID string, doc Document) (*RunSummary, error) {
	scope := rag.Scope{OwnerID: ownerID, CollectionName: strings.TrimSpace(doc.CollectionName)}
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	if doc.Text == "" {
		return nil, fmt.Errorf("ingestion: %w: text must not be empty", rag.ErrInvalidInput)
	}
	if doc.TotalPages <= 0 {
		return nil, fmt.Errorf("ingestion: %w: total pages must be positive, got %d", rag.ErrInvalidInput, doc.TotalPages)
	}

	ctx, log := logging.With(ctx, slog.Any("scope", scope))
	run := &RunSummary{Scope: scope, State: StateStart}

	p.transition(ctx, run, StateChunking)
	chunks := p.cfg.Chunker.Split(doc.Text, doc.TotalPages)
	run.Total = len(chunks)
	if len(chunks) == 0 {
		return p.finish(ctx, run, StateAborted, fmt.Errorf("ingestion: %w", rag.ErrEmptyDocument))
	}
	log.Info("ingestion: document chunked",
		slog.Int("chunks", len(chunks)),
		slog.Int("chunk_size", chunker.ChunkSize(doc.TotalPages)),
		slog.Int("total_pages", doc.TotalPages),
	)

	// Ownership is recorded before any chunk is stored so the collection is
	// listed for its owner even if every chunk later fails.
	if err := p.ledger.Record(ctx, scope); err != nil {
		return p.finish(ctx, run, StateAborted, fmt.Errorf("ingestion: recording ownership: %w", asStorage(err)))
	}

	p.transition(ctx, run, StateEmbeddingLoop)
	var outcomes []ChunkOutcome
	if p.cfg.Concurrency > 1 {
		outcomes = p.embedConcurrent(ctx, scope, chunks)
	} else {
		outcomes = p.embedSequential(ctx, scope, chunks)
	}
	run.Outcomes = outcomes
	for _, o := range outcomes {
		if o.Status == StatusSucceeded {
			run.Succeeded++
		}
	}

	if abort := run.firstAborted(); abort != nil {
		return p.finish(ctx, run, StateAborted, &rag.AbortError{
			Index:     abort.Index,
			Persisted: run.Succeeded,
			Total:     run.Total,
			Err:       abort.Err,
		})
	}
	// A cancelled context can leave chunks unattempted, or failed by the
	// cancellation itself, so any shortfall is reported as an interruption.
	if err := ctx.Err(); err != nil && run.Succeeded < run.Total {
		return p.finish(ctx, run, StateAborted, &rag.InterruptedError{
			Attempted: len(outcomes),
			Persisted: run.Succeeded,
			Total:     run.Total,
			Err:       err,
		})
	}
	if run.Succeeded == 0 {
		return p.finish(ctx, run, StateDone, &rag.PartialFailureError{Attempted: len(outcomes), Err: run.lastError()})
	}
	return p.finish(ctx, run, StateDone, nil)
}

// embedSequential processes chunks in order and stops at the first abort or
// when ctx is cancelled.
func (p *Pipeline) embedSequential(ctx context.Context, scope rag.Scope, chunks []string) []ChunkOutcome {
	outcomes := make([]ChunkOutcome, 0, len(chunks))
	for i, text := range chunks {
		if ctx.Err() != nil {
			break
		}
		out := p.processChunk(ctx, scope, i, text)
		outcomes = append(outcomes, out)
		p.reportProgress(len(outcomes), len(chunks))
		if out.Status == StatusAborted {
			break
		}
	}
	return outcomes
}

// embedConcurrent processes chunks on a bounded pool. The first rate-limited
// chunk cancels the pool; chunks not yet started are never attempted.
// Outcomes are returned ordered by chunk index.
func (p *Pipeline) embedConcurrent(ctx context.Context, scope rag.Scope, chunks []string) []ChunkOutcome {
	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]ChunkOutcome, len(chunks))
	attempted := make([]bool, len(chunks))
	done := make(chan struct{}, len(chunks))

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		n := 0
		for range done {
			n++
			p.reportProgress(n, len(chunks))
		}
	}()

	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for i, text := range chunks {
		if poolCtx.Err() != nil {
			break
		}
		g.Go(func() error {
			if poolCtx.Err() != nil {
				return nil
			}
			out := p.processChunk(poolCtx, scope, i, text)
			results[i] = out
			attempted[i] = true
			if out.Status == StatusAborted {
				cancel()
			}
			done <- struct{}{}
			return nil
		})
	}

	_ = g.Wait()
	close(done)
	<-progressDone

	outcomes := make([]ChunkOutcome, 0, len(chunks))
	for i, ok := range attempted {
		if ok {
			outcomes = append(outcomes, results[i])
		}
	}
	return outcomes
}

// processChunk embeds and stores one chunk and classifies the result.
func (p *Pipeline) processChunk(ctx context.Context, scope rag.Scope, index int, text string) ChunkOutcome {
	log := logging.FromContext(ctx)
	out := ChunkOutcome{Index: index}

	vec, err := p.embedder.Embed(ctx, text)
	if err == nil {
		rec := rag.EmbeddingRecord{
			ID:             uuid.NewString(),
			Vector:         vec,
			Text:           text,
			OwnerID:        scope.OwnerID,
			CollectionName: scope.CollectionName,
			ChunkIndex:     index,
		}
		if err = p.store.Insert(ctx, rec); err == nil {
			out.Status = StatusSucceeded
			out.RecordID = rec.ID
			p.metrics.chunks.WithLabelValues(string(StatusSucceeded)).Inc()
			return out
		}
		err = asStorage(err)
	} else {
		err = embedder.Classify(err)
	}

	out.Err = err
	if errors.Is(err, rag.ErrRateLimited) {
		out.Status = StatusAborted
		log.Warn("ingestion: embedding rate limited, aborting",
			slog.Int("chunk_index", index),
			slog.String("error", err.Error()),
		)
	} else {
		out.Status = StatusSkipped
		log.Warn("ingestion: chunk skipped",
			slog.Int("chunk_index", index),
			slog.String("kind", string(rag.KindOf(err))),
			slog.String("error", err.Error()),
		)
	}
	p.metrics.chunks.WithLabelValues(string(out.Status)).Inc()
	return out
}

func (p *Pipeline) reportProgress(done, total int) {
	if p.cfg.Progress != nil {
		p.cfg.Progress(done, total)
	}
}

func (p *Pipeline) transition(ctx context.Context, run *RunSummary, next State) {
	logging.FromContext(ctx).Debug("ingestion: state",
		slog.String("from", string(run.State)),
		slog.String("to", string(next)),
	)
	run.State = next
}

// finish records the terminal state, logs the run, and updates metrics.
func (p *Pipeline) finish(ctx context.Context, run *RunSummary, final State, err error) (*RunSummary, error) {
	p.transition(ctx, run, final)
	result := "ok"
	if err != nil {
		result = string(rag.KindOf(err))
	}
	p.metrics.runs.WithLabelValues(result).Inc()

	attrs := []any{
		slog.String("state", string(run.State)),
		slog.Int("succeeded", run.Succeeded),
		slog.Int("skipped", run.Skipped()),
		slog.Int("total", run.Total),
	}
	log := logging.FromContext(ctx)
	if err != nil {
		log.Warn("ingestion: run finished with error", append(attrs, slog.String("error", err.Error()))...)
	} else {
		log.Info("ingestion: run finished", attrs...)
	}
	return run, err
}

// asStorage ensures a store failure carries rag.ErrStorage.
func asStorage(err error) error {
	if err == nil || errors.Is(err, rag.ErrStorage) || errors.Is(err, rag.ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%w: %w", rag.ErrStorage, err)
}
