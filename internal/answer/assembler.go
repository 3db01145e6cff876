// Package answer turns retrieved chunks and conversation history into a
// grounded answer. The Assembler bounds the context to a token budget and
// hands it to a Generator; the extractive generator needs no model backend.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// Prompt is the bounded input handed to a Generator.
type Prompt struct {
	// Question is the user's current question.
	Question string

	// CollectionName names the document the answer must come from.
	CollectionName string

	// Chunks are the retrieved chunk texts that fit the budget, in
	// retrieval order.
	Chunks []string

	// History is the conversation that fits the budget, oldest first.
	History []rag.ConversationTurn
}

// Context returns the chunk texts joined by blank lines.
func (p Prompt) Context() string {
	return strings.Join(p.Chunks, "\n\n")
}

// Generator produces an answer from a bounded prompt.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// AssembleInput is everything the Assembler needs for one answer.
type AssembleInput struct {
	Question       string
	CollectionName string
	History        []rag.ConversationTurn
	Chunks         []rag.EmbeddingRecord
}

// Assembler builds bounded prompts and produces answers from them.
type Assembler struct {
	// gen produces the answer; the extractive generator when none is set.
	gen Generator

	// fallback answers when gen fails or returns nothing.
	fallback Generator

	// maxContextTokens is the estimated budget for question, chunks and
	// history together.
	maxContextTokens int
}

// NewAssembler returns an Assembler using gen, or the extractive generator
// when gen is nil. maxContextTokens <= 0 selects budget.DefaultMaxContextTokens.
func NewAssembler(gen Generator, maxContextTokens int) *Assembler {
	if maxContextTokens <= 0 {
		maxContextTokens = budget.DefaultMaxContextTokens
	}
	fallback := ExtractiveGenerator{}
	if gen == nil {
		gen = fallback
	}
	return &Assembler{gen: gen, fallback: fallback, maxContextTokens: maxContextTokens}
}

// Build bounds the input to the token budget. History is trimmed oldest
// first; if the chunks alone still exceed the budget, trailing chunks are
// dropped and the first one is cut, but at least one chunk always remains.
func (a *Assembler) Build(ctx context.Context, in AssembleInput) Prompt {
	texts := make([]string, 0, len(in.Chunks))
	chunkTokens := 0
	for _, c := range in.Chunks {
		texts = append(texts, c.Text)
		chunkTokens += budget.Estimate(c.Text)
	}
	questionTokens := budget.Estimate(in.Question) + budget.Estimate(in.CollectionName)

	history := budget.TrimHistory(questionTokens+chunkTokens, in.History, a.maxContextTokens)
	if dropped := len(in.History) - len(history); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped history turns to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(history)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	if questionTokens+chunkTokens > a.maxContextTokens {
		before := len(texts)
		texts = budget.FitChunks(texts, a.maxContextTokens-questionTokens)
		logging.FromContext(ctx).Warn("budget: trimmed retrieved chunks to fit context window",
			slog.Int("dropped", before-len(texts)),
			slog.Int("max_tokens", a.maxContextTokens),
		)
	}

	return Prompt{
		Question:       in.Question,
		CollectionName: in.CollectionName,
		Chunks:         texts,
		History:        history,
	}
}

// Assemble builds the prompt and generates the answer. The answer is never
// empty: a failing or silent generator falls back to the extractive answer.
func (a *Assembler) Assemble(ctx context.Context, in AssembleInput) (string, error) {
	if len(in.Chunks) == 0 {
		return "", fmt.Errorf("answer: %w: no chunks to answer from", rag.ErrNotFound)
	}
	p := a.Build(ctx, in)

	out, err := a.gen.Generate(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("answer: %w", ctx.Err())
		}
		logging.FromContext(ctx).Warn("answer: generator failed, using extractive answer", slog.Any("error", err))
	}
	if strings.TrimSpace(out) == "" {
		return a.fallback.Generate(ctx, p)
	}
	return out, nil
}
