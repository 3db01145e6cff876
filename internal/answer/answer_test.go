package answer

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/docqa-go/internal/rag"
)

func records(texts ...string) []rag.EmbeddingRecord {
	out := make([]rag.EmbeddingRecord, len(texts))
	for i, t := range texts {
		out[i] = rag.EmbeddingRecord{Text: t, ChunkIndex: i}
	}
	return out
}

func TestPrompt_Context(t *testing.T) {
	p := Prompt{Chunks: []string{"first", "second"}}
	assert.Equal(t, "first\n\nsecond", p.Context())
}

func TestExtractiveGenerator_Wording(t *testing.T) {
	p := Prompt{Question: "what is X", CollectionName: "manual", Chunks: []string{"X is a widget."}}
	got, err := ExtractiveGenerator{}.Generate(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t,
		"Based on your document about manual, here's what I found related to \"what is X\":\n\nX is a widget....\n\nThis information comes from your uploaded document.",
		got)
}

func TestExtractiveGenerator_ExcerptIsBounded(t *testing.T) {
	long := strings.Repeat("ü", 2000)
	got, err := ExtractiveGenerator{}.Generate(context.Background(), Prompt{Question: "q", CollectionName: "c", Chunks: []string{long}})
	require.NoError(t, err)
	assert.Contains(t, got, strings.Repeat("ü", 500)+"...")
	assert.NotContains(t, got, strings.Repeat("ü", 501))
	assert.True(t, utf8.ValidString(got))
}

func TestAssembler_DefaultsToExtractive(t *testing.T) {
	a := NewAssembler(nil, 0)
	got, err := a.Assemble(context.Background(), AssembleInput{
		Question:       "what is X",
		CollectionName: "manual",
		Chunks:         records("X is a widget.", "It is blue."),
	})
	require.NoError(t, err)
	assert.Contains(t, got, "manual")
	assert.Contains(t, got, "X is a widget.\n\nIt is blue.")
}

func TestAssembler_NoChunksIsNotFound(t *testing.T) {
	_, err := NewAssembler(nil, 0).Assemble(context.Background(), AssembleInput{Question: "q", CollectionName: "c"})
	assert.ErrorIs(t, err, rag.ErrNotFound)
}

func TestAssembler_TrimsHistoryBeforeChunks(t *testing.T) {
	a := NewAssembler(nil, 60)
	history := []rag.ConversationTurn{
		{Role: rag.RoleUser, Text: strings.Repeat("o", 80)},
		{Role: rag.RoleAssistant, Text: strings.Repeat("p", 80)},
		{Role: rag.RoleUser, Text: "recent"},
	}
	p := a.Build(context.Background(), AssembleInput{
		Question:       "question",
		CollectionName: "c",
		History:        history,
		Chunks:         records(strings.Repeat("a", 120), strings.Repeat("b", 40)),
	})
	assert.Len(t, p.Chunks, 2, "chunks must survive while history can still be trimmed")
	require.NotEmpty(t, p.History)
	assert.Equal(t, "recent", p.History[len(p.History)-1].Text)
	assert.Less(t, len(p.History), len(history))
}

func TestAssembler_KeepsAtLeastOneChunk(t *testing.T) {
	a := NewAssembler(nil, 20)
	p := a.Build(context.Background(), AssembleInput{
		Question:       "q",
		CollectionName: "c",
		History:        []rag.ConversationTurn{{Role: rag.RoleUser, Text: "earlier"}},
		Chunks:         records(strings.Repeat("a", 400), strings.Repeat("b", 400)),
	})
	require.Len(t, p.Chunks, 1)
	assert.True(t, strings.HasPrefix(p.Chunks[0], "aaa"))
	assert.Less(t, len(p.Chunks[0]), 400)
	assert.Empty(t, p.History)
}

type stubGenerator struct {
	answer string
	err    error
	got    Prompt
}

func (s *stubGenerator) Generate(_ context.Context, p Prompt) (string, error) {
	s.got = p
	return s.answer, s.err
}

func TestAssembler_UsesGenerator(t *testing.T) {
	gen := &stubGenerator{answer: "X is a widget, per page 2."}
	a := NewAssembler(gen, 0)
	got, err := a.Assemble(context.Background(), AssembleInput{
		Question:       "what is X",
		CollectionName: "manual",
		History:        []rag.ConversationTurn{{Role: rag.RoleUser, Text: "hi"}},
		Chunks:         records("X is a widget."),
	})
	require.NoError(t, err)
	assert.Equal(t, "X is a widget, per page 2.", got)
	assert.Equal(t, "what is X", gen.got.Question)
	assert.Equal(t, []string{"X is a widget."}, gen.got.Chunks)
	assert.Len(t, gen.got.History, 1)
}

func TestAssembler_FallsBackOnEmptyOrFailedGeneration(t *testing.T) {
	for _, gen := range []*stubGenerator{
		{answer: "   "},
		{err: errors.New("model unavailable")},
	} {
		a := NewAssembler(gen, 0)
		got, err := a.Assemble(context.Background(), AssembleInput{
			Question:       "what is X",
			CollectionName: "manual",
			Chunks:         records("X is a widget."),
		})
		require.NoError(t, err)
		assert.Contains(t, got, "This information comes from your uploaded document.")
	}
}

func TestAssembler_CancelledContextIsReturned(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAssembler(&stubGenerator{err: context.Canceled}, 0)
	_, err := a.Assemble(ctx, AssembleInput{Question: "q", CollectionName: "c", Chunks: records("x")})
	assert.ErrorIs(t, err, context.Canceled)
}

// fakeChatModel records the messages it was given.
type fakeChatModel struct {
	reply *schema.Message
	err   error
	seen  []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.seen = in
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not supported")
}

func TestChatGenerator_MessageLayout(t *testing.T) {
	m := &fakeChatModel{reply: schema.AssistantMessage("  It is a widget.  ", nil)}
	g, err := NewChatGenerator(m)
	require.NoError(t, err)

	got, err := g.Generate(context.Background(), Prompt{
		Question:       "what is X",
		CollectionName: "manual",
		Chunks:         []string{"X is a widget."},
		History: []rag.ConversationTurn{
			{Role: rag.RoleUser, Text: "hi"},
			{Role: rag.RoleAssistant, Text: "hello"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "It is a widget.", got)

	require.Len(t, m.seen, 5)
	assert.Equal(t, schema.System, m.seen[0].Role)
	assert.Equal(t, schema.User, m.seen[1].Role)
	assert.Equal(t, schema.Assistant, m.seen[2].Role)
	assert.Equal(t, schema.System, m.seen[3].Role)
	assert.Contains(t, m.seen[3].Content, "X is a widget.")
	assert.Equal(t, schema.User, m.seen[4].Role)
	assert.Equal(t, "what is X", m.seen[4].Content)
}

func TestChatGenerator_Errors(t *testing.T) {
	_, err := NewChatGenerator(nil)
	assert.Error(t, err)

	g, err := NewChatGenerator(&fakeChatModel{err: errors.New("boom")})
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), Prompt{Question: "q", Chunks: []string{"x"}})
	assert.ErrorContains(t, err, "boom")
}
