package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
)

// systemPrompt constrains the model to the uploaded document.
const systemPrompt = `You answer questions about a single document the user uploaded.
Use only the document excerpts provided in the conversation. If the excerpts do
not contain the answer, say so plainly instead of guessing. Keep answers short
and quote the document's own wording where it helps.`

// ChatGenerator answers with an eino chat model.
type ChatGenerator struct {
	model model.BaseChatModel
}

// NewChatGenerator wraps m. The provider package builds m from config.
func NewChatGenerator(m model.BaseChatModel) (*ChatGenerator, error) {
	if m == nil {
		return nil, fmt.Errorf("answer: chat model must not be nil")
	}
	return &ChatGenerator{model: m}, nil
}

// Generate implements Generator.
func (g *ChatGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	msgs := buildMessages(p)
	logging.FromContext(ctx).Debug("answer: calling chat model",
		slog.Int("messages", len(msgs)),
		slog.Int("estimated_tokens", budget.EstimateMessages(msgs)),
	)

	out, err := g.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("answer: chat model: %w", err)
	}
	if out == nil {
		return "", nil
	}
	return strings.TrimSpace(out.Content), nil
}

// buildMessages lays out [system, ...history, document context, question].
func buildMessages(p Prompt) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(p.History)+3)
	msgs = append(msgs, schema.SystemMessage(systemPrompt))
	for _, t := range p.History {
		switch t.Role {
		case rag.RoleUser:
			msgs = append(msgs, schema.UserMessage(t.Text))
		case rag.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(t.Text, nil))
		}
	}
	msgs = append(msgs, schema.SystemMessage(fmt.Sprintf(
		"## Excerpts from the document %q\n\n%s", p.CollectionName, p.Context())))
	msgs = append(msgs, schema.UserMessage(p.Question))
	return msgs
}
