// Package budget provides token budget estimation and trimming for the answer
// context. Because several embedding and chat backends with different
// tokenizers are supported, this package uses a conservative character-based
// heuristic: 1 token ≈ 4 characters.
package budget

import (
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/docqa-go/internal/rag"
)

const (
	// charsPerToken is the conservative character-to-token ratio used for
	// estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role and framing tokens most chat
	// APIs add around each message.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Fits within 8k-context models while leaving room for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := utf8.RuneCountInString(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// EstimateTurns is EstimateMessages for conversation turns.
func EstimateTurns(turns []rag.ConversationTurn) int {
	total := 0
	for _, t := range turns {
		total += perMessageOverhead
		total += Estimate(string(t.Role))
		total += Estimate(t.Text)
	}
	return total
}

// TrimHistory removes the oldest turns from history until fixedTokens plus
// the remaining history fits within maxTokens. If even an empty history
// exceeds the budget, the empty slice is returned.
func TrimHistory(fixedTokens int, history []rag.ConversationTurn, maxTokens int) []rag.ConversationTurn {
	for len(history) > 0 {
		if fixedTokens+EstimateTurns(history) <= maxTokens {
			break
		}
		history = history[1:]
	}
	return history
}

// FitChunks keeps chunks in order while their estimated total stays within
// maxTokens. The first chunk is always kept; when it alone exceeds the budget
// it is cut to fit.
func FitChunks(chunks []string, maxTokens int) []string {
	if len(chunks) == 0 {
		return nil
	}
	out := make([]string, 0, len(chunks))
	used := 0
	for i, c := range chunks {
		cost := Estimate(c)
		if used+cost > maxTokens {
			if i == 0 {
				out = append(out, truncateRunes(c, max(maxTokens, 1)*charsPerToken))
			}
			break
		}
		out = append(out, c)
		used += cost
	}
	return out
}

// truncateRunes returns the first n runes of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for idx := range s {
		if i == n {
			return s[:idx]
		}
		i++
	}
	return s
}
