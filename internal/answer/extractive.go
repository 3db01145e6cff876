package answer

import (
	"context"
	"fmt"
)

// excerptRunes is how much of the context the extractive answer quotes.
const excerptRunes = 500

// ExtractiveGenerator answers by quoting the start of the retrieved context.
// It needs no model backend and never fails.
type ExtractiveGenerator struct{}

// Generate implements Generator.
func (ExtractiveGenerator) Generate(_ context.Context, p Prompt) (string, error) {
	return fmt.Sprintf("Based on your document about %s, here's what I found related to \"%s\":\n\n%s...\n\nThis information comes from your uploaded document.",
		p.CollectionName, p.Question, excerpt(p.Context(), excerptRunes)), nil
}

// excerpt returns at most n runes of s.
func excerpt(s string, n int) string {
	i := 0
	for idx := range s {
		if i == n {
			return s[:idx]
		}
		i++
	}
	return s
}
