// Package chunker splits extracted document text into overlapping chunks
// sized for embedding. Splitting is recursive: the text is cut on the
// coarsest separator it contains, and any piece still too large is cut again
// on the next finer separator, down to single characters.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// BaseChunkSize is the smallest chunk size and the step by which the size
// grows with document length.
const BaseChunkSize = 1000

// DefaultOverlap is the maximum number of characters shared by two
// consecutive chunks.
const DefaultOverlap = 100

// DefaultSeparators are tried in order, coarsest first. The empty separator
// is the final hard character cut.
var DefaultSeparators = []string{"\n\n", "\n", "  ", " ", ""}

// ChunkSize returns the target chunk size in characters for a document of
// totalPages pages: 1000 per ten full pages, never less than 1000.
func ChunkSize(totalPages int) int {
	factor := totalPages / 10
	if factor <= 0 {
		return BaseChunkSize
	}
	return factor * BaseChunkSize
}

// Splitter performs recursive character splitting. The zero value is not
// usable; construct with New.
type Splitter struct {
	overlap    int
	separators []string
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithOverlap sets the maximum overlap in characters. Negative values are ignored.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// WithSeparators replaces the separator list. A trailing "" is appended when
// missing so splitting always terminates within the size limit.
func WithSeparators(seps ...string) Option {
	return func(s *Splitter) {
		if len(seps) == 0 {
			return
		}
		out := append([]string(nil), seps...)
		if out[len(out)-1] != "" {
			out = append(out, "")
		}
		s.separators = out
	}
}

// New returns a Splitter with DefaultOverlap and DefaultSeparators unless
// overridden.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		overlap:    DefaultOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Split cuts text into chunks of at most ChunkSize(totalPages) characters.
// Whitespace-only input yields no chunks.
func (s *Splitter) Split(text string, totalPages int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	size := ChunkSize(totalPages)
	overlap := s.overlap
	if overlap >= size {
		overlap = size / 4
	}
	return s.split(text, s.separators, size, overlap)
}

func (s *Splitter) split(text string, separators []string, size, overlap int) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var (
		chunks []string
		good   []string
	)
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) < size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			chunks = append(chunks, merge(good, size, overlap)...)
			good = nil
		}
		if len(rest) == 0 {
			chunks = appendTrimmed(chunks, piece)
			continue
		}
		chunks = append(chunks, s.split(piece, rest, size, overlap)...)
	}
	if len(good) > 0 {
		chunks = append(chunks, merge(good, size, overlap)...)
	}
	return chunks
}

// splitKeep splits text on sep, keeping each separator attached to the start
// of the piece that follows it. Concatenating the pieces gives back text.
func splitKeep(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

// merge packs consecutive pieces into chunks of at most size characters.
// After a chunk is emitted, leading pieces are dropped until what remains is
// no longer than overlap and leaves room for the next piece.
func merge(pieces []string, size, overlap int) []string {
	var (
		chunks  []string
		current []string
		total   int
	)
	for _, p := range pieces {
		n := runeLen(p)
		if total+n > size && len(current) > 0 {
			chunks = appendTrimmed(chunks, strings.Join(current, ""))
			for total > overlap || (total+n > size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if len(current) > 0 {
		chunks = appendTrimmed(chunks, strings.Join(current, ""))
	}
	return chunks
}

func appendTrimmed(chunks []string, chunk string) []string {
	if t := strings.TrimSpace(chunk); t != "" {
		return append(chunks, t)
	}
	return chunks
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
