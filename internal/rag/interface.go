// Package rag defines the core domain of the document Q&A pipeline: scoped
// embedding records, the ownership ledger, and the interfaces every storage
// and embedding backend implements. Concrete vector stores (Qdrant, pgvector,
// SQLite, in-memory) live alongside the interfaces.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultTopK is the number of chunks returned by a scoped search when the
// caller does not ask for a specific count.
const DefaultTopK = 3

// Scope identifies one user's named collection. Every read and write against
// a vector store is bounded by a Scope; records from other scopes are never
// visible to a search or count.
type Scope struct {
	// OwnerID is the authenticated user the collection belongs to.
	OwnerID string `json:"owner_id"`

	// CollectionName is the user-chosen name of the document collection.
	CollectionName string `json:"collection_name"`
}

// Validate reports ErrInvalidInput when either half of the scope is blank.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.OwnerID) == "" {
		return fmt.Errorf("%w: owner id must not be empty", ErrInvalidInput)
	}
	if strings.TrimSpace(s.CollectionName) == "" {
		return fmt.Errorf("%w: collection name must not be empty", ErrInvalidInput)
	}
	return nil
}

// String renders the scope as owner/collection.
func (s Scope) String() string {
	return s.OwnerID + "/" + s.CollectionName
}

// LogValue implements slog.LogValuer.
func (s Scope) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("owner_id", s.OwnerID),
		slog.String("collection", s.CollectionName),
	)
}

// EmbeddingRecord is one persisted chunk: its text, its vector, and the scope
// it belongs to. Score is only populated on search results.
type EmbeddingRecord struct {
	ID             string    `json:"id"`
	Vector         []float32 `json:"-"`
	Text           string    `json:"text"`
	OwnerID        string    `json:"owner_id"`
	CollectionName string    `json:"collection_name"`
	ChunkIndex     int       `json:"chunk_index"`
	Score          float32   `json:"score,omitempty"`
}

// Scope returns the (owner, collection) pair the record is stored under.
func (r EmbeddingRecord) Scope() Scope {
	return Scope{OwnerID: r.OwnerID, CollectionName: r.CollectionName}
}

// OwnershipRecord marks that OwnerID has created a collection called
// CollectionName. At most one exists per pair.
type OwnershipRecord struct {
	OwnerID        string    `json:"owner_id"`
	CollectionName string    `json:"collection_name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Role is the speaker of a ConversationTurn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one prior exchange supplied with a query.
type ConversationTurn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// QueryResult is the answer to a scoped question plus the chunks it was
// built from.
type QueryResult struct {
	Answer       string            `json:"answer"`
	SourceChunks []EmbeddingRecord `json:"source_chunks"`
}

// Embedder converts a single piece of text into a dense vector. Implementations
// return errors that wrap ErrRateLimited or ErrEmbeddingService so callers can
// decide between aborting and skipping.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStore persists embedding records and answers similarity queries that
// are hard-filtered to one Scope before ranking.
type VectorStore interface {
	// Insert persists one record. Failures wrap ErrStorage.
	Insert(ctx context.Context, rec EmbeddingRecord) error

	// Search returns up to k records from scope ranked by descending
	// similarity to vector. k <= 0 means DefaultTopK.
	Search(ctx context.Context, scope Scope, vector []float32, k int) ([]EmbeddingRecord, error)

	// Count returns the number of records stored under scope.
	Count(ctx context.Context, scope Scope) (int, error)

	// Close releases any underlying connections.
	Close() error
}

// OwnershipLedger records which owner created which named collection.
// Recording an existing pair is a successful no-op.
type OwnershipLedger interface {
	Record(ctx context.Context, scope Scope) error
	Exists(ctx context.Context, scope Scope) (bool, error)
	List(ctx context.Context, ownerID string) ([]OwnershipRecord, error)
}

// Retriever fetches the chunks of one scoped collection that are most
// relevant to a question.
type Retriever interface {
	Retrieve(ctx context.Context, scope Scope, question string) ([]EmbeddingRecord, error)
}
