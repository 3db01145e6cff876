package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written with every point. owner_id and collection_name carry
// keyword indexes so the scope filter is resolved before vector scoring.
const (
	payloadOwnerID    = "owner_id"
	payloadCollection = "collection_name"
	payloadText       = "text"
	payloadChunkIndex = "chunk_index"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the physical Qdrant collection that holds every user's
	// records. Tenancy is expressed through payload filters, not through
	// one Qdrant collection per user.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// and its scope indexes exist, and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "docqa"
	}
	if cfg.VectorSize == 0 {
		return nil, fmt.Errorf("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the Qdrant collection and the keyword indexes on
// the scope fields if they do not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	for _, field := range []string{payloadOwnerID, payloadCollection} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.cfg.Collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to index payload field %q: %w", field, err)
		}
	}

	return nil
}

// scopeFilter matches only points whose owner and collection both equal scope.
func scopeFilter(scope Scope) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(payloadOwnerID, scope.OwnerID),
			qdrant.NewMatch(payloadCollection, scope.CollectionName),
		},
	}
}

// Insert implements VectorStore. The upsert waits for the write to be applied
// so a following Count observes it.
func (s *QdrantStore) Insert(ctx context.Context, rec EmbeddingRecord) error {
	if err := prepareRecord(&rec, int(s.cfg.VectorSize)); err != nil {
		return err
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadOwnerID:    rec.OwnerID,
				payloadCollection: rec.CollectionName,
				payloadText:       rec.Text,
				payloadChunkIndex: int64(rec.ChunkIndex),
			}),
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: qdrant: upsert failed: %w", ErrStorage, err)
	}

	return nil
}

// Search implements VectorStore with a cosine query restricted by scopeFilter.
func (s *QdrantStore) Search(ctx context.Context, scope Scope, vector []float32, k int) ([]EmbeddingRecord, error) {
	limit := uint64(normaliseK(k))
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         scopeFilter(scope),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant: search failed: %w", ErrStorage, err)
	}

	hits := make([]EmbeddingRecord, 0, len(results))
	for _, r := range results {
		hit := EmbeddingRecord{
			ID:             r.Id.GetUuid(),
			Score:          r.Score,
			OwnerID:        scope.OwnerID,
			CollectionName: scope.CollectionName,
		}
		if p := r.Payload; p != nil {
			if v, ok := p[payloadText]; ok {
				hit.Text = v.GetStringValue()
			}
			if v, ok := p[payloadChunkIndex]; ok {
				hit.ChunkIndex = int(v.GetIntegerValue())
			}
		}
		hits = append(hits, hit)
	}

	return hits, nil
}

// Count implements VectorStore with an exact filtered count.
func (s *QdrantStore) Count(ctx context.Context, scope Scope) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         scopeFilter(scope),
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: qdrant: count failed: %w", ErrStorage, err)
	}
	return int(n), nil
}

// Ping checks that the Qdrant server answers its health endpoint.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
