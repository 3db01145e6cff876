package rag

import (
	"context"
	"database/sql"
	"fmt"

	// Register the "postgres" driver with database/sql.
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PgVectorStore implements VectorStore on PostgreSQL with the pgvector
// extension. Scope columns are indexed and applied in the WHERE clause, so
// the cosine ordering only ever sees rows from one scope.
type PgVectorStore struct {
	db        *sql.DB
	dimension int
}

// OpenPgVector connects to dsn, creates the vector extension and the
// embedding_records table if needed, and returns a ready store.
func OpenPgVector(ctx context.Context, dsn string, dimension int) (*PgVectorStore, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("pgvector: dimension must be positive")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("pgvector: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pgvector: ping: %w", err)
	}

	s := &PgVectorStore{db: db, dimension: dimension}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgVectorStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embedding_records (
			id              UUID PRIMARY KEY,
			owner_id        TEXT NOT NULL,
			collection_name TEXT NOT NULL,
			chunk_index     INTEGER NOT NULL,
			content         TEXT NOT NULL,
			embedding       vector(%d) NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS idx_embedding_records_scope
			ON embedding_records (owner_id, collection_name)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector: migrate: %w", err)
		}
	}
	return nil
}

// DB exposes the connection pool so the ownership ledger can share it.
func (s *PgVectorStore) DB() *sql.DB { return s.db }

// Insert implements VectorStore.
func (s *PgVectorStore) Insert(ctx context.Context, rec EmbeddingRecord) error {
	if err := prepareRecord(&rec, s.dimension); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embedding_records (id, owner_id, collection_name, chunk_index, content, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.OwnerID, rec.CollectionName, rec.ChunkIndex, rec.Text, pgvector.NewVector(rec.Vector),
	)
	if err != nil {
		return fmt.Errorf("%w: pgvector: insert: %w", ErrStorage, err)
	}
	return nil
}

// Search implements VectorStore. <=> is cosine distance, so the score is
// reported as 1 - distance.
func (s *PgVectorStore) Search(ctx context.Context, scope Scope, vector []float32, k int) ([]EmbeddingRecord, error) {
	query := pgvector.NewVector(vector)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chunk_index, content, 1 - (embedding <=> $3) AS score
		 FROM embedding_records
		 WHERE owner_id = $1 AND collection_name = $2
		 ORDER BY embedding <=> $3
		 LIMIT $4`,
		scope.OwnerID, scope.CollectionName, query, normaliseK(k),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: pgvector: search: %w", ErrStorage, err)
	}
	defer rows.Close()

	var hits []EmbeddingRecord
	for rows.Next() {
		var (
			hit   EmbeddingRecord
			score float64
		)
		if err := rows.Scan(&hit.ID, &hit.ChunkIndex, &hit.Text, &score); err != nil {
			return nil, fmt.Errorf("%w: pgvector: scan: %w", ErrStorage, err)
		}
		hit.OwnerID = scope.OwnerID
		hit.CollectionName = scope.CollectionName
		hit.Score = float32(score)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: pgvector: rows: %w", ErrStorage, err)
	}
	return hits, nil
}

// Count implements VectorStore.
func (s *PgVectorStore) Count(ctx context.Context, scope Scope) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embedding_records WHERE owner_id = $1 AND collection_name = $2`,
		scope.OwnerID, scope.CollectionName,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: pgvector: count: %w", ErrStorage, err)
	}
	return n, nil
}

// Ping checks database connectivity.
func (s *PgVectorStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PgVectorStore) Close() error {
	return s.db.Close()
}
