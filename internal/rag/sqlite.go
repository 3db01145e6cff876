package rag

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// SQLiteVectorStore is a single-host VectorStore. Vectors are stored as
// little-endian float32 blobs; Search loads the rows of one scope and ranks
// them by cosine similarity in process.
type SQLiteVectorStore struct {
	db        *sql.DB
	dimension int
}

// OpenSQLite opens (or creates) the vector database at path. Use ":memory:"
// in tests. dimension <= 0 disables the length check on insert.
func OpenSQLite(path string, dimension int) (*SQLiteVectorStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite vectors: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteVectorStore{db: db, dimension: dimension}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteVectorStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS embedding_records (
    id              TEXT    PRIMARY KEY,
    owner_id        TEXT    NOT NULL,
    collection_name TEXT    NOT NULL,
    chunk_index     INTEGER NOT NULL,
    content         TEXT    NOT NULL,
    vector          BLOB    NOT NULL,
    dimension       INTEGER NOT NULL,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embedding_records_scope
    ON embedding_records (owner_id, collection_name);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("sqlite vectors: migrate: %w", err)
	}
	return nil
}

// Insert implements VectorStore.
func (s *SQLiteVectorStore) Insert(ctx context.Context, rec EmbeddingRecord) error {
	if err := prepareRecord(&rec, s.dimension); err != nil {
		return err
	}
	const q = `INSERT INTO embedding_records
    (id, owner_id, collection_name, chunk_index, content, vector, dimension, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q,
		rec.ID, rec.OwnerID, rec.CollectionName, rec.ChunkIndex, rec.Text,
		vectorToBlob(rec.Vector), len(rec.Vector), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("%w: sqlite vectors: insert: %w", ErrStorage, err)
	}
	return nil
}

// Search implements VectorStore.
func (s *SQLiteVectorStore) Search(ctx context.Context, scope Scope, vector []float32, k int) ([]EmbeddingRecord, error) {
	const q = `SELECT id, chunk_index, content, vector FROM embedding_records
    WHERE owner_id = ? AND collection_name = ?
    ORDER BY chunk_index ASC, created_at ASC`
	rows, err := s.db.QueryContext(ctx, q, scope.OwnerID, scope.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("%w: sqlite vectors: search: %w", ErrStorage, err)
	}
	defer rows.Close()

	var candidates []EmbeddingRecord
	for rows.Next() {
		var (
			rec  EmbeddingRecord
			blob []byte
		)
		if err := rows.Scan(&rec.ID, &rec.ChunkIndex, &rec.Text, &blob); err != nil {
			return nil, fmt.Errorf("%w: sqlite vectors: scan: %w", ErrStorage, err)
		}
		vec, err := blobToVector(blob)
		if err != nil {
			return nil, fmt.Errorf("%w: sqlite vectors: record %s: %w", ErrStorage, rec.ID, err)
		}
		rec.OwnerID = scope.OwnerID
		rec.CollectionName = scope.CollectionName
		rec.Vector = vec
		rec.Score = CosineSimilarity(vector, vec)
		candidates = append(candidates, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: sqlite vectors: rows: %w", ErrStorage, err)
	}
	return rankTopK(candidates, normaliseK(k)), nil
}

// Count implements VectorStore.
func (s *SQLiteVectorStore) Count(ctx context.Context, scope Scope) (int, error) {
	const q = `SELECT COUNT(*) FROM embedding_records WHERE owner_id = ? AND collection_name = ?`
	var n int
	if err := s.db.QueryRowContext(ctx, q, scope.OwnerID, scope.CollectionName).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: sqlite vectors: count: %w", ErrStorage, err)
	}
	return n, nil
}

// Ping checks the database handle.
func (s *SQLiteVectorStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *SQLiteVectorStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlite vectors: close: %w", err)
	}
	return nil
}

func vectorToBlob(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func blobToVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
