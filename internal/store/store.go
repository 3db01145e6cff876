// Package store persists the ownership ledger (which user created which
// named collection) and per-collection conversation transcripts. SQLite is
// the default single-host backend; the ledger can also live in PostgreSQL
// next to the pgvector tables.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/54b3r/docqa-go/internal/rag"
)

// TranscriptStore persists and retrieves the conversation held against one
// scoped collection. Implementations must be safe for concurrent use.
type TranscriptStore interface {
	// Append persists a single turn for the given scope.
	Append(ctx context.Context, scope rag.Scope, turn rag.ConversationTurn) error
	// Recent returns the most recent n turns for the scope, ordered
	// oldest-first so they can be passed straight to the answer assembler.
	// If fewer than n turns exist, all are returned.
	Recent(ctx context.Context, scope rag.Scope, n int) ([]rag.ConversationTurn, error)
}

// SQLiteStore is an OwnershipLedger and TranscriptStore backed by a local
// SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var (
	_ rag.OwnershipLedger = (*SQLiteStore)(nil)
	_ TranscriptStore     = (*SQLiteStore)(nil)
)

// DefaultDBPath returns the default path for the ledger database.
// It resolves to ~/.docqa/docqa.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".docqa")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "docqa.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS collections (
    owner_id        TEXT    NOT NULL,
    collection_name TEXT    NOT NULL,
    created_at      INTEGER NOT NULL,  -- Unix timestamp (seconds)
    PRIMARY KEY (owner_id, collection_name)
);
CREATE TABLE IF NOT EXISTS transcripts (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id        TEXT    NOT NULL,
    collection_name TEXT    NOT NULL,
    role            TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content         TEXT    NOT NULL,
    created_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_scope_created
    ON transcripts (owner_id, collection_name, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Record implements rag.OwnershipLedger. A second Record for the same pair is
// a no-op and keeps the original creation time.
func (s *SQLiteStore) Record(ctx context.Context, scope rag.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	const q = `INSERT INTO collections (owner_id, collection_name, created_at) VALUES (?, ?, ?)
ON CONFLICT (owner_id, collection_name) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, q, scope.OwnerID, scope.CollectionName, time.Now().Unix()); err != nil {
		return fmt.Errorf("%w: store: record %s: %w", rag.ErrStorage, scope, err)
	}
	return nil
}

// Exists implements rag.OwnershipLedger.
func (s *SQLiteStore) Exists(ctx context.Context, scope rag.Scope) (bool, error) {
	const q = `SELECT COUNT(*) FROM collections WHERE owner_id = ? AND collection_name = ?`
	var n int
	if err := s.db.QueryRowContext(ctx, q, scope.OwnerID, scope.CollectionName).Scan(&n); err != nil {
		return false, fmt.Errorf("%w: store: exists: %w", rag.ErrStorage, err)
	}
	return n > 0, nil
}

// List implements rag.OwnershipLedger, newest collection first.
func (s *SQLiteStore) List(ctx context.Context, ownerID string) ([]rag.OwnershipRecord, error) {
	const q = `SELECT collection_name, created_at FROM collections
WHERE owner_id = ? ORDER BY created_at DESC, collection_name ASC`
	rows, err := s.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: store: list: %w", rag.ErrStorage, err)
	}
	defer rows.Close()

	var out []rag.OwnershipRecord
	for rows.Next() {
		rec := rag.OwnershipRecord{OwnerID: ownerID}
		var ts int64
		if err := rows.Scan(&rec.CollectionName, &ts); err != nil {
			return nil, fmt.Errorf("%w: store: list scan: %w", rag.ErrStorage, err)
		}
		rec.CreatedAt = time.Unix(ts, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: store: list rows: %w", rag.ErrStorage, err)
	}
	return out, nil
}

// Append implements TranscriptStore.
func (s *SQLiteStore) Append(ctx context.Context, scope rag.Scope, turn rag.ConversationTurn) error {
	const q = `INSERT INTO transcripts (owner_id, collection_name, role, content, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, scope.OwnerID, scope.CollectionName, string(turn.Role), turn.Text, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent implements TranscriptStore. Uses a subquery to select the tail then
// re-order oldest-first.
func (s *SQLiteStore) Recent(ctx context.Context, scope rag.Scope, n int) ([]rag.ConversationTurn, error) {
	const q = `
SELECT role, content FROM (
    SELECT id, role, content, created_at
    FROM   transcripts
    WHERE  owner_id = ? AND collection_name = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, scope.OwnerID, scope.CollectionName, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var turns []rag.ConversationTurn
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		turns = append(turns, rag.ConversationTurn{Role: rag.Role(role), Text: content})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return turns, nil
}

// Ping checks the database handle.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
