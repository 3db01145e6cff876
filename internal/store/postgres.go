package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/54b3r/docqa-go/internal/rag"
)

// PostgresLedger is a rag.OwnershipLedger stored in PostgreSQL. It shares the
// connection pool opened by rag.OpenPgVector.
type PostgresLedger struct {
	db *sql.DB
}

var _ rag.OwnershipLedger = (*PostgresLedger)(nil)

// NewPostgresLedger creates the collections table on db if needed.
func NewPostgresLedger(ctx context.Context, db *sql.DB) (*PostgresLedger, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS collections (
    owner_id        TEXT        NOT NULL,
    collection_name TEXT        NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (owner_id, collection_name)
)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("store: postgres migrate: %w", err)
	}
	return &PostgresLedger{db: db}, nil
}

// Record implements rag.OwnershipLedger.
func (l *PostgresLedger) Record(ctx context.Context, scope rag.Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO collections (owner_id, collection_name) VALUES ($1, $2)
		 ON CONFLICT (owner_id, collection_name) DO NOTHING`,
		scope.OwnerID, scope.CollectionName,
	)
	if err != nil {
		return fmt.Errorf("%w: store: record %s: %w", rag.ErrStorage, scope, err)
	}
	return nil
}

// Exists implements rag.OwnershipLedger.
func (l *PostgresLedger) Exists(ctx context.Context, scope rag.Scope) (bool, error) {
	var ok bool
	err := l.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM collections WHERE owner_id = $1 AND collection_name = $2)`,
		scope.OwnerID, scope.CollectionName,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("%w: store: exists: %w", rag.ErrStorage, err)
	}
	return ok, nil
}

// List implements rag.OwnershipLedger, newest collection first.
func (l *PostgresLedger) List(ctx context.Context, ownerID string) ([]rag.OwnershipRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT collection_name, created_at FROM collections
		 WHERE owner_id = $1 ORDER BY created_at DESC, collection_name ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: store: list: %w", rag.ErrStorage, err)
	}
	defer rows.Close()

	var out []rag.OwnershipRecord
	for rows.Next() {
		rec := rag.OwnershipRecord{OwnerID: ownerID}
		if err := rows.Scan(&rec.CollectionName, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: store: list scan: %w", rag.ErrStorage, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: store: list rows: %w", rag.ErrStorage, err)
	}
	return out, nil
}
