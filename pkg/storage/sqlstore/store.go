// Package sqlstore implements storage.DocumentStore on a single SQL table.
//
// The same statements run on PostgreSQL (lib/pq) and SQLite (go-sqlite3);
// both accept $N placeholders and ON CONFLICT upserts.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/acesso/pkg/storage"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS documents (
	collection VARCHAR(100) NOT NULL,
	id VARCHAR(255) NOT NULL,
	data TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	PRIMARY KEY (collection, id)
)`

const (
	selectDocumentSQL = `SELECT data, updated_at FROM documents WHERE collection = $1 AND id = $2`
	listDocumentsSQL  = `SELECT id, data, updated_at FROM documents WHERE collection = $1 ORDER BY id`
	upsertDocumentSQL = `INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`
)

// undefinedTable is the PostgreSQL SQLSTATE for a missing relation
const undefinedTable = "42P01"

// Store is a SQL-backed document store
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a store and ensures the documents table exists
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := NewWithoutMigrations(db)
	if err := s.ensureTable(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ensure documents table: %w", err)
	}
	return s, nil
}

// NewWithoutMigrations creates a store on a schema managed elsewhere
func NewWithoutMigrations(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) ensureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, createTableSQL)
	return err
}

// Get fetches one document
func (s *Store) Get(ctx context.Context, collection, id string) (*storage.Document, error) {
	var (
		data      []byte
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, selectDocumentSQL, collection, id).Scan(&data, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get document %s/%s: %w", collection, id, mapError(err))
	}

	return &storage.Document{
		Collection: collection,
		ID:         id,
		Data:       json.RawMessage(data),
		UpdatedAt:  updatedAt,
	}, nil
}

// Set replaces one document
func (s *Store) Set(ctx context.Context, collection, id string, data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: %s/%s", storage.ErrInvalidDocument, collection, id)
	}

	_, err := s.db.ExecContext(ctx, upsertDocumentSQL, collection, id, string(data), s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set document %s/%s: %w", collection, id, mapError(err))
	}
	return nil
}

// Merge overlays top-level fields inside a transaction
func (s *Store) Merge(ctx context.Context, collection, id string, data json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		base      []byte
		updatedAt time.Time
	)
	err = tx.QueryRowContext(ctx, selectDocumentSQL, collection, id).Scan(&base, &updatedAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to read document %s/%s: %w", collection, id, mapError(err))
	}

	merged, err := storage.MergeFields(base, data)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, upsertDocumentSQL, collection, id, string(merged), s.now().UTC()); err != nil {
		return fmt.Errorf("failed to merge document %s/%s: %w", collection, id, mapError(err))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit merge: %w", err)
	}
	return nil
}

// List returns every document of a collection ordered by id
func (s *Store) List(ctx context.Context, collection string) ([]*storage.Document, error) {
	rows, err := s.db.QueryContext(ctx, listDocumentsSQL, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, mapError(err))
	}
	defer rows.Close()

	var docs []*storage.Document
	for rows.Next() {
		var (
			id        string
			data      []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &data, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, &storage.Document{
			Collection: collection,
			ID:         id,
			Data:       json.RawMessage(data),
			UpdatedAt:  updatedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", collection, err)
	}
	return docs, nil
}

// Query lists the collection and keeps documents matching every filter.
// Undecodable documents are skipped.
// TODO: push equality filters down as jsonb predicates when running on PostgreSQL.
func (s *Store) Query(ctx context.Context, collection string, filters ...storage.Filter) ([]*storage.Document, error) {
	docs, err := s.List(ctx, collection)
	if err != nil {
		return nil, err
	}

	result := make([]*storage.Document, 0, len(docs))
	for _, doc := range docs {
		ok, err := storage.Matches(doc.Data, filters)
		if err != nil || !ok {
			continue
		}
		result = append(result, doc)
	}
	return result, nil
}

// mapError translates driver errors for missing tables into storage.ErrCollectionNotFound
func mapError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == undefinedTable {
		return fmt.Errorf("%w: %v", storage.ErrCollectionNotFound, err)
	}
	if strings.Contains(err.Error(), "no such table") {
		return fmt.Errorf("%w: %v", storage.ErrCollectionNotFound, err)
	}
	return err
}
