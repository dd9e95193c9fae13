package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/acesso/pkg/storage"
)

// setupTestDB creates an in-memory SQLite database.
// A single connection keeps every statement on the same in-memory database.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLite_DocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	store, err := New(setupTestDB(t))
	require.NoError(t, err)

	_, err = store.Get(ctx, storage.CollectionPermissions, "ana")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	doc := json.RawMessage(`{"employeeId":"ana","permissions":{"cobrancas":{"view":true}}}`)
	require.NoError(t, store.Set(ctx, storage.CollectionPermissions, "ana", doc))

	got, err := store.Get(ctx, storage.CollectionPermissions, "ana")
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(got.Data))
	assert.False(t, got.UpdatedAt.IsZero())

	// Set is idempotent
	require.NoError(t, store.Set(ctx, storage.CollectionPermissions, "ana", doc))
	docs, err := store.List(ctx, storage.CollectionPermissions)
	require.NoError(t, err)
	assert.Len(t, docs, 1)

	require.NoError(t, store.Merge(ctx, storage.CollectionPermissions, "ana", json.RawMessage(`{"updatedAt":"2026-01-01T00:00:00Z"}`)))
	got, err = store.Get(ctx, storage.CollectionPermissions, "ana")
	require.NoError(t, err)
	assert.JSONEq(t, `{"employeeId":"ana","permissions":{"cobrancas":{"view":true}},"updatedAt":"2026-01-01T00:00:00Z"}`, string(got.Data))
}

func TestSQLite_Query(t *testing.T) {
	ctx := context.Background()
	store, err := New(setupTestDB(t))
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, storage.CollectionEmployees, "ana", json.RawMessage(`{"role":"Atendimento","status":"active"}`)))
	require.NoError(t, store.Set(ctx, storage.CollectionEmployees, "bia", json.RawMessage(`{"role":"Atendimento","status":"suspended"}`)))
	require.NoError(t, store.Set(ctx, storage.CollectionEmployees, "caio", json.RawMessage(`{"role":"Leitor","status":"active"}`)))

	docs, err := store.Query(ctx, storage.CollectionEmployees, storage.Eq("role", "Atendimento"))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = store.Query(ctx, storage.CollectionEmployees, storage.Eq("role", "Atendimento"), storage.Eq("status", "active"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ana", docs[0].ID)

	docs, err = store.List(ctx, storage.CollectionAuditLogs)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestSQLite_MissingTable(t *testing.T) {
	store := NewWithoutMigrations(setupTestDB(t))

	_, err := store.List(context.Background(), storage.CollectionAuditLogs)
	assert.ErrorIs(t, err, storage.ErrCollectionNotFound)
}
