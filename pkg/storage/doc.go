// Package storage provides the document persistence layer used by the
// permission engine and the audit trail.
//
// # Overview
//
// Every piece of persisted state lives in a named collection of JSON
// documents addressed by id. Three collections are used:
//
//   - employees: one document per employee (role, status, profile)
//   - employee_permissions: the sparse override matrix of one employee
//   - audit_logs: append-only audit entries
//
// The DocumentStore interface is deliberately small (get, set, merge,
// query-by-equality, list). No transactions or joins are exposed.
//
// # Implementations
//
//   - MemoryStore: process-local maps, used by tests and driver=memory
//   - sqlstore.Store: a single documents table on PostgreSQL or SQLite
//   - CachedStore: Redis read-through decorator around any DocumentStore
//
// # Usage
//
//	store := storage.NewMemoryStore()
//	err := store.Set(ctx, "employees", "ana", []byte(`{"name":"Ana"}`))
//	doc, err := store.Get(ctx, "employees", "ana")
package storage
