// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package uses small interfaces so each service can depend on
// exactly what it needs:
//
//   - ContextStore: chat contexts keyed by a caller-chosen id
//   - PreferenceStore: one preference record per user, replaced atomically
//   - RoleStore: role assignments (admin) for administrative commands
//   - AuditStore: append-only log of grants and context lifecycle
//
// SQLiteStore implements all of them in a single struct. MockStore is the
// in-memory implementation used by service tests.
//
// # Data Models
//
//   - ChatContext: id, owner, model and the ordered message transcript
//   - UserPreference: default context (weak reference), default model and
//     the set of explicitly granted models
//   - AuditEntry: who changed which grant or context
//
// Messages and granted models are stored as JSON columns. A context row is
// always rewritten as a whole, so a transcript is never partially updated.
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateContext: a context with the same id already exists
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(t.TempDir()+"/test.db")
// for integration tests with real SQLite.
package store
