// Package store provides the credential store for the gateway.
//
// # Architecture
//
// CredentialStore is the narrow contract the auth guard depends on:
// lookup by username and insert-if-absent. Two implementations exist:
//
//   - SQLiteStore: modernc.org/sqlite, pure Go, no cgo
//   - MockStore: in-memory map guarded by a mutex, for tests
//
// # Uniqueness
//
// Usernames are the primary key. CreateCredential returns
// ErrUsernameExists when the name is taken and writes nothing, which gives
// the atomic insert-if-absent that concurrent account provisioning needs.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// The pool is capped at one connection so writers serialize.
//
// # Error Handling
//
//   - ErrNotFound: username does not exist
//   - ErrUsernameExists: insert collided with an existing username
//   - ErrUnavailable: any other database failure (wrapped with detail)
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore(":memory:") or a
// t.TempDir() path for tests that exercise real SQLite.
package store
