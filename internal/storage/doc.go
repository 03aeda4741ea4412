// Package storage persists subscriber state.
//
// Drivers:
//   - "file":   one JSON document rewritten atomically on every save
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "memory": process-local, for tests and dry runs
package storage
