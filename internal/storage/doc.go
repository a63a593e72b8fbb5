// Package storage persists the clear/search audit trail.
//
// Drivers:
//   - "file": append-only JSON Lines next to the configured path
//   - "sqlite": SQLite database (modernc.org/sqlite, no cgo)
//
// An empty driver or "none" disables persistence; Open returns (nil, nil).
package storage
