// Package storage keeps an audit trail of broadcast outcomes.
//
// Drivers:
//   - "file": JSON Lines, no dependencies
//   - "sqlite": a SQLite database file (modernc.org/sqlite, pure Go)
//
// Scheduled jobs are never stored here; the job registry is memory-only.
package storage
