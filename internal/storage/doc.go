// Package storage is the notification deduplication store.
//
// One Record per product key. IsSent starts false and only ever flips to
// true, after a notification was confirmed delivered. HasNotified creates
// the record on first sight; MarkSent is an idempotent upsert.
//
// Drivers:
//   - "memory": process-local map (tests, dry runs)
//   - "file": JSON snapshot + append-only journal (single process)
//   - "sqlite": SQLite database file (modernc.org/sqlite, pure Go)
//   - "postgres": PostgreSQL via pgx; safe across hosts
package storage
