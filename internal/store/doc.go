// Package store provides SQLite-based durable storage for the ledger, the
// audit trail, the sync queue and device settings.
//
// The store only persists. Business rules (balance derivation, checksums,
// retry policy) live in the packages that own each table; the store exposes
// narrow reads and writes for them.
//
// Key guarantees:
//   - Deterministic ordering: every list query has a total ORDER BY ending
//     in an id compared with COLLATE BINARY
//   - Idempotent enqueue: sync queue inserts use ON CONFLICT(id) DO NOTHING
//   - Append-only ledger: triggers reject deletes and any update other than
//     sync_state
//   - Single writer: one open connection, WAL journal
//
// Schema changes ship as embedded migrations applied with golang-migrate on
// Open.
package store
