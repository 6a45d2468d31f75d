// Package model defines the records shared by the ledger, audit trail and
// sync queue, plus the canonical JSON and hashing helpers used to give them
// stable identities.
//
// Every record is a closed struct with explicit enum types. Constructors and
// Validate methods reject values that would break an invariant before anything
// reaches storage:
//
//   - LedgerEntry: exactly one of Credit/Debit is non-zero, both >= 0, and
//     BalanceAfter is rounded to Precision places.
//   - AuditEvent: identity fields present; Checksum covers them.
//   - SyncQueueItem: ID is the idempotency key and equals the id of the
//     originating record.
//
// Money is shopspring/decimal throughout. Floats never touch a balance.
package model
