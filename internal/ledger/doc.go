// Package ledger implements the append-only account ledger.
//
// Every credit or debit is an immutable entry carrying the running balance
// after it (balance_after). The balance of an account is never stored on its
// own: it is the balance_after of the account's latest entry in
// (created_at, entry_id) order, and RecomputeAndVerify re-derives it from
// scratch to detect storage corruption.
//
// Corrections are new entries. Nothing in this package updates or deletes an
// entry, apart from the delivery flag sync_state.
package ledger
