// Package engine moves locally committed records to the remote store.
//
// The pieces, leaves first:
//
//   - Queue: durable outbound queue. Enqueue commits to SQLite before it
//     returns, so a crash after a local commit never drops a sync obligation.
//   - Engine: one drain cycle. Selects due items, marks them in_flight in a
//     single transaction, sends them one at a time and records each outcome.
//   - Monitor: connection health, the AND of the device-reported network state
//     and a periodic remote ping. Drains are skipped while unhealthy.
//   - Reconciler: runs drains on a ticker and on triggers (online, visible,
//     high_priority, manual) until the queue has nothing due.
//
// Item lifecycle:
//
//	pending -> in_flight -> synced
//	                     -> pending (retry after backoff)
//	                     -> failed  (retry ceiling reached, manual attention)
//
// ORDERING: items sharing an OrderingKey (the account id for ledger entries)
// reach the remote in (created_at, id) order. A drain only ever takes a
// prefix of each key's chain of undelivered items, a failed send releases
// the rest of that key's items in the batch untouched, and drains are
// single-flight, so one account's entries are never in flight out of order.
//
// IDEMPOTENCY: the item id is the idempotency key sent with every attempt.
// The remote must treat a repeated key as the same logical write, which makes
// resending after a lost acknowledgement safe.
package engine
