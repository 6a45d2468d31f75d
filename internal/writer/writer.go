// Package writer turns business events into durable local state.
//
// Commit is the only path from a collection, sale or payment to the ledger.
// It runs two steps in a fixed order:
//
//  1. ledger append and sync queue enqueue, in one SQLite transaction
//     (failure aborts the commit and leaves nothing behind)
//  2. audit create event (best-effort, failure is logged)
//
// The audit write is not part of the transaction. A commit may end with the
// ledger entry written and the audit event lost, never the reverse.
package writer

import (
	"context"
	"log/slog"

	"github.com/roach88/dairyledger/internal/audit"
	"github.com/roach88/dairyledger/internal/engine"
	"github.com/roach88/dairyledger/internal/ids"
	"github.com/roach88/dairyledger/internal/ledger"
	"github.com/roach88/dairyledger/internal/model"
)

// Notifier receives a nudge after a high-priority enqueue.
type Notifier interface {
	Trigger(t engine.Trigger)
}

// CommitResult is returned by a successful commit.
type CommitResult struct {
	TransactionID string            `json:"transaction_id"`
	Entry         model.LedgerEntry `json:"entry"`
	QueueItemID   string            `json:"queue_item_id"`
	// AuditID is empty when the audit write failed.
	AuditID string `json:"audit_id,omitempty"`
}

// Writer commits events.
type Writer struct {
	ledger   *ledger.Ledger
	audit    *audit.Trail
	queue    *engine.Queue
	ids      ids.Generator
	notifier Notifier
	gate     engine.Gate
	logger   *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithNotifier nudges n after every high-priority enqueue while gate reports
// the connection healthy. A nil gate always nudges.
func WithNotifier(n Notifier, gate engine.Gate) Option {
	return func(w *Writer) {
		w.notifier = n
		w.gate = gate
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Writer) {
		w.logger = logger
	}
}

// New creates a writer.
func New(l *ledger.Ledger, tr *audit.Trail, q *engine.Queue, gen ids.Generator, opts ...Option) *Writer {
	w := &Writer{
		ledger: l,
		audit:  tr,
		queue:  q,
		ids:    gen,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Commit validates ev, appends it to the ledger together with its sync queue
// item and records an audit event. The returned error is a validation or
// storage error, and on error nothing was written. Once Commit returns the
// entry is durable whatever happens to the remote.
func (w *Writer) Commit(ctx context.Context, ev Event) (CommitResult, error) {
	const op = "writer.commit"

	if err := ev.validate(op); err != nil {
		return CommitResult{}, err
	}
	kind := ev.Kind
	if kind == "" {
		kind = DefaultKind(ev.Type)
	}
	priority := ev.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	var item model.SyncQueueItem
	entry, err := w.ledger.Append(ctx, ev.AccountID, ledger.EntryInput{
		Kind:          kind,
		Amount:        ev.Amount,
		Reference:     ev.Reference,
		PaymentMode:   ev.PaymentMode,
		Notes:         ev.Notes,
		TransactionID: w.ids.NewID("txn"),
		OperatorID:    ev.OperatorID,
		Outbound: func(e model.LedgerEntry) (model.SyncQueueItem, error) {
			var err error
			item, err = w.outbound(op, e, ev.Type, priority, ev.attributes())
			return item, err
		},
	})
	if err != nil {
		return CommitResult{}, err
	}

	res := CommitResult{TransactionID: entry.TransactionID, Entry: entry, QueueItemID: item.ID}
	res.AuditID = w.recordAudit(ctx, model.ActionCreate, "", entry, ev.OperatorID)

	w.logger.Info("event committed",
		"type", ev.Type,
		"account_id", entry.AccountID,
		"entry_id", entry.EntryID,
		"amount", model.FormatAmount(entry.Amount()),
		"balance_after", model.FormatAmount(entry.BalanceAfter),
		"priority", priority)

	if priority == model.PriorityHigh {
		w.nudge()
	}
	return res, nil
}

func (w *Writer) nudge() {
	if w.notifier == nil {
		return
	}
	if w.gate != nil && !w.gate.Healthy() {
		w.logger.Debug("high-priority send deferred: connection unhealthy")
		return
	}
	w.notifier.Trigger(engine.TriggerHighPriority)
}

// recordAudit writes an audit event for entry and returns its id, or "" if
// the write failed.
func (w *Writer) recordAudit(ctx context.Context, action model.AuditAction, before string, entry model.LedgerEntry, operator string) string {
	after, err := model.MarshalCanonical(model.EntryPayload(entry))
	if err != nil {
		w.logger.Error("encode audit snapshot failed", "entry_id", entry.EntryID, "error", err)
		return ""
	}
	ev, err := w.audit.Record(ctx, action, audit.Details{
		EntityType: model.EntityLedgerEntry,
		EntityID:   entry.EntryID,
		Before:     before,
		After:      string(after),
		OperatorID: operator,
	})
	if err != nil {
		return ""
	}
	return ev.AuditID
}

// outbound builds the queue item that carries entry to the remote store. It
// is ordered by the entry's own created_at so the queue follows ledger order.
func (w *Writer) outbound(op string, entry model.LedgerEntry, entityType model.EntityType, priority model.Priority, attrs map[string]any) (model.SyncQueueItem, error) {
	payload, err := entryPayload(entry, attrs)
	if err != nil {
		return model.SyncQueueItem{}, model.NewStorageError(op, err)
	}
	return w.queue.Prepare(engine.Request{
		ID:          entry.EntryID,
		EntityType:  entityType,
		Payload:     payload,
		Priority:    priority,
		OrderingKey: entry.AccountID,
		CreatedAt:   entry.CreatedAt,
	})
}

// entryPayload is the canonical sync payload: the entry's fields plus the
// event attributes under "event".
func entryPayload(entry model.LedgerEntry, attrs map[string]any) ([]byte, error) {
	p := model.EntryPayload(entry)
	p["event"] = attrs
	return model.MarshalCanonical(p)
}
