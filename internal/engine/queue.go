package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/dairyledger/internal/clock"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/store"
)

// Request describes a record to enqueue.
type Request struct {
	// ID is the originating record's client id. It becomes the idempotency key.
	ID          string
	EntityType  model.EntityType
	Payload     []byte
	Priority    model.Priority
	OrderingKey string
	// CreatedAt orders the item within its ordering key. Ledger entries pass
	// their own created_at so the queue follows ledger order even when the
	// clock moves backwards. Zero means the enqueue time.
	CreatedAt time.Time
}

// Queue is the durable outbound sync queue.
//
// Only Enqueue and the manual retry operations write here; every other state
// transition belongs to the Engine.
type Queue struct {
	store  *store.Store
	clock  clock.Clock
	logger *slog.Logger
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithQueueLogger sets the logger. Defaults to slog.Default().
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// NewQueue creates a queue over s.
func NewQueue(s *store.Store, clk clock.Clock, opts ...QueueOption) *Queue {
	q := &Queue{
		store:  s,
		clock:  clk,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue persists a pending item and returns it once it is durable.
//
// Enqueue is idempotent on ID: if an item with that id already exists, in any
// status, it is returned unchanged and nothing is written.
func (q *Queue) Enqueue(ctx context.Context, req Request) (model.SyncQueueItem, error) {
	const op = "queue.enqueue"

	item, err := q.Prepare(req)
	if err != nil {
		var verr *model.Error
		if errors.As(err, &verr) {
			verr.Op = op
		}
		return model.SyncQueueItem{}, err
	}

	inserted, err := q.store.InsertQueueItem(ctx, item)
	if err != nil {
		return model.SyncQueueItem{}, model.NewStorageError(op, err)
	}
	if !inserted {
		existing, found, err := q.store.GetQueueItem(ctx, item.ID)
		if err != nil {
			return model.SyncQueueItem{}, model.NewStorageError(op, err)
		}
		if found {
			q.logger.Debug("enqueue ignored: id already queued", "id", item.ID, "status", existing.Status)
			return existing, nil
		}
	}

	q.logger.Debug("item enqueued",
		"id", item.ID,
		"entity_type", item.EntityType,
		"priority", item.Priority,
		"ordering_key", item.OrderingKey)
	return item, nil
}

// Prepare builds the pending item for req without writing it. Callers that
// persist the item themselves, in the same transaction as the record it
// carries, use it instead of Enqueue.
func (q *Queue) Prepare(req Request) (model.SyncQueueItem, error) {
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}
	created := req.CreatedAt
	if created.IsZero() {
		created = q.clock.Now()
	}

	item := model.SyncQueueItem{
		ID:          req.ID,
		EntityType:  req.EntityType,
		Payload:     string(req.Payload),
		Status:      model.StatusPending,
		Priority:    priority,
		OrderingKey: req.OrderingKey,
		CreatedAt:   store.TruncateTime(created),
	}
	if err := item.Validate(); err != nil {
		return model.SyncQueueItem{}, err
	}
	return item, nil
}

// Get returns one item.
func (q *Queue) Get(ctx context.Context, id string) (model.SyncQueueItem, error) {
	const op = "queue.get"
	item, found, err := q.store.GetQueueItem(ctx, id)
	if err != nil {
		return model.SyncQueueItem{}, model.NewStorageError(op, err)
	}
	if !found {
		return model.SyncQueueItem{}, model.NewNotFoundError(op, "queue item "+id)
	}
	return item, nil
}

// List returns items in one status, oldest first. limit <= 0 means all.
func (q *Queue) List(ctx context.Context, status model.QueueStatus, limit int) ([]model.SyncQueueItem, error) {
	items, err := q.store.ListQueueByStatus(ctx, status, limit)
	if err != nil {
		return nil, model.NewStorageError("queue.list", err)
	}
	return items, nil
}

// Failed returns every item that exhausted its retries.
func (q *Queue) Failed(ctx context.Context) ([]model.SyncQueueItem, error) {
	return q.List(ctx, model.StatusFailed, 0)
}

// Retry gives one failed item a fresh retry budget.
func (q *Queue) Retry(ctx context.Context, id string) error {
	const op = "queue.retry"
	ok, err := q.store.ResetFailed(ctx, id)
	if err != nil {
		return model.NewStorageError(op, err)
	}
	if !ok {
		return model.NewNotFoundError(op, "failed item "+id)
	}
	q.logger.Info("failed item requeued", "id", id)
	return nil
}

// RetryAllFailed requeues every failed item and returns the ids requeued.
func (q *Queue) RetryAllFailed(ctx context.Context) ([]string, error) {
	failed, err := q.Failed(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(failed))
	for _, item := range failed {
		if err := q.Retry(ctx, item.ID); err != nil {
			return ids, err
		}
		ids = append(ids, item.ID)
	}
	return ids, nil
}

// Attempts returns the delivery log of one item, oldest first.
func (q *Queue) Attempts(ctx context.Context, id string) ([]model.SyncAttempt, error) {
	attempts, err := q.store.ListSyncLog(ctx, id)
	if err != nil {
		return nil, model.NewStorageError("queue.attempts", err)
	}
	return attempts, nil
}

// Counts returns the number of items per status.
func (q *Queue) Counts(ctx context.Context) (store.QueueCounts, error) {
	counts, err := q.store.CountQueue(ctx)
	if err != nil {
		return nil, model.NewStorageError("queue.counts", err)
	}
	return counts, nil
}
