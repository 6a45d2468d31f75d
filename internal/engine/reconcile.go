package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/dairyledger/internal/clock"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/store"
)

// DefaultInterval is the time between timer-driven reconciliation cycles.
const DefaultInterval = 15 * time.Second

// maxDrainsPerCycle bounds one cycle when every drain keeps making progress.
const maxDrainsPerCycle = 100

// CycleReport summarizes one reconciliation cycle.
type CycleReport struct {
	Reasons []Trigger     `json:"reasons"`
	Drains  int           `json:"drains"`
	Synced  int           `json:"synced"`
	Retried int           `json:"retried"`
	Failed  int           `json:"failed"`
	Skipped string        `json:"skipped,omitempty"`
	Took    time.Duration `json:"took"`
}

// Reconciler guarantees the queue is eventually drained or its permanent
// failures are durably reported. It drains on a timer and on triggers.
type Reconciler struct {
	engine   *Engine
	queue    *Queue
	store    *store.Store
	clock    clock.Clock
	interval time.Duration
	logger   *slog.Logger
	triggers *triggerSet
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithInterval sets the timer period.
func WithInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithReconcilerLogger sets the logger. Defaults to slog.Default().
func WithReconcilerLogger(logger *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// NewReconciler creates a reconciler driving e.
func NewReconciler(e *Engine, q *Queue, s *store.Store, clk clock.Clock, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		engine:   e,
		queue:    q,
		store:    s,
		clock:    clk,
		interval: DefaultInterval,
		logger:   slog.Default(),
		triggers: newTriggerSet(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Trigger asks the Run loop for a cycle. Never blocks; repeated triggers
// before the loop wakes coalesce into one cycle.
func (r *Reconciler) Trigger(t Trigger) {
	r.triggers.Add(t)
}

// Start prepares the queue after a restart: in_flight items go back to
// pending and ledger entries that were committed but never enqueued are
// enqueued now.
func (r *Reconciler) Start(ctx context.Context) error {
	if _, err := r.engine.Recover(ctx); err != nil {
		return err
	}
	_, err := r.RepairOrphans(ctx)
	return err
}

// RepairOrphans enqueues every pending ledger entry that has no queue item.
// This closes the window where the process died between the ledger append
// and the enqueue of a commit.
func (r *Reconciler) RepairOrphans(ctx context.Context) (int, error) {
	const op = "reconcile.repair"
	orphans, err := r.store.ListUnqueuedPendingEntries(ctx)
	if err != nil {
		return 0, model.NewStorageError(op, err)
	}
	for _, e := range orphans {
		payload, err := model.MarshalCanonical(model.EntryPayload(e))
		if err != nil {
			return 0, model.NewStorageError(op, err)
		}
		if _, err := r.queue.Enqueue(ctx, Request{
			ID:          e.EntryID,
			EntityType:  model.EntityLedgerEntry,
			Payload:     payload,
			Priority:    model.PriorityNormal,
			OrderingKey: e.AccountID,
			CreatedAt:   e.CreatedAt,
		}); err != nil {
			return 0, err
		}
	}
	if len(orphans) > 0 {
		r.logger.Warn("re-enqueued ledger entries missing from the sync queue", "count", len(orphans))
	}
	return len(orphans), nil
}

// Run drives reconciliation until ctx is done: once at start, then on every
// tick and trigger.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}

	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reconciler starting", "interval", r.interval)
	r.runCycle(ctx, []Trigger{TriggerStartup})

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopping: context cancelled")
			return ctx.Err()
		case <-ticker.C():
			r.runCycle(ctx, append([]Trigger{TriggerTimer}, r.triggers.Take()...))
		case <-r.triggers.Wait():
			if reasons := r.triggers.Take(); len(reasons) > 0 {
				r.runCycle(ctx, reasons)
			}
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context, reasons []Trigger) {
	if _, err := r.reconcile(ctx, reasons); err != nil {
		// Log and continue: the next tick retries. Local storage failures are
		// the only errors that reach here.
		r.logger.Error("reconciliation cycle failed", "reasons", reasons, "error", err)
	}
}

// ReconcileOnce runs one cycle synchronously.
func (r *Reconciler) ReconcileOnce(ctx context.Context, reason Trigger) (CycleReport, error) {
	return r.reconcile(ctx, []Trigger{reason})
}

// reconcile drains until nothing is due or a drain makes no progress.
func (r *Reconciler) reconcile(ctx context.Context, reasons []Trigger) (CycleReport, error) {
	start := r.clock.Now()
	rep := CycleReport{Reasons: reasons}

	for rep.Drains < maxDrainsPerCycle {
		dr, err := r.engine.Drain(ctx)
		if err != nil {
			return rep, err
		}
		if dr.Skipped {
			if rep.Drains == 0 {
				rep.Skipped = dr.SkipReason
			}
			break
		}
		rep.Drains++
		rep.Synced += dr.Synced
		rep.Retried += dr.Retried
		rep.Failed += dr.Failed
		if dr.Selected == 0 || dr.Synced == 0 || ctx.Err() != nil {
			break
		}
	}

	rep.Took = r.clock.Now().Sub(start)
	if rep.Synced+rep.Retried+rep.Failed > 0 {
		r.logger.Info("reconciliation cycle finished",
			"reasons", reasons,
			"drains", rep.Drains,
			"synced", rep.Synced,
			"retried", rep.Retried,
			"failed", rep.Failed)
	}
	return rep, nil
}
