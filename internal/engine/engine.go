package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/dairyledger/internal/clock"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/remote"
	"github.com/roach88/dairyledger/internal/store"
)

// Config holds the drain policy.
type Config struct {
	// BatchSize caps the items selected per drain.
	BatchSize int
	// MaxRetries is the retry ceiling: an item that has failed this many
	// attempts becomes failed and is never retried automatically.
	MaxRetries int
	// Backoff[n-1] is the wait after the n-th failed attempt.
	Backoff []time.Duration
	// SendTimeout bounds each remote submission.
	SendTimeout time.Duration
	// PruneThreshold is the queue size above which old synced items are pruned.
	PruneThreshold int
	// SyncedRetention is how long synced items are kept before pruning.
	SyncedRetention time.Duration
}

// DefaultConfig returns the production drain policy.
func DefaultConfig() Config {
	return Config{
		BatchSize:       10,
		MaxRetries:      5,
		Backoff:         []time.Duration{time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second},
		SendTimeout:     10 * time.Second,
		PruneThreshold:  100,
		SyncedRetention: time.Hour,
	}
}

// Gate reports whether the connection is healthy enough to drain.
type Gate interface {
	Healthy() bool
}

// SyncedHook runs after an item is marked synced.
type SyncedHook func(ctx context.Context, item model.SyncQueueItem, receipt remote.Receipt)

// FailedHook runs after an item reaches the retry ceiling.
type FailedHook func(ctx context.Context, item model.SyncQueueItem, err error)

// Skip reasons reported by Drain.
const (
	SkipInProgress = "drain_in_progress"
	SkipOffline    = "offline"
)

// ItemResult is the outcome of one item in a drain.
type ItemResult struct {
	ID      string            `json:"id"`
	Outcome string            `json:"outcome"`
	Status  model.QueueStatus `json:"status"`
	Error   string            `json:"error,omitempty"`
}

// DrainReport summarizes one drain cycle.
type DrainReport struct {
	Skipped    bool         `json:"skipped"`
	SkipReason string       `json:"skip_reason,omitempty"`
	Selected   int          `json:"selected"`
	Synced     int          `json:"synced"`
	Retried    int          `json:"retried"`
	Failed     int          `json:"failed"`
	Deferred   int          `json:"deferred"`
	Pruned     int64        `json:"pruned"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Results    []ItemResult `json:"results"`
}

// Engine runs drain cycles against a remote store.
//
// Thread-safety model:
//   - Drain(): safe from any goroutine; concurrent calls are single-flight
//   - Status(): safe from any goroutine
//   - Recover(): call once at startup before the first drain
type Engine struct {
	store    *store.Store
	remote   remote.Remote
	clock    clock.Clock
	cfg      Config
	gate     Gate
	logger   *slog.Logger
	onSynced []SyncedHook
	onFailed []FailedHook

	draining atomic.Bool

	mu          sync.Mutex
	lastDrainAt time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithGate gates drains on g. Without a gate the engine always drains.
func WithGate(g Gate) EngineOption {
	return func(e *Engine) {
		e.gate = g
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSyncedHook registers a hook run after every successful send.
func WithSyncedHook(h SyncedHook) EngineOption {
	return func(e *Engine) {
		e.onSynced = append(e.onSynced, h)
	}
}

// WithFailedHook registers a hook run when an item becomes failed.
func WithFailedHook(h FailedHook) EngineOption {
	return func(e *Engine) {
		e.onFailed = append(e.onFailed, h)
	}
}

// New creates an engine. Zero fields in cfg take their DefaultConfig value.
func New(s *store.Store, r remote.Remote, clk clock.Clock, cfg Config, opts ...EngineOption) *Engine {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = def.Backoff
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.PruneThreshold <= 0 {
		cfg.PruneThreshold = def.PruneThreshold
	}
	if cfg.SyncedRetention < 0 {
		cfg.SyncedRetention = def.SyncedRetention
	}

	e := &Engine{
		store:  s,
		remote: r,
		clock:  clk,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective drain policy.
func (e *Engine) Config() Config {
	return e.cfg
}

// Recover returns items left in_flight by a crash to pending. Their retry
// counts are unchanged: an attempt that never recorded an outcome does not
// count against the ceiling.
func (e *Engine) Recover(ctx context.Context) (int64, error) {
	n, err := e.store.ResetInFlight(ctx)
	if err != nil {
		return 0, model.NewStorageError("engine.recover", err)
	}
	if n > 0 {
		e.logger.Warn("recovered in-flight items after restart", "count", n)
	}
	return n, nil
}

// Drain runs one drain cycle.
//
// If another drain is running, or the gate reports the connection unhealthy,
// Drain returns a skipped report without touching the queue. Otherwise it
// selects a batch, marks it in_flight in one transaction and sends the items
// one at a time. Send failures never surface as errors: they are recorded on
// the item. The error return is reserved for local storage failures.
//
// A drain is not cancellable mid-item. If ctx is cancelled between items the
// unsent rest of the batch goes back to pending.
func (e *Engine) Drain(ctx context.Context) (DrainReport, error) {
	if !e.draining.CompareAndSwap(false, true) {
		return DrainReport{Skipped: true, SkipReason: SkipInProgress, Results: []ItemResult{}}, nil
	}
	defer e.draining.Store(false)

	if e.gate != nil && !e.gate.Healthy() {
		e.logger.Debug("drain skipped: connection unhealthy")
		return DrainReport{Skipped: true, SkipReason: SkipOffline, Results: []ItemResult{}}, nil
	}

	report := DrainReport{StartedAt: e.clock.Now(), Results: []ItemResult{}}

	unsynced, err := e.store.ListUnsynced(ctx)
	if err != nil {
		return report, model.NewStorageError("engine.drain", err)
	}
	batch := selectBatch(unsynced, report.StartedAt, e.cfg.Backoff, e.cfg.BatchSize)
	report.Selected = len(batch)

	if len(batch) > 0 {
		ids := make([]string, len(batch))
		for i, item := range batch {
			ids[i] = item.ID
		}
		if err := e.store.MarkInFlight(ctx, ids); err != nil {
			return report, model.NewStorageError("engine.drain", err)
		}

		e.logger.Debug("drain started", "selected", len(batch), "unsynced", len(unsynced))
		if err := e.sendBatch(ctx, batch, &report); err != nil {
			return report, err
		}
	}

	if report.Synced > 0 {
		pruned, err := e.prune(context.WithoutCancel(ctx))
		if err != nil {
			e.logger.Error("prune synced items failed", "error", err)
		}
		report.Pruned = pruned
	}

	report.FinishedAt = e.clock.Now()
	e.mu.Lock()
	e.lastDrainAt = report.FinishedAt
	e.mu.Unlock()

	if report.Selected > 0 {
		e.logger.Info("drain finished",
			"selected", report.Selected,
			"synced", report.Synced,
			"retried", report.Retried,
			"failed", report.Failed,
			"deferred", report.Deferred)
	}
	return report, nil
}

// sendBatch sends items in order. After a failure, later items sharing the
// failed item's ordering key are released back to pending unsent.
func (e *Engine) sendBatch(ctx context.Context, batch []model.SyncQueueItem, report *DrainReport) error {
	// Bookkeeping must land even if ctx is cancelled mid-batch.
	bookCtx := context.WithoutCancel(ctx)

	var release []string
	blocked := make(map[string]bool)
	for i, item := range batch {
		if ctx.Err() != nil {
			for _, rest := range batch[i:] {
				release = append(release, rest.ID)
			}
			break
		}
		if item.OrderingKey != "" && blocked[item.OrderingKey] {
			release = append(release, item.ID)
			report.Deferred++
			report.Results = append(report.Results, ItemResult{
				ID: item.ID, Outcome: model.OutcomeDeferred, Status: model.StatusPending,
			})
			if err := e.store.AppendSyncLog(bookCtx, model.SyncAttempt{
				ItemID:  item.ID,
				Attempt: item.RetryCount,
				At:      e.clock.Now(),
				Outcome: model.OutcomeDeferred,
				Error:   "earlier item with the same ordering key failed",
				Status:  model.StatusPending,
			}); err != nil {
				e.logger.Error("sync log write failed", "id", item.ID, "error", err)
			}
			continue
		}

		res, err := e.send(ctx, bookCtx, item)
		if err != nil {
			// The outcome could not be recorded. Leave the rest of the batch
			// for the next cycle.
			for _, rest := range batch[i+1:] {
				release = append(release, rest.ID)
			}
			e.releaseOrLog(bookCtx, release)
			return err
		}
		report.Results = append(report.Results, res)
		switch res.Outcome {
		case model.OutcomeSynced:
			report.Synced++
		case model.OutcomeRetry:
			report.Retried++
		case model.OutcomeFailed:
			report.Failed++
		}
		if res.Outcome != model.OutcomeSynced && item.OrderingKey != "" {
			blocked[item.OrderingKey] = true
		}
	}

	e.releaseOrLog(bookCtx, release)
	return nil
}

func (e *Engine) releaseOrLog(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := e.store.ReleaseInFlight(ctx, ids); err != nil {
		// Recover at next startup returns them to pending.
		e.logger.Error("release in-flight items failed", "count", len(ids), "error", err)
	}
}

// send submits one item and records the outcome.
func (e *Engine) send(ctx, bookCtx context.Context, item model.SyncQueueItem) (ItemResult, error) {
	attempt := item.RetryCount + 1
	started := e.clock.Now()

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.SendTimeout)
	receipt, sendErr := e.remote.Submit(sendCtx, item.EntityType, item.ID, []byte(item.Payload))
	cancel()
	sendErr = remote.Classify("engine.send", sendErr)

	finished := e.clock.Now()
	duration := finished.Sub(started).Milliseconds()

	if sendErr == nil {
		out := store.AttemptOutcome{
			ID:         item.ID,
			Status:     model.StatusSynced,
			RetryCount: item.RetryCount,
			At:         finished,
			RemoteID:   receipt.RemoteID,
		}
		log := model.SyncAttempt{
			ItemID: item.ID, Attempt: attempt, At: finished,
			Outcome: model.OutcomeSynced, DurationMS: duration, Status: model.StatusSynced,
		}
		if err := e.store.RecordAttempt(bookCtx, out, log); err != nil {
			return ItemResult{}, model.NewStorageError("engine.send", err)
		}

		item.Status = model.StatusSynced
		item.SyncedAt = finished
		item.LastAttemptAt = finished
		item.RemoteID = receipt.RemoteID
		for _, h := range e.onSynced {
			h(bookCtx, item, receipt)
		}

		e.logger.Debug("item synced", "id", item.ID, "attempt", attempt, "remote_id", receipt.RemoteID)
		return ItemResult{ID: item.ID, Outcome: model.OutcomeSynced, Status: model.StatusSynced}, nil
	}

	retryCount := item.RetryCount + 1
	status := model.StatusPending
	outcome := model.OutcomeRetry
	if retryCount >= e.cfg.MaxRetries {
		status = model.StatusFailed
		outcome = model.OutcomeFailed
	}

	out := store.AttemptOutcome{
		ID:         item.ID,
		Status:     status,
		RetryCount: retryCount,
		At:         finished,
		LastError:  sendErr.Error(),
	}
	log := model.SyncAttempt{
		ItemID: item.ID, Attempt: attempt, At: finished, Outcome: outcome,
		Error: sendErr.Error(), DurationMS: duration, Status: status,
	}
	if err := e.store.RecordAttempt(bookCtx, out, log); err != nil {
		return ItemResult{}, model.NewStorageError("engine.send", err)
	}

	if status == model.StatusFailed {
		e.logger.Warn("item failed: retry ceiling reached",
			"id", item.ID,
			"attempts", retryCount,
			"code", model.CodeOf(sendErr),
			"error", sendErr)
		item.Status = model.StatusFailed
		item.RetryCount = retryCount
		item.LastError = sendErr.Error()
		item.LastAttemptAt = finished
		for _, h := range e.onFailed {
			h(bookCtx, item, sendErr)
		}
	} else {
		e.logger.Info("item send failed, will retry",
			"id", item.ID,
			"attempt", attempt,
			"retriable", model.IsRetriable(sendErr),
			"error", sendErr)
	}

	return ItemResult{ID: item.ID, Outcome: outcome, Status: status, Error: sendErr.Error()}, nil
}

// prune removes old synced items once the queue has grown past the
// threshold. Pending and failed items are never pruned.
func (e *Engine) prune(ctx context.Context) (int64, error) {
	counts, err := e.store.CountQueue(ctx)
	if err != nil {
		return 0, err
	}
	if counts.Total() <= e.cfg.PruneThreshold {
		return 0, nil
	}
	cutoff := e.clock.Now().Add(-e.cfg.SyncedRetention)
	n, err := e.store.PruneSynced(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("pruned synced items", "count", n, "queue_size", counts.Total())
	}
	return n, nil
}

// Status is the sync-status feed shown to the operator.
type Status struct {
	PendingCount  int       `json:"pending_count"`
	InFlightCount int       `json:"in_flight_count"`
	FailedCount   int       `json:"failed_count"`
	SyncedCount   int       `json:"synced_count"`
	Online        bool      `json:"online"`
	Draining      bool      `json:"draining"`
	LastDrainAt   time.Time `json:"last_drain_at"`
}

// Status returns queue counts and connection state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	counts, err := e.store.CountQueue(ctx)
	if err != nil {
		return Status{}, model.NewStorageError("engine.status", err)
	}
	e.mu.Lock()
	last := e.lastDrainAt
	e.mu.Unlock()

	return Status{
		PendingCount:  counts[model.StatusPending],
		InFlightCount: counts[model.StatusInFlight],
		FailedCount:   counts[model.StatusFailed],
		SyncedCount:   counts[model.StatusSynced],
		Online:        e.gate == nil || e.gate.Healthy(),
		Draining:      e.draining.Load(),
		LastDrainAt:   last,
	}, nil
}
