package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/dairyledger/internal/audit"
	"github.com/roach88/dairyledger/internal/ledger"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/remote"
)

// LedgerSyncedHook flags the originating ledger entry as synced and records
// an audit sync event. Items that do not originate from a ledger entry only
// get the audit event.
func LedgerSyncedHook(l *ledger.Ledger, tr *audit.Trail, logger *slog.Logger) SyncedHook {
	return func(ctx context.Context, item model.SyncQueueItem, receipt remote.Receipt) {
		if err := l.MarkSynced(ctx, item.ID); err != nil && !model.IsNotFound(err) {
			logger.Error("mark ledger entry synced failed", "id", item.ID, "error", err)
		}

		after, err := model.MarshalCanonical(map[string]any{
			"status":    string(model.StatusSynced),
			"remote_id": receipt.RemoteID,
		})
		if err != nil {
			logger.Error("encode sync audit snapshot failed", "id", item.ID, "error", err)
			return
		}
		// Best-effort: Record logs its own failures.
		_, _ = tr.Record(ctx, model.ActionSync, audit.Details{
			EntityType: item.EntityType,
			EntityID:   item.ID,
			After:      string(after),
		})
	}
}

// AuditFailedHook records an audit sync_failed event for items that reached
// the retry ceiling, so they surface in the trail for manual review.
func AuditFailedHook(tr *audit.Trail, logger *slog.Logger) FailedHook {
	return func(ctx context.Context, item model.SyncQueueItem, cause error) {
		after, err := model.MarshalCanonical(map[string]any{
			"status":      string(model.StatusFailed),
			"retry_count": item.RetryCount,
			"last_error":  cause.Error(),
		})
		if err != nil {
			logger.Error("encode sync failure snapshot failed", "id", item.ID, "error", err)
			return
		}
		_, _ = tr.Record(ctx, model.ActionSyncFailed, audit.Details{
			EntityType: item.EntityType,
			EntityID:   item.ID,
			After:      string(after),
		})
	}
}
