package app

import (
	"context"

	"github.com/roach88/dairyledger/internal/audit"
	"github.com/roach88/dairyledger/internal/ledger"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/scenario"
)

// RetryFailed requeues the named failed items, or every failed item when ids
// is empty, and audits each requeue. It returns the ids requeued.
func (a *App) RetryFailed(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		failed, err := a.Queue.Failed(ctx)
		if err != nil {
			return nil, err
		}
		for _, it := range failed {
			ids = append(ids, it.ID)
		}
	}

	requeued := make([]string, 0, len(ids))
	for _, id := range ids {
		item, err := a.Queue.Get(ctx, id)
		if err != nil {
			return requeued, err
		}
		if err := a.Queue.Retry(ctx, id); err != nil {
			return requeued, err
		}
		requeued = append(requeued, id)
		a.record(ctx, model.ActionRetry, item.EntityType, id, map[string]any{
			"status":      string(model.StatusPending),
			"retry_count": item.RetryCount,
			"last_error":  item.LastError,
		})
	}
	return requeued, nil
}

// Verification is the combined ledger and audit check.
type Verification struct {
	Valid    bool                  `json:"valid"`
	Accounts []ledger.Verification `json:"accounts"`
	Audit    audit.Integrity       `json:"audit"`
}

// Err returns the first integrity error found, or nil.
func (v Verification) Err() error {
	for _, acct := range v.Accounts {
		if err := acct.Err(); err != nil {
			return err
		}
	}
	if !v.Audit.Valid {
		return model.NewIntegrityError("audit.verify", "audit checksum mismatch")
	}
	return nil
}

// Verify recomputes every balance and audit checksum, then audits the check
// itself. The verify event is written after the checksums are read, so it
// is not part of the result it reports.
func (a *App) Verify(ctx context.Context) (Verification, error) {
	accounts, err := a.Ledger.VerifyAll(ctx)
	if err != nil {
		return Verification{}, err
	}
	integrity, err := a.Audit.VerifyIntegrity(ctx)
	if err != nil {
		return Verification{}, err
	}

	v := Verification{Valid: integrity.Valid, Accounts: accounts, Audit: integrity}
	if v.Accounts == nil {
		v.Accounts = []ledger.Verification{}
	}
	mismatched := 0
	for _, acct := range accounts {
		if !acct.Valid {
			v.Valid = false
			mismatched++
		}
	}

	a.record(ctx, model.ActionVerify, "", "", map[string]any{
		"valid":                v.Valid,
		"accounts":             len(v.Accounts),
		"mismatched_accounts":  mismatched,
		"audit_events":         integrity.Total,
		"invalid_audit_events": len(integrity.InvalidIDs),
	})
	return v, nil
}

// Import applies a batch of offline events and audits the batch.
func (a *App) Import(ctx context.Context, sc *scenario.Scenario) (*scenario.Result, error) {
	res, err := scenario.Apply(ctx, a.Writer, a.Ledger, sc)
	if err != nil {
		return res, err
	}
	a.record(ctx, model.ActionImport, "", sc.Name, map[string]any{
		"name":      sc.Name,
		"pass":      res.Pass,
		"committed": res.Committed(),
		"rejected":  len(res.Steps) - res.Committed(),
	})
	return res, nil
}

// record writes a best-effort audit event; failures are logged by the trail.
func (a *App) record(ctx context.Context, action model.AuditAction, entityType model.EntityType, entityID string, after map[string]any) {
	snapshot, err := model.MarshalCanonical(after)
	if err != nil {
		a.Logger.Error("encode audit snapshot failed", "action", action, "error", err)
		return
	}
	_, _ = a.Audit.Record(ctx, action, audit.Details{
		EntityType: entityType,
		EntityID:   entityID,
		After:      string(snapshot),
		OperatorID: a.Config.Device.OperatorID,
	})
}
