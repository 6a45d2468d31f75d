package writer

import (
	"context"
	"strings"

	"github.com/roach88/dairyledger/internal/ledger"
	"github.com/roach88/dairyledger/internal/model"
)

// reversalPrefix marks the reference of a compensating entry.
const reversalPrefix = "reverses:"

// Reverse cancels entryID with a compensating entry of the opposite kind and
// the same amount. History is never edited: the original stays in the ledger
// and both entries are synced.
//
// An entry can be reversed once, and a reversal cannot itself be reversed.
func (w *Writer) Reverse(ctx context.Context, entryID, reason, operator string) (CommitResult, error) {
	const op = "writer.reverse"

	if entryID == "" || strings.TrimSpace(reason) == "" {
		var fields []string
		if entryID == "" {
			fields = append(fields, "entry_id")
		}
		if strings.TrimSpace(reason) == "" {
			fields = append(fields, "reason")
		}
		return CommitResult{}, model.NewValidationError(op, fields...)
	}

	orig, err := w.ledger.Entry(ctx, entryID)
	if err != nil {
		return CommitResult{}, err
	}
	if strings.HasPrefix(orig.Reference, reversalPrefix) {
		return CommitResult{}, &model.Error{
			Code: model.ErrCodeValidation, Op: op,
			Message: "entry " + entryID + " is a reversal", Fields: []string{"entry_id"},
		}
	}

	ref := reversalPrefix + orig.EntryID
	history, err := w.ledger.Entries(ctx, orig.AccountID, 0)
	if err != nil {
		return CommitResult{}, err
	}
	for _, e := range history {
		if e.Reference == ref {
			return CommitResult{}, &model.Error{
				Code: model.ErrCodeValidation, Op: op,
				Message: "entry " + entryID + " already reversed by " + e.EntryID, Fields: []string{"entry_id"},
			}
		}
	}

	var item model.SyncQueueItem
	entry, err := w.ledger.Append(ctx, orig.AccountID, ledger.EntryInput{
		Kind:          orig.Kind.Opposite(),
		Amount:        orig.Amount(),
		Reference:     ref,
		PaymentMode:   orig.PaymentMode,
		Notes:         reason,
		TransactionID: w.ids.NewID("txn"),
		OperatorID:    operator,
		Outbound: func(e model.LedgerEntry) (model.SyncQueueItem, error) {
			var err error
			item, err = w.outbound(op, e, model.EntityLedgerEntry, model.PriorityNormal, map[string]any{
				"type":     "reversal",
				"reverses": orig.EntryID,
				"reason":   reason,
			})
			return item, err
		},
	})
	if err != nil {
		return CommitResult{}, err
	}

	res := CommitResult{TransactionID: entry.TransactionID, Entry: entry, QueueItemID: item.ID}
	before, err := model.MarshalCanonical(model.EntryPayload(orig))
	if err != nil {
		w.logger.Error("encode audit snapshot failed", "entry_id", orig.EntryID, "error", err)
	}
	res.AuditID = w.recordAudit(ctx, model.ActionReverse, string(before), entry, operator)

	w.logger.Info("entry reversed",
		"entry_id", orig.EntryID,
		"reversal_id", entry.EntryID,
		"account_id", entry.AccountID,
		"balance_after", model.FormatAmount(entry.BalanceAfter))
	return res, nil
}
