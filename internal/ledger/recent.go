package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dairyledger/internal/model"
)

// RecentRow is the display form of an entry in a farmer's statement.
type RecentRow struct {
	EntryID     string          `json:"entry_id"`
	Date        time.Time       `json:"date"`
	Kind        model.Kind      `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Balance     decimal.Decimal `json:"balance"`
	Reference   string          `json:"reference,omitempty"`
	PaymentMode string          `json:"payment_mode"`
	Notes       string          `json:"notes,omitempty"`
	Settled     bool            `json:"settled"`
}

// Recent returns the newest entries of an account as statement rows.
// Cash entries are settled on the spot; every other mode is outstanding.
func (l *Ledger) Recent(ctx context.Context, accountID string, limit int) ([]RecentRow, error) {
	entries, err := l.Entries(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}
	rows := make([]RecentRow, len(entries))
	for i, e := range entries {
		rows[i] = RecentRow{
			EntryID:     e.EntryID,
			Date:        e.CreatedAt,
			Kind:        e.Kind,
			Amount:      e.Amount(),
			Balance:     e.BalanceAfter,
			Reference:   e.Reference,
			PaymentMode: e.PaymentMode,
			Notes:       e.Notes,
			Settled:     e.PaymentMode == model.PaymentCash,
		}
	}
	return rows, nil
}
