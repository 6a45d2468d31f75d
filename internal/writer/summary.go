package writer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dairyledger/internal/model"
)

// DaySummary is the "today's totals" panel. It is recomputed from the ledger
// on every call and never stored.
type DaySummary struct {
	Day           string                     `json:"day"`
	Entries       int                        `json:"entries"`
	Credits       decimal.Decimal            `json:"credits"`
	Debits        decimal.Decimal            `json:"debits"`
	Net           decimal.Decimal            `json:"net"`
	Accounts      int                        `json:"accounts"`
	ByPaymentMode map[string]decimal.Decimal `json:"by_payment_mode"`
}

// TodaySummary totals the entries created on the calendar day containing day,
// in day's location.
func (w *Writer) TodaySummary(ctx context.Context, day time.Time) (DaySummary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	entries, err := w.ledger.EntriesBetween(ctx, start, end)
	if err != nil {
		return DaySummary{}, err
	}
	return summarize(start.Format(time.DateOnly), entries), nil
}

func summarize(day string, entries []model.LedgerEntry) DaySummary {
	s := DaySummary{
		Day:           day,
		Credits:       decimal.Zero,
		Debits:        decimal.Zero,
		ByPaymentMode: make(map[string]decimal.Decimal),
	}
	accounts := make(map[string]bool)
	for _, e := range entries {
		s.Entries++
		s.Credits = s.Credits.Add(e.Credit)
		s.Debits = s.Debits.Add(e.Debit)
		s.ByPaymentMode[e.PaymentMode] = s.ByPaymentMode[e.PaymentMode].Add(e.Amount())
		accounts[e.AccountID] = true
	}
	s.Net = model.Round(s.Credits.Sub(s.Debits))
	s.Accounts = len(accounts)
	return s
}
