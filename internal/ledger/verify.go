package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/roach88/dairyledger/internal/model"
)

// Mismatch is one entry whose stored balance_after disagrees with the
// recomputed running balance.
type Mismatch struct {
	EntryID  string          `json:"entry_id"`
	Stored   decimal.Decimal `json:"stored"`
	Expected decimal.Decimal `json:"expected"`
	Reason   string          `json:"reason"`
}

// Verification is the result of re-deriving an account's balance.
type Verification struct {
	AccountID  string          `json:"account_id"`
	Valid      bool            `json:"valid"`
	Entries    int             `json:"entries"`
	Cached     decimal.Decimal `json:"cached"`
	Recomputed decimal.Decimal `json:"recomputed"`
	Drift      decimal.Decimal `json:"drift"`
	Mismatches []Mismatch      `json:"mismatches"`
}

// Err returns an integrity error describing the first mismatch, or nil when
// the account verified.
func (v Verification) Err() error {
	if v.Valid {
		return nil
	}
	msg := fmt.Sprintf("account %s: cached balance %s, recomputed %s",
		v.AccountID, model.FormatAmount(v.Cached), model.FormatAmount(v.Recomputed))
	if len(v.Mismatches) > 0 {
		m := v.Mismatches[0]
		msg += fmt.Sprintf("; entry %s stores %s, expected %s (%d mismatched)",
			m.EntryID, model.FormatAmount(m.Stored), model.FormatAmount(m.Expected), len(v.Mismatches))
	}
	return model.NewIntegrityError("ledger.verify", msg)
}

// RecomputeAndVerify walks an account's entries oldest to newest, recomputes
// the running balance and compares it with every stored balance_after.
//
// Mismatches are reported, never corrected. The running balance continues
// from the recomputed value, so a single corrupted row is flagged alone
// rather than poisoning every later entry.
func (l *Ledger) RecomputeAndVerify(ctx context.Context, accountID string) (Verification, error) {
	entries, err := l.store.ListEntriesOldestFirst(ctx, accountID)
	if err != nil {
		return Verification{}, model.NewStorageError("ledger.verify", err)
	}

	v := Verification{
		AccountID:  accountID,
		Entries:    len(entries),
		Cached:     decimal.Zero,
		Mismatches: []Mismatch{},
	}

	running := decimal.Zero
	sum := decimal.Zero
	for _, e := range entries {
		running = model.NextBalance(running, e.Kind, e.Amount())
		sum = sum.Add(e.Signed())
		if err := e.Validate(); err != nil {
			v.Mismatches = append(v.Mismatches, Mismatch{
				EntryID:  e.EntryID,
				Stored:   e.BalanceAfter,
				Expected: running,
				Reason:   err.Error(),
			})
			continue
		}
		if !e.BalanceAfter.Equal(running) {
			v.Mismatches = append(v.Mismatches, Mismatch{
				EntryID:  e.EntryID,
				Stored:   e.BalanceAfter,
				Expected: running,
				Reason:   "balance_after",
			})
		}
	}
	if len(entries) > 0 {
		v.Cached = entries[len(entries)-1].BalanceAfter
	}
	v.Recomputed = running
	v.Drift = v.Cached.Sub(v.Recomputed)

	// Amounts are stored rounded, so the running balance equals the plain sum.
	v.Valid = len(v.Mismatches) == 0 && v.Drift.IsZero() && model.Round(sum).Equal(running)

	if !v.Valid {
		l.logger.Warn("ledger verification failed",
			"account_id", accountID,
			"cached", model.FormatAmount(v.Cached),
			"recomputed", model.FormatAmount(v.Recomputed),
			"mismatches", len(v.Mismatches))
	}
	return v, nil
}

// VerifyAll verifies every account.
func (l *Ledger) VerifyAll(ctx context.Context) ([]Verification, error) {
	accounts, err := l.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Verification, 0, len(accounts))
	for _, a := range accounts {
		v, err := l.RecomputeAndVerify(ctx, a)
		if err != nil {
			return nil, err
		}
		results = append(results, v)
	}
	return results, nil
}
