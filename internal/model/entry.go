package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerEntry is one immutable credit or debit against an account.
//
// BalanceAfter is a cache of the running balance at this entry. It is derived
// from the predecessor entry and is verified by recomputation, never edited.
type LedgerEntry struct {
	EntryID       string          `json:"entry_id"`
	AccountID     string          `json:"account_id"`
	TransactionID string          `json:"transaction_id"`
	Kind          Kind            `json:"kind"`
	Credit        decimal.Decimal `json:"credit_amount"`
	Debit         decimal.Decimal `json:"debit_amount"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Reference     string          `json:"reference,omitempty"`
	PaymentMode   string          `json:"payment_mode"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	CreatedBy     string          `json:"created_by"`
	DeviceID      string          `json:"device_id"`
	SyncState     SyncState       `json:"sync_state"`
}

// Amount returns the non-zero side of the entry.
func (e LedgerEntry) Amount() decimal.Decimal {
	if e.Kind == KindCredit {
		return e.Credit
	}
	return e.Debit
}

// Signed returns Credit - Debit.
func (e LedgerEntry) Signed() decimal.Decimal {
	return e.Credit.Sub(e.Debit)
}

// Validate checks the structural invariants of an entry.
// It does not check BalanceAfter against the predecessor; that needs the
// account's history and is done by the ledger's verification routine.
func (e LedgerEntry) Validate() error {
	var missing []string
	if e.EntryID == "" {
		missing = append(missing, "entry_id")
	}
	if e.AccountID == "" {
		missing = append(missing, "account_id")
	}
	if e.TransactionID == "" {
		missing = append(missing, "transaction_id")
	}
	if !e.Kind.Valid() {
		missing = append(missing, "kind")
	}
	if e.CreatedAt.IsZero() {
		missing = append(missing, "created_at")
	}
	if len(missing) > 0 {
		return NewValidationError("ledger entry", missing...)
	}

	if e.Credit.IsNegative() || e.Debit.IsNegative() {
		return NewInvalidAmountError("ledger entry", e.Signed().String())
	}
	switch e.Kind {
	case KindCredit:
		if !e.Credit.IsPositive() || !e.Debit.IsZero() {
			return NewValidationError("ledger entry", "credit_amount", "debit_amount")
		}
	case KindDebit:
		if !e.Debit.IsPositive() || !e.Credit.IsZero() {
			return NewValidationError("ledger entry", "credit_amount", "debit_amount")
		}
	}
	return nil
}

// Round rounds d to Precision places, half away from zero.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Precision)
}

// FormatAmount renders d with exactly Precision places, e.g. "74.50".
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(Precision)
}

// NextBalance applies one entry's signed amount to the predecessor balance.
func NextBalance(prev decimal.Decimal, kind Kind, amount decimal.Decimal) decimal.Decimal {
	if kind == KindCredit {
		return Round(prev.Add(amount))
	}
	return Round(prev.Sub(amount))
}

// EntryBefore reports whether a precedes b in an account's total order:
// CreatedAt first, then EntryID compared bytewise.
func EntryBefore(a, b LedgerEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.EntryID < b.EntryID
}
