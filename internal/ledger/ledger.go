package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/dairyledger/internal/clock"
	"github.com/roach88/dairyledger/internal/ids"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/store"
)

// EntryInput is the caller-supplied part of a new entry.
type EntryInput struct {
	Kind          model.Kind
	Amount        decimal.Decimal
	Reference     string
	PaymentMode   string
	Notes         string
	TransactionID string
	OperatorID    string

	// Outbound, when set, builds the sync queue item for the new entry. The
	// entry and the item are written in one transaction, so a committed
	// entry always carries its sync obligation. An error from Outbound
	// aborts the append.
	Outbound func(model.LedgerEntry) (model.SyncQueueItem, error)
}

// Ledger appends and reads ledger entries.
//
// Appends are serialized by a mutex: computing balance_after reads the
// account's latest entry, so two concurrent appends to one account would
// otherwise derive from the same predecessor.
type Ledger struct {
	store    *store.Store
	clock    clock.Clock
	ids      ids.Generator
	deviceID string
	logger   *slog.Logger

	mu sync.Mutex
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// New creates a ledger over s. deviceID is stamped on every entry.
func New(s *store.Store, clk clock.Clock, gen ids.Generator, deviceID string, opts ...Option) *Ledger {
	l := &Ledger{
		store:    s,
		clock:    clk,
		ids:      gen,
		deviceID: deviceID,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append writes a new entry for accountID and returns it.
//
// The amount is rounded to model.Precision first; a result <= 0 fails with
// an invalid amount error and nothing is written. An empty TransactionID gets
// a fresh one, an empty PaymentMode defaults to cash.
//
// created_at is monotonic per account: if the clock reads at or before the
// latest entry's timestamp (clock set back, or two appends in one
// microsecond), the new entry is placed one microsecond after it.
func (l *Ledger) Append(ctx context.Context, accountID string, in EntryInput) (model.LedgerEntry, error) {
	const op = "ledger.append"

	var missing []string
	if accountID == "" {
		missing = append(missing, "account_id")
	}
	if !in.Kind.Valid() {
		missing = append(missing, "kind")
	}
	if len(missing) > 0 {
		return model.LedgerEntry{}, model.NewValidationError(op, missing...)
	}

	amount := model.Round(in.Amount)
	if !amount.IsPositive() {
		return model.LedgerEntry{}, model.NewInvalidAmountError(op, in.Amount.String())
	}

	txnID := in.TransactionID
	if txnID == "" {
		txnID = l.ids.NewID("txn")
	}
	mode := in.PaymentMode
	if mode == "" {
		mode = model.PaymentCash
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	latest, found, err := l.store.LatestEntry(ctx, accountID)
	if err != nil {
		return model.LedgerEntry{}, model.NewStorageError(op, err)
	}

	prev := decimal.Zero
	now := store.TruncateTime(l.clock.Now())
	if found {
		prev = latest.BalanceAfter
		if !now.After(latest.CreatedAt) {
			now = latest.CreatedAt.Add(time.Microsecond)
		}
	}

	entry := model.LedgerEntry{
		EntryID:       l.ids.NewID("led"),
		AccountID:     accountID,
		TransactionID: txnID,
		Kind:          in.Kind,
		Credit:        decimal.Zero,
		Debit:         decimal.Zero,
		BalanceAfter:  model.NextBalance(prev, in.Kind, amount),
		Reference:     in.Reference,
		PaymentMode:   mode,
		Notes:         in.Notes,
		CreatedAt:     now,
		CreatedBy:     in.OperatorID,
		DeviceID:      l.deviceID,
		SyncState:     model.SyncStatePending,
	}
	if in.Kind == model.KindCredit {
		entry.Credit = amount
	} else {
		entry.Debit = amount
	}

	if err := entry.Validate(); err != nil {
		return model.LedgerEntry{}, err
	}
	if in.Outbound == nil {
		if err := l.store.InsertEntry(ctx, entry); err != nil {
			return model.LedgerEntry{}, model.NewStorageError(op, err)
		}
	} else {
		item, err := in.Outbound(entry)
		if err != nil {
			return model.LedgerEntry{}, err
		}
		if err := l.store.InsertEntryWithQueueItem(ctx, entry, item); err != nil {
			return model.LedgerEntry{}, model.NewStorageError(op, err)
		}
	}

	l.logger.Debug("ledger entry appended",
		"entry_id", entry.EntryID,
		"account_id", accountID,
		"kind", entry.Kind,
		"amount", model.FormatAmount(amount),
		"balance_after", model.FormatAmount(entry.BalanceAfter))

	return entry, nil
}

// Balance returns the balance_after of the account's latest entry, or zero
// for an account with no entries.
func (l *Ledger) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	latest, found, err := l.store.LatestEntry(ctx, accountID)
	if err != nil {
		return decimal.Zero, model.NewStorageError("ledger.balance", err)
	}
	if !found {
		return decimal.Zero, nil
	}
	return latest.BalanceAfter, nil
}

// Entries returns up to limit entries of an account, newest first.
// limit <= 0 returns all of them.
func (l *Ledger) Entries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	entries, err := l.store.ListEntries(ctx, accountID, limit)
	if err != nil {
		return nil, model.NewStorageError("ledger.entries", err)
	}
	return entries, nil
}

// Entry returns one entry by id.
func (l *Ledger) Entry(ctx context.Context, entryID string) (model.LedgerEntry, error) {
	const op = "ledger.entry"
	e, found, err := l.store.GetEntry(ctx, entryID)
	if err != nil {
		return model.LedgerEntry{}, model.NewStorageError(op, err)
	}
	if !found {
		return model.LedgerEntry{}, model.NewNotFoundError(op, "entry "+entryID)
	}
	return e, nil
}

// EntriesBetween returns entries of every account created in [from, to),
// oldest first.
func (l *Ledger) EntriesBetween(ctx context.Context, from, to time.Time) ([]model.LedgerEntry, error) {
	entries, err := l.store.ListEntriesBetween(ctx, from, to)
	if err != nil {
		return nil, model.NewStorageError("ledger.entries_between", err)
	}
	return entries, nil
}

// Accounts returns every account id with at least one entry.
func (l *Ledger) Accounts(ctx context.Context) ([]string, error) {
	accounts, err := l.store.ListAccounts(ctx)
	if err != nil {
		return nil, model.NewStorageError("ledger.accounts", err)
	}
	return accounts, nil
}

// MarkSynced records that the remote store acknowledged an entry.
func (l *Ledger) MarkSynced(ctx context.Context, entryID string) error {
	const op = "ledger.mark_synced"
	ok, err := l.store.MarkEntrySynced(ctx, entryID)
	if err != nil {
		return model.NewStorageError(op, err)
	}
	if !ok {
		return model.NewNotFoundError(op, "entry "+entryID)
	}
	return nil
}

// Stats summarizes the whole ledger.
type Stats struct {
	TotalEntries  int `json:"total_entries"`
	TotalAccounts int `json:"total_accounts"`
	PendingSync   int `json:"pending_sync"`
}

// Stats returns entry, account and unsynced counts.
func (l *Ledger) Stats(ctx context.Context) (Stats, error) {
	c, err := l.store.CountLedger(ctx)
	if err != nil {
		return Stats{}, model.NewStorageError("ledger.stats", err)
	}
	return Stats{
		TotalEntries:  c.Entries,
		TotalAccounts: c.Accounts,
		PendingSync:   c.PendingSync,
	}, nil
}
