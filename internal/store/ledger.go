package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/dairyledger/internal/model"
)

const entryColumns = `entry_id, account_id, transaction_id, kind, credit_amount, debit_amount,
	balance_after, reference, payment_mode, notes, created_at, created_by, device_id, sync_state`

// execer is the part of *sql.DB and *sql.Tx the insert helpers need.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// InsertEntry appends a ledger entry. Unlike queue inserts, a duplicate
// entry_id is an error: entry ids are generated fresh for every append.
func (s *Store) InsertEntry(ctx context.Context, e model.LedgerEntry) error {
	if err := insertEntry(ctx, s.db, e); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// InsertEntryWithQueueItem appends a ledger entry and its outbound sync queue
// item in one transaction. Either both rows are written or neither is; an
// existing queue row with the item's id fails the whole insert.
func (s *Store) InsertEntryWithQueueItem(ctx context.Context, e model.LedgerEntry, item model.SyncQueueItem) error {
	return s.withTx(ctx, "insert entry", func(tx *sql.Tx) error {
		if err := insertEntry(ctx, tx, e); err != nil {
			return err
		}
		inserted, err := insertQueueItem(ctx, tx, item)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("queue item %s already exists", item.ID)
		}
		return nil
	})
}

func insertEntry(ctx context.Context, db execer, e model.LedgerEntry) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.EntryID,
		e.AccountID,
		e.TransactionID,
		string(e.Kind),
		amountText(e.Credit),
		amountText(e.Debit),
		amountText(e.BalanceAfter),
		e.Reference,
		e.PaymentMode,
		e.Notes,
		micros(e.CreatedAt),
		e.CreatedBy,
		e.DeviceID,
		string(e.SyncState),
	)
	return err
}

// GetEntry reads one entry by id.
// Returns found=false if no entry has that id.
func (s *Store) GetEntry(ctx context.Context, entryID string) (model.LedgerEntry, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+entryColumns+" FROM ledger_entries WHERE entry_id = ?", entryID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LedgerEntry{}, false, nil
	}
	if err != nil {
		return model.LedgerEntry{}, false, fmt.Errorf("get entry: %w", err)
	}
	return e, true, nil
}

// LatestEntry returns the last entry of an account in (created_at, entry_id)
// order. Returns found=false for an account with no entries.
func (s *Store) LatestEntry(ctx context.Context, accountID string) (model.LedgerEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at DESC, entry_id COLLATE BINARY DESC
		LIMIT 1
	`, accountID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LedgerEntry{}, false, nil
	}
	if err != nil {
		return model.LedgerEntry{}, false, fmt.Errorf("latest entry: %w", err)
	}
	return e, true, nil
}

// ListEntries returns an account's entries newest first.
// limit <= 0 returns every entry.
func (s *Store) ListEntries(ctx context.Context, accountID string, limit int) ([]model.LedgerEntry, error) {
	return s.queryEntries(ctx, "list entries", `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at DESC, entry_id COLLATE BINARY DESC
		LIMIT ?
	`, accountID, sqlLimit(limit))
}

// ListEntriesOldestFirst returns every entry of an account in total order.
func (s *Store) ListEntriesOldestFirst(ctx context.Context, accountID string) ([]model.LedgerEntry, error) {
	return s.queryEntries(ctx, "list entries", `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE account_id = ?
		ORDER BY created_at ASC, entry_id COLLATE BINARY ASC
	`, accountID)
}

// ListEntriesBetween returns entries of every account created in [from, to),
// oldest first.
func (s *Store) ListEntriesBetween(ctx context.Context, from, to time.Time) ([]model.LedgerEntry, error) {
	return s.queryEntries(ctx, "list entries between", `
		SELECT `+entryColumns+`
		FROM ledger_entries
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, entry_id COLLATE BINARY ASC
	`, micros(from), micros(to))
}

// ListUnqueuedPendingEntries returns entries whose sync_state is pending but
// which have no sync queue row. These are commits whose enqueue never ran.
func (s *Store) ListUnqueuedPendingEntries(ctx context.Context) ([]model.LedgerEntry, error) {
	return s.queryEntries(ctx, "list unqueued entries", `
		SELECT `+entryColumns+`
		FROM ledger_entries e
		WHERE e.sync_state = 'pending'
		  AND NOT EXISTS (SELECT 1 FROM sync_queue q WHERE q.id = e.entry_id)
		ORDER BY e.created_at ASC, e.entry_id COLLATE BINARY ASC
	`)
}

// ListAccounts returns every account id that has at least one entry.
func (s *Store) ListAccounts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT account_id FROM ledger_entries
		ORDER BY account_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	accounts := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return accounts, nil
}

// MarkEntrySynced sets sync_state to synced. It is the only mutation the
// ledger table accepts.
func (s *Store) MarkEntrySynced(ctx context.Context, entryID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE ledger_entries SET sync_state = 'synced' WHERE entry_id = ?", entryID)
	if err != nil {
		return false, fmt.Errorf("mark entry synced: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark entry synced: %w", err)
	}
	return n > 0, nil
}

// LedgerCounts summarizes the ledger table.
type LedgerCounts struct {
	Entries     int
	Accounts    int
	PendingSync int
}

// CountLedger returns entry, account and pending-sync counts.
func (s *Store) CountLedger(ctx context.Context) (LedgerCounts, error) {
	var c LedgerCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(DISTINCT account_id),
			COALESCE(SUM(CASE WHEN sync_state = 'pending' THEN 1 ELSE 0 END), 0)
		FROM ledger_entries
	`).Scan(&c.Entries, &c.Accounts, &c.PendingSync)
	if err != nil {
		return LedgerCounts{}, fmt.Errorf("count ledger: %w", err)
	}
	return c, nil
}

func (s *Store) queryEntries(ctx context.Context, op, query string, args ...any) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	entries := []model.LedgerEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return entries, nil
}

func scanEntry(row rowScanner) (model.LedgerEntry, error) {
	var (
		e                      model.LedgerEntry
		kind, syncState        string
		credit, debit, balance string
		createdAt              int64
	)
	err := row.Scan(
		&e.EntryID,
		&e.AccountID,
		&e.TransactionID,
		&kind,
		&credit,
		&debit,
		&balance,
		&e.Reference,
		&e.PaymentMode,
		&e.Notes,
		&createdAt,
		&e.CreatedBy,
		&e.DeviceID,
		&syncState,
	)
	if err != nil {
		return model.LedgerEntry{}, err
	}

	e.Kind = model.Kind(kind)
	e.SyncState = model.SyncState(syncState)
	e.CreatedAt = fromMicros(createdAt)
	if e.Credit, err = parseAmount("credit_amount", credit); err != nil {
		return model.LedgerEntry{}, err
	}
	if e.Debit, err = parseAmount("debit_amount", debit); err != nil {
		return model.LedgerEntry{}, err
	}
	if e.BalanceAfter, err = parseAmount("balance_after", balance); err != nil {
		return model.LedgerEntry{}, err
	}
	return e, nil
}

// sqlLimit maps "no limit" to SQLite's -1.
func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
