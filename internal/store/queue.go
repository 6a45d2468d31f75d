package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/dairyledger/internal/model"
)

const queueColumns = `id, entity_type, payload, status, priority, ordering_key, retry_count,
	created_at, last_attempt_at, synced_at, last_error, remote_id`

// ErrNotInFlight is returned when an attempt outcome is recorded for an item
// that is not currently in_flight.
var ErrNotInFlight = errors.New("queue item is not in flight")

// InsertQueueItem persists a queue item.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: re-enqueueing an id that
// already exists, in any status, leaves the existing row untouched.
// Returns inserted=false when the id was already present.
func (s *Store) InsertQueueItem(ctx context.Context, item model.SyncQueueItem) (bool, error) {
	inserted, err := insertQueueItem(ctx, s.db, item)
	if err != nil {
		return false, fmt.Errorf("insert queue item: %w", err)
	}
	return inserted, nil
}

func insertQueueItem(ctx context.Context, db execer, item model.SyncQueueItem) (bool, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO sync_queue (`+queueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		item.ID,
		string(item.EntityType),
		item.Payload,
		string(item.Status),
		string(item.Priority),
		item.OrderingKey,
		item.RetryCount,
		micros(item.CreatedAt),
		nullMicros(item.LastAttemptAt),
		nullMicros(item.SyncedAt),
		item.LastError,
		item.RemoteID,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetQueueItem reads one item by id.
func (s *Store) GetQueueItem(ctx context.Context, id string) (model.SyncQueueItem, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+queueColumns+" FROM sync_queue WHERE id = ?", id)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncQueueItem{}, false, nil
	}
	if err != nil {
		return model.SyncQueueItem{}, false, fmt.Errorf("get queue item: %w", err)
	}
	return item, true, nil
}

// ListQueueByStatus returns items in one status, oldest first.
// limit <= 0 returns every item.
func (s *Store) ListQueueByStatus(ctx context.Context, status model.QueueStatus, limit int) ([]model.SyncQueueItem, error) {
	return s.queryQueue(ctx, "list queue", `
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE status = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
		LIMIT ?
	`, string(status), sqlLimit(limit))
}

// ListUnsynced returns every item not yet synced, oldest first.
// The drain selector needs failed and in_flight items too: they still block
// later items that share their ordering key.
func (s *Store) ListUnsynced(ctx context.Context) ([]model.SyncQueueItem, error) {
	return s.queryQueue(ctx, "list unsynced", `
		SELECT `+queueColumns+`
		FROM sync_queue
		WHERE status <> 'synced'
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`)
}

// MarkInFlight moves every listed item from pending to in_flight in one
// transaction. If any item is no longer pending nothing changes.
func (s *Store) MarkInFlight(ctx context.Context, ids []string) error {
	return s.withTx(ctx, "mark in flight", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"UPDATE sync_queue SET status = 'in_flight' WHERE id = ? AND status = 'pending'")
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, id := range ids {
			res, err := stmt.ExecContext(ctx, id)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("item %s is not pending", id)
			}
		}
		return nil
	})
}

// AttemptOutcome is the queue row state written after one delivery attempt.
type AttemptOutcome struct {
	ID         string
	Status     model.QueueStatus
	RetryCount int
	At         time.Time
	LastError  string
	RemoteID   string
}

// RecordAttempt writes the outcome of one send and appends its sync_log row
// in one transaction. The item must be in_flight; otherwise ErrNotInFlight.
func (s *Store) RecordAttempt(ctx context.Context, out AttemptOutcome, log model.SyncAttempt) error {
	var syncedAt any
	if out.Status == model.StatusSynced {
		syncedAt = micros(out.At)
	}

	return s.withTx(ctx, "record attempt", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE sync_queue
			SET status = ?, retry_count = ?, last_attempt_at = ?, last_error = ?,
				remote_id = CASE WHEN ? <> '' THEN ? ELSE remote_id END,
				synced_at = COALESCE(?, synced_at)
			WHERE id = ? AND status = 'in_flight'
		`,
			string(out.Status),
			out.RetryCount,
			micros(out.At),
			out.LastError,
			out.RemoteID, out.RemoteID,
			syncedAt,
			out.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotInFlight
		}
		return insertSyncLog(ctx, tx, log)
	})
}

// ReleaseInFlight returns in_flight items to pending without touching their
// retry bookkeeping. Used for batch items that were never sent.
func (s *Store) ReleaseInFlight(ctx context.Context, ids []string) error {
	return s.withTx(ctx, "release in flight", func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx,
				"UPDATE sync_queue SET status = 'pending' WHERE id = ? AND status = 'in_flight'", id,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ResetInFlight returns every in_flight item to pending. Run at startup: an
// item can only be in_flight at rest if the process died mid-drain.
func (s *Store) ResetInFlight(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE sync_queue SET status = 'pending' WHERE status = 'in_flight'")
	if err != nil {
		return 0, fmt.Errorf("reset in flight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset in flight: %w", err)
	}
	return n, nil
}

// ResetFailed moves one failed item back to pending with a fresh retry
// budget. Returns false if the item is not failed.
func (s *Store) ResetFailed(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_queue
		SET status = 'pending', retry_count = 0, last_attempt_at = NULL
		WHERE id = ? AND status = 'failed'
	`, id)
	if err != nil {
		return false, fmt.Errorf("reset failed item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset failed item: %w", err)
	}
	return n > 0, nil
}

// QueueCounts holds the number of items per status.
type QueueCounts map[model.QueueStatus]int

// Total returns the number of items in every status.
func (c QueueCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// CountQueue returns the number of items per status.
func (s *Store) CountQueue(ctx context.Context) (QueueCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM sync_queue GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count queue: %w", err)
	}
	defer rows.Close()

	counts := QueueCounts{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("count queue: %w", err)
		}
		counts[model.QueueStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count queue: iterate: %w", err)
	}
	return counts, nil
}

// PruneSynced deletes synced items whose synced_at is before cutoff, along
// with their sync_log rows. Items in any other status are never pruned.
func (s *Store) PruneSynced(ctx context.Context, cutoff time.Time) (int64, error) {
	var pruned int64
	err := s.withTx(ctx, "prune synced", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM sync_log WHERE item_id IN (
				SELECT id FROM sync_queue WHERE status = 'synced' AND synced_at < ?
			)
		`, micros(cutoff)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM sync_queue WHERE status = 'synced' AND synced_at < ?", micros(cutoff))
		if err != nil {
			return err
		}
		pruned, err = res.RowsAffected()
		return err
	})
	return pruned, err
}

// ListSyncLog returns the delivery attempts of one item, oldest first.
func (s *Store) ListSyncLog(ctx context.Context, itemID string) ([]model.SyncAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, attempt, at, outcome, error, duration_ms, status
		FROM sync_log
		WHERE item_id = ?
		ORDER BY seq ASC
	`, itemID)
	if err != nil {
		return nil, fmt.Errorf("list sync log: %w", err)
	}
	defer rows.Close()

	attempts := []model.SyncAttempt{}
	for rows.Next() {
		var a model.SyncAttempt
		var at int64
		var status string
		if err := rows.Scan(&a.ItemID, &a.Attempt, &at, &a.Outcome, &a.Error, &a.DurationMS, &status); err != nil {
			return nil, fmt.Errorf("list sync log: %w", err)
		}
		a.At = fromMicros(at)
		a.Status = model.QueueStatus(status)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sync log: iterate: %w", err)
	}
	return attempts, nil
}

// AppendSyncLog records an attempt that did not change the queue row, such as
// a send deferred because the remote was unreachable.
func (s *Store) AppendSyncLog(ctx context.Context, a model.SyncAttempt) error {
	return s.withTx(ctx, "append sync log", func(tx *sql.Tx) error {
		return insertSyncLog(ctx, tx, a)
	})
}

func insertSyncLog(ctx context.Context, tx *sql.Tx, a model.SyncAttempt) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sync_log (item_id, attempt, at, outcome, error, duration_ms, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ItemID, a.Attempt, micros(a.At), a.Outcome, a.Error, a.DurationMS, string(a.Status))
	return err
}

func (s *Store) queryQueue(ctx context.Context, op, query string, args ...any) ([]model.SyncQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	items := []model.SyncQueueItem{}
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return items, nil
}

func scanQueueItem(row rowScanner) (model.SyncQueueItem, error) {
	var (
		item                         model.SyncQueueItem
		entityType, status, priority string
		createdAt                    int64
		lastAttemptAt, syncedAt      sql.NullInt64
	)
	err := row.Scan(
		&item.ID,
		&entityType,
		&item.Payload,
		&status,
		&priority,
		&item.OrderingKey,
		&item.RetryCount,
		&createdAt,
		&lastAttemptAt,
		&syncedAt,
		&item.LastError,
		&item.RemoteID,
	)
	if err != nil {
		return model.SyncQueueItem{}, err
	}
	item.EntityType = model.EntityType(entityType)
	item.Status = model.QueueStatus(status)
	item.Priority = model.Priority(priority)
	item.CreatedAt = fromMicros(createdAt)
	item.LastAttemptAt = fromNullMicros(lastAttemptAt)
	item.SyncedAt = fromNullMicros(syncedAt)
	return item, nil
}

// withTx runs fn in a transaction, committing on nil and rolling back on error.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: begin: %w", op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}
