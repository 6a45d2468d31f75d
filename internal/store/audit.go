package store

import (
	"context"
	"fmt"

	"github.com/roach88/dairyledger/internal/model"
)

const auditColumns = `audit_id, timestamp, action, entity_type, entity_id,
	before_state, after_state, operator_id, device_id, session_id, checksum`

// InsertAudit appends an audit event.
// Uses ON CONFLICT(audit_id) DO NOTHING: re-writing the same event is a no-op.
func (s *Store) InsertAudit(ctx context.Context, ev model.AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (`+auditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(audit_id) DO NOTHING
	`,
		ev.AuditID,
		micros(ev.Timestamp),
		string(ev.Action),
		string(ev.EntityType),
		ev.EntityID,
		ev.Before,
		ev.After,
		ev.OperatorID,
		ev.DeviceID,
		ev.SessionID,
		ev.Checksum,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListAuditForEntity returns the events of one entity, newest first.
// limit <= 0 returns every event.
func (s *Store) ListAuditForEntity(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]model.AuditEvent, error) {
	return s.queryAudit(ctx, "list audit for entity", `
		SELECT `+auditColumns+`
		FROM audit_events
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY timestamp DESC, audit_id COLLATE BINARY DESC
		LIMIT ?
	`, string(entityType), entityID, sqlLimit(limit))
}

// ListRecentAudit returns the newest events across all entities.
func (s *Store) ListRecentAudit(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	return s.queryAudit(ctx, "list recent audit", `
		SELECT `+auditColumns+`
		FROM audit_events
		ORDER BY timestamp DESC, audit_id COLLATE BINARY DESC
		LIMIT ?
	`, sqlLimit(limit))
}

// EachAudit calls fn for every event, oldest first, stopping at the first
// error fn returns. fn must not call back into the store: the rows hold the
// only connection.
func (s *Store) EachAudit(ctx context.Context, fn func(model.AuditEvent) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+auditColumns+`
		FROM audit_events
		ORDER BY timestamp ASC, audit_id COLLATE BINARY ASC
	`)
	if err != nil {
		return fmt.Errorf("scan audit: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ev, err := scanAudit(rows)
		if err != nil {
			return fmt.Errorf("scan audit: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("scan audit: iterate: %w", err)
	}
	return nil
}

// CountAuditByAction returns the number of events per action.
func (s *Store) CountAuditByAction(ctx context.Context) (map[model.AuditAction]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action, COUNT(*) FROM audit_events
		GROUP BY action
		ORDER BY action COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("count audit: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.AuditAction]int)
	for rows.Next() {
		var action string
		var n int
		if err := rows.Scan(&action, &n); err != nil {
			return nil, fmt.Errorf("count audit: %w", err)
		}
		counts[model.AuditAction(action)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count audit: iterate: %w", err)
	}
	return counts, nil
}

func (s *Store) queryAudit(ctx context.Context, op, query string, args ...any) ([]model.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	events := []model.AuditEvent{}
	for rows.Next() {
		ev, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return events, nil
}

func scanAudit(row rowScanner) (model.AuditEvent, error) {
	var (
		ev                 model.AuditEvent
		ts                 int64
		action, entityType string
	)
	err := row.Scan(
		&ev.AuditID,
		&ts,
		&action,
		&entityType,
		&ev.EntityID,
		&ev.Before,
		&ev.After,
		&ev.OperatorID,
		&ev.DeviceID,
		&ev.SessionID,
		&ev.Checksum,
	)
	if err != nil {
		return model.AuditEvent{}, err
	}
	ev.Timestamp = fromMicros(ts)
	ev.Action = model.AuditAction(action)
	ev.EntityType = model.EntityType(entityType)
	return ev, nil
}
