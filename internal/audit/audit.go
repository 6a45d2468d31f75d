// Package audit records every mutating action in an append-only trail.
//
// Each event carries a checksum over its identity fields so that post-hoc
// edits to a stored event are detectable by VerifyIntegrity. The checksum is
// an integrity check only; it authenticates nothing.
//
// Recording is best-effort relative to the business write it accompanies:
// Record logs and returns its error, and callers never roll back a ledger
// append because its audit event was lost.
package audit

import (
	"context"
	"log/slog"

	"github.com/roach88/dairyledger/internal/clock"
	"github.com/roach88/dairyledger/internal/ids"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/store"
)

// Details describes the entity an action touched.
type Details struct {
	EntityType model.EntityType
	EntityID   string
	// Before and After are canonical JSON snapshots, or "".
	Before     string
	After      string
	OperatorID string
}

// Trail appends and reads audit events.
type Trail struct {
	store     *store.Store
	clock     clock.Clock
	ids       ids.Generator
	deviceID  string
	sessionID string
	logger    *slog.Logger
}

// Option configures a Trail.
type Option func(*Trail)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(t *Trail) {
		t.logger = logger
	}
}

// New creates a trail that stamps events with deviceID and sessionID.
func New(s *store.Store, clk clock.Clock, gen ids.Generator, deviceID, sessionID string, opts ...Option) *Trail {
	t := &Trail{
		store:     s,
		clock:     clk,
		ids:       gen,
		deviceID:  deviceID,
		sessionID: sessionID,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Record builds, checksums and stores one event.
//
// Failures are logged here and returned. Callers that treat auditing as
// best-effort may ignore the error; it has already been reported.
func (t *Trail) Record(ctx context.Context, action model.AuditAction, d Details) (model.AuditEvent, error) {
	const op = "audit.record"

	ev := model.AuditEvent{
		AuditID:    t.ids.NewID("aud"),
		Timestamp:  store.TruncateTime(t.clock.Now()),
		Action:     action,
		EntityType: d.EntityType,
		EntityID:   d.EntityID,
		Before:     d.Before,
		After:      d.After,
		OperatorID: d.OperatorID,
		DeviceID:   t.deviceID,
		SessionID:  t.sessionID,
	}
	if err := ev.Validate(); err != nil {
		t.logger.Error("audit event rejected", "action", action, "entity_id", d.EntityID, "error", err)
		return model.AuditEvent{}, err
	}

	sum, err := ev.ComputeChecksum()
	if err != nil {
		t.logger.Error("audit checksum failed", "action", action, "entity_id", d.EntityID, "error", err)
		return model.AuditEvent{}, model.NewStorageError(op, err)
	}
	ev.Checksum = sum

	if err := t.store.InsertAudit(ctx, ev); err != nil {
		t.logger.Error("audit write failed", "action", action, "entity_id", d.EntityID, "error", err)
		return model.AuditEvent{}, model.NewStorageError(op, err)
	}
	return ev, nil
}

// Trail returns the events of one entity, newest first.
// limit <= 0 returns all of them.
func (t *Trail) Trail(ctx context.Context, entityType model.EntityType, entityID string, limit int) ([]model.AuditEvent, error) {
	events, err := t.store.ListAuditForEntity(ctx, entityType, entityID, limit)
	if err != nil {
		return nil, model.NewStorageError("audit.trail", err)
	}
	return events, nil
}

// Recent returns the newest events across every entity.
func (t *Trail) Recent(ctx context.Context, limit int) ([]model.AuditEvent, error) {
	events, err := t.store.ListRecentAudit(ctx, limit)
	if err != nil {
		return nil, model.NewStorageError("audit.recent", err)
	}
	return events, nil
}

// Integrity is the result of re-checking every stored checksum.
type Integrity struct {
	Valid      bool     `json:"valid"`
	Total      int      `json:"total"`
	InvalidIDs []string `json:"invalid_ids"`
}

// VerifyIntegrity recomputes the checksum of every event and reports the
// ids whose stored checksum no longer matches. Nothing is repaired.
func (t *Trail) VerifyIntegrity(ctx context.Context) (Integrity, error) {
	res := Integrity{InvalidIDs: []string{}}
	err := t.store.EachAudit(ctx, func(ev model.AuditEvent) error {
		res.Total++
		sum, err := ev.ComputeChecksum()
		if err != nil || sum != ev.Checksum {
			res.InvalidIDs = append(res.InvalidIDs, ev.AuditID)
		}
		return nil
	})
	if err != nil {
		return Integrity{}, model.NewStorageError("audit.verify", err)
	}
	res.Valid = len(res.InvalidIDs) == 0

	if !res.Valid {
		t.logger.Warn("audit integrity check failed",
			"total", res.Total,
			"invalid", len(res.InvalidIDs))
	}
	return res, nil
}

// Stats counts events per action.
type Stats struct {
	Total    int                       `json:"total"`
	ByAction map[model.AuditAction]int `json:"by_action"`
}

// Stats returns event counts.
func (t *Trail) Stats(ctx context.Context) (Stats, error) {
	counts, err := t.store.CountAuditByAction(ctx)
	if err != nil {
		return Stats{}, model.NewStorageError("audit.stats", err)
	}
	st := Stats{ByAction: counts}
	for _, n := range counts {
		st.Total += n
	}
	return st, nil
}
