package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dairyledger/internal/model"
)

func createTestAudit(id string, at time.Time, action model.AuditAction, entityID string) model.AuditEvent {
	return model.AuditEvent{
		AuditID:    id,
		Timestamp:  at,
		Action:     action,
		EntityType: model.EntityLedgerEntry,
		EntityID:   entityID,
		After:      `{"entry_id":"` + entityID + `"}`,
		OperatorID: "op-1",
		DeviceID:   "device-1",
		SessionID:  "session-1",
		Checksum:   "abc",
	}
}

func TestInsertAudit_RoundTripAndIdempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ev := createTestAudit("aud_1", t0, model.ActionCreate, "led_1")
	require.NoError(t, s.InsertAudit(ctx, ev))
	require.NoError(t, s.InsertAudit(ctx, ev))

	got, err := s.ListAuditForEntity(ctx, model.EntityLedgerEntry, "led_1", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ev, got[0])
}

func TestListAudit_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertAudit(ctx, createTestAudit("aud_1", t0, model.ActionCreate, "led_1")))
	require.NoError(t, s.InsertAudit(ctx, createTestAudit("aud_2", t0.Add(time.Second), model.ActionSync, "led_1")))
	require.NoError(t, s.InsertAudit(ctx, createTestAudit("aud_3", t0.Add(2*time.Second), model.ActionCreate, "led_2")))

	trail, err := s.ListAuditForEntity(ctx, model.EntityLedgerEntry, "led_1", 10)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "aud_2", trail[0].AuditID)
	assert.Equal(t, "aud_1", trail[1].AuditID)

	recent, err := s.ListRecentAudit(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "aud_3", recent[0].AuditID)

	counts, err := s.CountAuditByAction(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[model.AuditAction]int{model.ActionCreate: 2, model.ActionSync: 1}, counts)
}

func TestEachAudit_OldestFirstAndStops(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertAudit(ctx, createTestAudit("aud_2", t0.Add(time.Second), model.ActionCreate, "led_2")))
	require.NoError(t, s.InsertAudit(ctx, createTestAudit("aud_1", t0, model.ActionCreate, "led_1")))

	var seen []string
	require.NoError(t, s.EachAudit(ctx, func(ev model.AuditEvent) error {
		seen = append(seen, ev.AuditID)
		return nil
	}))
	assert.Equal(t, []string{"aud_1", "aud_2"}, seen)

	stop := errors.New("stop")
	seen = nil
	err := s.EachAudit(ctx, func(ev model.AuditEvent) error {
		seen = append(seen, ev.AuditID)
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Len(t, seen, 1)
}
