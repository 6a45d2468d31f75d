package audit

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dairyledger/internal/ids"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/store"
	"github.com/roach88/dairyledger/internal/testutil"
)

var epoch = time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

func newTestTrail(t *testing.T, opts ...Option) (*Trail, *store.Store, *testutil.FakeClock) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clk := testutil.NewFakeClock(epoch)
	return New(s, clk, ids.NewFixedGenerator(), "device-1", "session-1", opts...), s, clk
}

func ledgerDetails(entryID string) Details {
	return Details{
		EntityType: model.EntityLedgerEntry,
		EntityID:   entryID,
		After:      `{"entry_id":"` + entryID + `"}`,
		OperatorID: "op-1",
	}
}

func TestRecord_StampsAndChecksums(t *testing.T) {
	tr, _, _ := newTestTrail(t)

	ev, err := tr.Record(context.Background(), model.ActionCreate, ledgerDetails("led_1"))
	require.NoError(t, err)
	assert.Equal(t, "aud_000001", ev.AuditID)
	assert.Equal(t, epoch, ev.Timestamp)
	assert.Equal(t, "device-1", ev.DeviceID)
	assert.Equal(t, "session-1", ev.SessionID)

	want, err := ev.ComputeChecksum()
	require.NoError(t, err)
	assert.Equal(t, want, ev.Checksum)
	assert.Len(t, ev.Checksum, 64)
}

func TestRecord_InvalidActionLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	tr, _, _ := newTestTrail(t, WithLogger(logger))

	_, err := tr.Record(context.Background(), model.AuditAction("frobnicate"), ledgerDetails("led_1"))
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	assert.Contains(t, buf.String(), "audit event rejected")
}

func TestTrail_NewestFirstFiltered(t *testing.T) {
	tr, _, clk := newTestTrail(t)
	ctx := context.Background()

	_, err := tr.Record(ctx, model.ActionCreate, ledgerDetails("led_1"))
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = tr.Record(ctx, model.ActionCreate, ledgerDetails("led_2"))
	require.NoError(t, err)
	clk.Advance(time.Second)
	_, err = tr.Record(ctx, model.ActionSync, ledgerDetails("led_1"))
	require.NoError(t, err)

	events, err := tr.Trail(ctx, model.EntityLedgerEntry, "led_1", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.ActionSync, events[0].Action)
	assert.Equal(t, model.ActionCreate, events[1].Action)

	recent, err := tr.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "aud_000003", recent[0].AuditID)

	st, err := tr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Total)
	assert.Equal(t, 2, st.ByAction[model.ActionCreate])
}

func TestVerifyIntegrity_UntouchedTrail(t *testing.T) {
	tr, _, _ := newTestTrail(t)
	ctx := context.Background()

	for _, id := range []string{"led_1", "led_2", "led_3"} {
		_, err := tr.Record(ctx, model.ActionCreate, ledgerDetails(id))
		require.NoError(t, err)
	}

	res, err := tr.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, Integrity{Valid: true, Total: 3, InvalidIDs: []string{}}, res)
}

func TestVerifyIntegrity_FlippedActionByte(t *testing.T) {
	tr, s, _ := newTestTrail(t)
	ctx := context.Background()

	_, err := tr.Record(ctx, model.ActionCreate, ledgerDetails("led_1"))
	require.NoError(t, err)
	victim, err := tr.Record(ctx, model.ActionCreate, ledgerDetails("led_2"))
	require.NoError(t, err)

	// "create" -> "createX" would change length; flip the last byte instead.
	_, err = s.DB().Exec("UPDATE audit_events SET action = 'creatf' WHERE audit_id = ?", victim.AuditID)
	require.NoError(t, err)

	res, err := tr.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, []string{victim.AuditID}, res.InvalidIDs)
}

func TestVerifyIntegrity_TamperedEntityID(t *testing.T) {
	tr, s, _ := newTestTrail(t)
	ctx := context.Background()

	ev, err := tr.Record(ctx, model.ActionCreate, ledgerDetails("led_1"))
	require.NoError(t, err)

	_, err = s.DB().Exec("UPDATE audit_events SET entity_id = 'led_9' WHERE audit_id = ?", ev.AuditID)
	require.NoError(t, err)

	res, err := tr.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{ev.AuditID}, res.InvalidIDs)
}
