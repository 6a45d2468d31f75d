package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dairyledger/internal/model"
)

func TestInsertQueueItem_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	item := createTestQueueItem("led_1", "farmer-1", t0)
	inserted, err := s.InsertQueueItem(ctx, item)
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same id with a different payload must not overwrite the original.
	dup := item
	dup.Payload = `{"changed":true}`
	inserted, err = s.InsertQueueItem(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, ok, err := s.GetQueueItem(ctx, "led_1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, item.Payload, got.Payload)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.True(t, got.LastAttemptAt.IsZero())
	assert.True(t, got.SyncedAt.IsZero())
}

func TestMarkInFlight_AllOrNothing(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"q1", "q2"} {
		_, err := s.InsertQueueItem(ctx, createTestQueueItem(id, "a", t0))
		require.NoError(t, err)
	}

	err := s.MarkInFlight(ctx, []string{"q1", "missing"})
	require.Error(t, err)

	got, _, err := s.GetQueueItem(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status, "failed batch must roll back")

	require.NoError(t, s.MarkInFlight(ctx, []string{"q1", "q2"}))
	counts, err := s.CountQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[model.StatusInFlight])
}

func TestRecordAttempt_SyncedAndLogged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.InsertQueueItem(ctx, createTestQueueItem("q1", "a", t0))
	require.NoError(t, err)
	require.NoError(t, s.MarkInFlight(ctx, []string{"q1"}))

	at := t0.Add(time.Minute)
	err = s.RecordAttempt(ctx, AttemptOutcome{
		ID:       "q1",
		Status:   model.StatusSynced,
		At:       at,
		RemoteID: "remote-9",
	}, model.SyncAttempt{ItemID: "q1", Attempt: 1, At: at, Outcome: model.OutcomeSynced, DurationMS: 12, Status: model.StatusSynced})
	require.NoError(t, err)

	got, _, err := s.GetQueueItem(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSynced, got.Status)
	assert.Equal(t, at, got.SyncedAt)
	assert.Equal(t, at, got.LastAttemptAt)
	assert.Equal(t, "remote-9", got.RemoteID)

	log, err := s.ListSyncLog(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, model.OutcomeSynced, log[0].Outcome)
	assert.Equal(t, int64(12), log[0].DurationMS)

	// A second outcome for the same item is refused: it is no longer in flight.
	err = s.RecordAttempt(ctx, AttemptOutcome{ID: "q1", Status: model.StatusPending, At: at},
		model.SyncAttempt{ItemID: "q1", Attempt: 2, At: at, Outcome: model.OutcomeRetry, Status: model.StatusPending})
	assert.ErrorIs(t, err, ErrNotInFlight)

	log, err = s.ListSyncLog(ctx, "q1")
	require.NoError(t, err)
	assert.Len(t, log, 1, "refused outcome must not be logged")
}

func TestRecordAttempt_RetryKeepsRemoteID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.InsertQueueItem(ctx, createTestQueueItem("q1", "a", t0))
	require.NoError(t, err)
	require.NoError(t, s.MarkInFlight(ctx, []string{"q1"}))

	err = s.RecordAttempt(ctx, AttemptOutcome{
		ID: "q1", Status: model.StatusPending, RetryCount: 1, At: t0, LastError: "connection refused",
	}, model.SyncAttempt{ItemID: "q1", Attempt: 1, At: t0, Outcome: model.OutcomeRetry, Error: "connection refused", Status: model.StatusPending})
	require.NoError(t, err)

	got, _, err := s.GetQueueItem(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, "connection refused", got.LastError)
	assert.Empty(t, got.RemoteID)
	assert.True(t, got.SyncedAt.IsZero())
}

func TestReleaseAndResetInFlight(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"q1", "q2", "q3"} {
		_, err := s.InsertQueueItem(ctx, createTestQueueItem(id, "a", t0))
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkInFlight(ctx, []string{"q1", "q2", "q3"}))

	require.NoError(t, s.ReleaseInFlight(ctx, []string{"q3"}))
	got, _, err := s.GetQueueItem(ctx, "q3")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)

	n, err := s.ResetInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	counts, err := s.CountQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueCounts{model.StatusPending: 3}, counts)
	assert.Equal(t, 3, counts.Total())
}

func TestResetFailed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.InsertQueueItem(ctx, createTestQueueItem("q1", "a", t0))
	require.NoError(t, err)

	ok, err := s.ResetFailed(ctx, "q1")
	require.NoError(t, err)
	assert.False(t, ok, "pending item is not failed")

	require.NoError(t, s.MarkInFlight(ctx, []string{"q1"}))
	require.NoError(t, s.RecordAttempt(ctx,
		AttemptOutcome{ID: "q1", Status: model.StatusFailed, RetryCount: 5, At: t0, LastError: "rejected"},
		model.SyncAttempt{ItemID: "q1", Attempt: 5, At: t0, Outcome: model.OutcomeFailed, Status: model.StatusFailed}))

	failed, err := s.ListQueueByStatus(ctx, model.StatusFailed, 0)
	require.NoError(t, err)
	require.Len(t, failed, 1)

	ok, err = s.ResetFailed(ctx, "q1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, err := s.GetQueueItem(ctx, "q1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.True(t, got.LastAttemptAt.IsZero())
}

func TestListUnsynced_Order(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.InsertQueueItem(ctx, createTestQueueItem("q_b", "a", t0))
	require.NoError(t, err)
	_, err = s.InsertQueueItem(ctx, createTestQueueItem("q_a", "a", t0))
	require.NoError(t, err)
	_, err = s.InsertQueueItem(ctx, createTestQueueItem("q_0", "b", t0.Add(-time.Second)))
	require.NoError(t, err)

	got, err := s.ListUnsynced(ctx)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, item := range got {
		ids[i] = item.ID
	}
	assert.Equal(t, []string{"q_0", "q_a", "q_b"}, ids)
}

func TestPruneSynced_OnlySyncedBeforeCutoff(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"old", "new", "pending", "failed"} {
		_, err := s.InsertQueueItem(ctx, createTestQueueItem(id, "", t0))
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkInFlight(ctx, []string{"old", "new", "failed"}))

	sync := func(id string, at time.Time, status model.QueueStatus) {
		require.NoError(t, s.RecordAttempt(ctx,
			AttemptOutcome{ID: id, Status: status, At: at, RetryCount: 1},
			model.SyncAttempt{ItemID: id, Attempt: 1, At: at, Outcome: string(status), Status: status}))
	}
	sync("old", t0.Add(time.Minute), model.StatusSynced)
	sync("new", t0.Add(time.Hour), model.StatusSynced)
	sync("failed", t0.Add(time.Minute), model.StatusFailed)

	n, err := s.PruneSynced(ctx, t0.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err := s.GetQueueItem(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)

	log, err := s.ListSyncLog(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, log)

	counts, err := s.CountQueue(ctx)
	require.NoError(t, err)
	assert.Equal(t, QueueCounts{
		model.StatusSynced:  1,
		model.StatusPending: 1,
		model.StatusFailed:  1,
	}, counts)
}

func TestAppendSyncLog(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendSyncLog(ctx, model.SyncAttempt{
		ItemID: "q1", Attempt: 0, At: t0, Outcome: model.OutcomeDeferred, Error: "offline", Status: model.StatusPending,
	}))
	log, err := s.ListSyncLog(ctx, "q1")
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Equal(t, model.OutcomeDeferred, log[0].Outcome)
	assert.Equal(t, t0, log[0].At)
}
