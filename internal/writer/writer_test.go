package writer

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dairyledger/internal/audit"
	"github.com/roach88/dairyledger/internal/engine"
	"github.com/roach88/dairyledger/internal/ids"
	"github.com/roach88/dairyledger/internal/ledger"
	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/remote"
	"github.com/roach88/dairyledger/internal/store"
	"github.com/roach88/dairyledger/internal/testutil"
)

var epoch = time.Date(2026, 10, 18, 6, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	triggers []engine.Trigger
}

func (n *recordingNotifier) Trigger(t engine.Trigger) {
	n.triggers = append(n.triggers, t)
}

type fixedGate bool

func (g fixedGate) Healthy() bool { return bool(g) }

type fixture struct {
	path   string
	store  *store.Store
	clock  *testutil.FakeClock
	gen    *ids.FixedGenerator
	ledger *ledger.Ledger
	audit  *audit.Trail
	queue  *engine.Queue
	writer *Writer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dairy.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return buildFixture(path, s, testutil.NewFakeClock(epoch), opts...)
}

func buildFixture(path string, s *store.Store, clk *testutil.FakeClock, opts ...Option) *fixture {
	f := &fixture{path: path, store: s, clock: clk, gen: ids.NewFixedGenerator()}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.ledger = ledger.New(s, clk, f.gen, "dev_1", ledger.WithLogger(logger))
	f.audit = audit.New(s, clk, f.gen, "dev_1", "ses_1", audit.WithLogger(logger))
	f.queue = engine.NewQueue(s, clk, engine.WithQueueLogger(logger))
	f.writer = New(f.ledger, f.audit, f.queue, f.gen, append([]Option{WithLogger(logger)}, opts...)...)
	return f
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCommit_CollectionThenSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.writer.Commit(ctx, Event{
		Type: model.EntityCollection, AccountID: "farmer_1", Amount: dec("120.00"),
		Quantity: dec("12.5"), Fat: dec("4.2"), Shift: "morning", OperatorID: "op_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "txn_000001", res.TransactionID)
	assert.Equal(t, model.KindCredit, res.Entry.Kind)
	assert.Equal(t, res.Entry.EntryID, res.QueueItemID)
	assert.NotEmpty(t, res.AuditID)

	f.clock.Advance(time.Minute)
	res2, err := f.writer.Commit(ctx, Event{
		Type: model.EntitySale, AccountID: "farmer_1", Amount: dec("45.50"), Product: "feed",
	})
	require.NoError(t, err)
	assert.Equal(t, model.KindDebit, res2.Entry.Kind)
	assert.Equal(t, "74.50", model.FormatAmount(res2.Entry.BalanceAfter))

	bal, err := f.ledger.Balance(ctx, "farmer_1")
	require.NoError(t, err)
	assert.Equal(t, "74.50", model.FormatAmount(bal))

	item, err := f.queue.Get(ctx, res.QueueItemID)
	require.NoError(t, err)
	assert.Equal(t, model.EntityCollection, item.EntityType)
	assert.Equal(t, model.PriorityNormal, item.Priority)
	assert.Equal(t, "farmer_1", item.OrderingKey)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(item.Payload), &payload))
	assert.Equal(t, res.Entry.EntryID, payload["entry_id"])
	assert.Equal(t, "120.00", payload["credit_amount"])
	event := payload["event"].(map[string]any)
	assert.Equal(t, "collection", event["type"])
	assert.Equal(t, "12.50", event["quantity"])
	assert.Equal(t, "morning", event["shift"])

	trail, err := f.audit.Trail(ctx, model.EntityLedgerEntry, res.Entry.EntryID, 0)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.ActionCreate, trail[0].Action)
	assert.Equal(t, "op_1", trail[0].OperatorID)
}

func TestCommit_ValidationWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.writer.Commit(ctx, Event{Type: model.EntityCollection, Amount: dec("10")})
	require.Error(t, err)
	var e *model.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, model.ErrCodeValidation, e.Code)
	assert.Equal(t, []string{"account_id", "quantity"}, e.Fields)

	_, err = f.writer.Commit(ctx, Event{Type: model.EntityFarmer, AccountID: "farmer_1", Amount: dec("10")})
	assert.True(t, model.IsValidation(err))

	_, err = f.writer.Commit(ctx, Event{Type: model.EntitySale, AccountID: "farmer_1", Amount: dec("0.004")})
	assert.True(t, model.IsInvalidAmount(err), "rounds to zero")

	_, err = f.writer.Commit(ctx, Event{Type: model.EntityPayment, AccountID: "farmer_1", Amount: dec("-5")})
	assert.True(t, model.IsInvalidAmount(err))

	_, err = f.writer.Commit(ctx, Event{Type: model.EntityCollection, Amount: dec("-5")})
	require.ErrorAs(t, err, &e)
	assert.Equal(t, model.ErrCodeValidation, e.Code)
	assert.Equal(t, []string{"account_id", "quantity", "amount"}, e.Fields, "every bad field in one report")

	_, err = f.writer.Commit(ctx, Event{
		Type: model.EntityPayment, AccountID: "farmer_1", Amount: dec("10"), Reference: "reverses:led_000009",
	})
	require.ErrorAs(t, err, &e)
	assert.Equal(t, []string{"reference"}, e.Fields)

	stats, err := f.ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalEntries)
	counts, err := f.queue.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total())
	auditStats, err := f.audit.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, auditStats.Total)
}

func TestCommit_HighPriorityNudgesWhenHealthy(t *testing.T) {
	n := &recordingNotifier{}
	gate := fixedGate(true)
	f := newFixture(t, WithNotifier(n, &gate))
	ctx := context.Background()

	_, err := f.writer.Commit(ctx, Event{Type: model.EntitySale, AccountID: "c_1", Amount: dec("30"), Priority: model.PriorityHigh})
	require.NoError(t, err)
	_, err = f.writer.Commit(ctx, Event{Type: model.EntitySale, AccountID: "c_1", Amount: dec("30")})
	require.NoError(t, err)
	assert.Equal(t, []engine.Trigger{engine.TriggerHighPriority}, n.triggers)

	gate = false
	_, err = f.writer.Commit(ctx, Event{Type: model.EntitySale, AccountID: "c_1", Amount: dec("30"), Priority: model.PriorityHigh})
	require.NoError(t, err)
	assert.Len(t, n.triggers, 1, "no nudge while offline")
}

func TestCommit_AuditLossIsTolerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.DB().ExecContext(ctx, `DROP TABLE audit_events`)
	require.NoError(t, err)

	res, err := f.writer.Commit(ctx, Event{Type: model.EntityPayment, AccountID: "farmer_1", Amount: dec("10")})
	require.NoError(t, err)
	assert.Empty(t, res.AuditID)
	assert.NotEmpty(t, res.QueueItemID)
}

func TestCommit_CrashBeforeDrainStillSyncs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.writer.Commit(ctx, Event{Type: model.EntityCollection, AccountID: "A", Amount: dec("120.00"), Quantity: dec("10")})
	require.NoError(t, err)
	b, err := f.writer.Commit(ctx, Event{Type: model.EntitySale, AccountID: "A", Amount: dec("45.50")})
	require.NoError(t, err)

	// Kill the process after commit returned.
	require.NoError(t, f.store.Close())

	s, err := store.Open(f.path)
	require.NoError(t, err)
	defer s.Close()
	f2 := buildFixture(f.path, s, f.clock)

	item, err := f2.queue.Get(ctx, b.QueueItemID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, item.Status)

	mem := remote.NewMemory()
	eng := engine.New(s, mem, f.clock, engine.Config{},
		engine.WithSyncedHook(engine.LedgerSyncedHook(f2.ledger, f2.audit, slog.Default())))
	rec := engine.NewReconciler(eng, f2.queue, s, f.clock)
	require.NoError(t, rec.Start(ctx))

	rep, err := rec.ReconcileOnce(ctx, engine.TriggerStartup)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Synced)
	assert.Equal(t, []string{a.Entry.EntryID, b.Entry.EntryID}, mem.SuccessfulKeys())

	for _, id := range []string{a.Entry.EntryID, b.Entry.EntryID} {
		e, err := f2.ledger.Entry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, model.SyncStateSynced, e.SyncState)
	}
	bal, err := f2.ledger.Balance(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "74.50", model.FormatAmount(bal))
}

func TestCommit_EnqueueFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// The next entry id is already taken in the queue, so the enqueue half of
	// the commit fails.
	_, err := f.queue.Enqueue(ctx, engine.Request{
		ID: "led_000001", EntityType: model.EntityPayment, Payload: []byte(`{}`), OrderingKey: "farmer_9",
	})
	require.NoError(t, err)

	_, err = f.writer.Commit(ctx, Event{Type: model.EntityPayment, AccountID: "farmer_1", Amount: dec("10")})
	require.Error(t, err)
	assert.True(t, model.IsStorage(err))

	bal, err := f.ledger.Balance(ctx, "farmer_1")
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	auditStats, err := f.audit.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, auditStats.Total)

	// Retrying the same event produces exactly one entry.
	res, err := f.writer.Commit(ctx, Event{Type: model.EntityPayment, AccountID: "farmer_1", Amount: dec("10")})
	require.NoError(t, err)
	assert.Equal(t, res.Entry.EntryID, res.QueueItemID)
	entries, err := f.ledger.Entries(ctx, "farmer_1", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// drainAll sends every due item to a fresh in-memory remote and returns the
// keys in the order the remote acknowledged them.
func drainAll(t *testing.T, f *fixture) []string {
	t.Helper()
	ctx := context.Background()
	mem := remote.NewMemory()
	eng := engine.New(f.store, mem, f.clock, engine.Config{})
	rec := engine.NewReconciler(eng, f.queue, f.store, f.clock)
	require.NoError(t, rec.Start(ctx))
	_, err := rec.ReconcileOnce(ctx, engine.TriggerManual)
	require.NoError(t, err)
	return mem.SuccessfulKeys()
}

func TestCommit_ClockSetBackKeepsAccountOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.writer.Commit(ctx, Event{Type: model.EntityPayment, AccountID: "A", Amount: dec("10")})
	require.NoError(t, err)
	f.clock.Set(epoch.Add(-time.Hour))
	second, err := f.writer.Commit(ctx, Event{Type: model.EntityPayment, AccountID: "A", Amount: dec("5")})
	require.NoError(t, err)

	item1, err := f.queue.Get(ctx, first.QueueItemID)
	require.NoError(t, err)
	item2, err := f.queue.Get(ctx, second.QueueItemID)
	require.NoError(t, err)
	assert.Equal(t, first.Entry.CreatedAt, item1.CreatedAt)
	assert.Equal(t, second.Entry.CreatedAt, item2.CreatedAt)
	assert.True(t, item2.CreatedAt.After(item1.CreatedAt))

	assert.Equal(t, []string{first.Entry.EntryID, second.Entry.EntryID}, drainAll(t, f))
}

func TestRepairedOrphanKeepsAccountOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// An entry whose enqueue never ran, as left by an older build or a
	// hand-edited database.
	orphan, err := f.ledger.Append(ctx, "A", ledger.EntryInput{Kind: model.KindDebit, Amount: dec("10")})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	later, err := f.writer.Commit(ctx, Event{Type: model.EntityPayment, AccountID: "A", Amount: dec("5")})
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	assert.Equal(t, []string{orphan.EntryID, later.Entry.EntryID}, drainAll(t, f))

	item, err := f.queue.Get(ctx, orphan.EntryID)
	require.NoError(t, err)
	assert.Equal(t, orphan.CreatedAt, item.CreatedAt)
}

func TestReverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orig, err := f.writer.Commit(ctx, Event{Type: model.EntitySale, AccountID: "c_1", Amount: dec("45.50"), PaymentMode: "credit"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)

	rev, err := f.writer.Reverse(ctx, orig.Entry.EntryID, "wrong customer", "op_2")
	require.NoError(t, err)
	assert.Equal(t, model.KindCredit, rev.Entry.Kind)
	assert.True(t, rev.Entry.Credit.Equal(dec("45.50")))
	assert.Equal(t, "reverses:"+orig.Entry.EntryID, rev.Entry.Reference)
	assert.True(t, rev.Entry.BalanceAfter.IsZero())

	item, err := f.queue.Get(ctx, rev.QueueItemID)
	require.NoError(t, err)
	assert.Equal(t, model.EntityLedgerEntry, item.EntityType)

	trail, err := f.audit.Trail(ctx, model.EntityLedgerEntry, rev.Entry.EntryID, 0)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.ActionReverse, trail[0].Action)
	assert.Contains(t, trail[0].Before, orig.Entry.EntryID)

	_, err = f.writer.Reverse(ctx, orig.Entry.EntryID, "again", "op_2")
	assert.True(t, model.IsValidation(err), "already reversed")
	_, err = f.writer.Reverse(ctx, rev.Entry.EntryID, "undo", "op_2")
	assert.True(t, model.IsValidation(err), "reversal of a reversal")
	_, err = f.writer.Reverse(ctx, "led_missing", "typo", "op_2")
	assert.True(t, model.IsNotFound(err))
	_, err = f.writer.Reverse(ctx, orig.Entry.EntryID, " ", "op_2")
	assert.True(t, model.IsValidation(err))
}

func TestTodaySummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	commit := func(ev Event) {
		t.Helper()
		_, err := f.writer.Commit(ctx, ev)
		require.NoError(t, err)
		f.clock.Advance(time.Hour)
	}
	commit(Event{Type: model.EntityCollection, AccountID: "f_1", Amount: dec("120"), Quantity: dec("10")})
	commit(Event{Type: model.EntityCollection, AccountID: "f_2", Amount: dec("80.25"), Quantity: dec("7"), PaymentMode: "bank"})
	commit(Event{Type: model.EntitySale, AccountID: "f_1", Amount: dec("45.50")})

	f.clock.Advance(24 * time.Hour)
	commit(Event{Type: model.EntitySale, AccountID: "f_1", Amount: dec("10")})

	s, err := f.writer.TodaySummary(ctx, epoch)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-18", s.Day)
	assert.Equal(t, 3, s.Entries)
	assert.Equal(t, 2, s.Accounts)
	assert.Equal(t, "200.25", model.FormatAmount(s.Credits))
	assert.Equal(t, "45.50", model.FormatAmount(s.Debits))
	assert.Equal(t, "154.75", model.FormatAmount(s.Net))
	assert.Equal(t, "165.50", model.FormatAmount(s.ByPaymentMode["cash"]))
	assert.Equal(t, "80.25", model.FormatAmount(s.ByPaymentMode["bank"]))

	empty, err := f.writer.TodaySummary(ctx, epoch.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Entries)
	assert.True(t, empty.Net.IsZero())
}
