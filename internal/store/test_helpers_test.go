package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dairyledger/internal/model"
)

var t0 = time.Date(2026, 10, 18, 6, 30, 0, 0, time.UTC)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestEntry(id, account string, at time.Time, kind model.Kind, amount, balance string) model.LedgerEntry {
	e := model.LedgerEntry{
		EntryID:       id,
		AccountID:     account,
		TransactionID: "txn_" + id,
		Kind:          kind,
		Credit:        decimal.Zero,
		Debit:         decimal.Zero,
		BalanceAfter:  decimal.RequireFromString(balance),
		PaymentMode:   model.PaymentCash,
		CreatedAt:     at,
		CreatedBy:     "op-1",
		DeviceID:      "device-1",
		SyncState:     model.SyncStatePending,
	}
	if kind == model.KindCredit {
		e.Credit = decimal.RequireFromString(amount)
	} else {
		e.Debit = decimal.RequireFromString(amount)
	}
	return e
}

func createTestQueueItem(id, key string, at time.Time) model.SyncQueueItem {
	return model.SyncQueueItem{
		ID:          id,
		EntityType:  model.EntityCollection,
		Payload:     `{"entry_id":"` + id + `"}`,
		Status:      model.StatusPending,
		Priority:    model.PriorityNormal,
		OrderingKey: key,
		CreatedAt:   at,
	}
}
