package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_AppliesMigrations(t *testing.T) {
	s := createTestStore(t)

	version, dirty, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	for _, table := range []string{"settings", "ledger_entries", "audit_events", "sync_queue", "sync_log"} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.PutSetting(ctx, "device_id", "device-abc"))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, ok, err := s2.GetSetting(ctx, "device_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "device-abc", got)
}

func TestSettings(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.GetSetting(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutSettingIfAbsent(ctx, "k", "first"))
	require.NoError(t, s.PutSettingIfAbsent(ctx, "k", "second"))
	got, _, err := s.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	require.NoError(t, s.PutSetting(ctx, "k", "third"))
	got, _, err = s.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "third", got)
}

func TestClose_Idempotent(t *testing.T) {
	var s Store
	assert.NoError(t, s.Close())
}
