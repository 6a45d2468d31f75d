package ids

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dairyledger/internal/model"
)

type memSettings struct {
	mu   sync.Mutex
	vals map[string]string
}

func newMemSettings() *memSettings {
	return &memSettings{vals: map[string]string{}}
}

func (m *memSettings) GetSetting(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *memSettings) PutSettingIfAbsent(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; !ok {
		m.vals[key] = value
	}
	return nil
}

func TestUUIDv7Generator_PrefixAndUniqueness(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen.NewID("led")
		require.True(t, strings.HasPrefix(id, "led_"), id)
		assert.False(t, seen[id], "id %s generated twice", id)
		seen[id] = true
	}

	assert.Len(t, gen.NewID(""), 36)
}

func TestUUIDv7Generator_TimeOrdered(t *testing.T) {
	gen := UUIDv7Generator{}
	a := gen.NewID("x")
	b := gen.NewID("x")
	// UUIDv7 puts the timestamp in the leading bits; ids from the same
	// millisecond may compare either way, so only check the time prefix.
	assert.LessOrEqual(t, a[:len("x_")+8], b[:len("x_")+8])
}

func TestFixedGenerator_Sequential(t *testing.T) {
	gen := NewFixedGenerator()
	assert.Equal(t, "led_000001", gen.NewID("led"))
	assert.Equal(t, "led_000002", gen.NewID("led"))
	assert.Equal(t, "txn_000001", gen.NewID("txn"))
	assert.Equal(t, "000001", gen.NewID(""))
}

func TestDeviceID_PersistsAcrossCalls(t *testing.T) {
	ctx := context.Background()
	s := newMemSettings()

	first, err := DeviceID(ctx, s, NewFixedGenerator())
	require.NoError(t, err)
	assert.Equal(t, "device_000001", first)

	// A different generator must not replace the stored id.
	second, err := DeviceID(ctx, s, UUIDv7Generator{})
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

type brokenSettings struct{ err error }

func (b brokenSettings) GetSetting(context.Context, string) (string, bool, error) {
	return "", false, b.err
}

func (b brokenSettings) PutSettingIfAbsent(context.Context, string, string) error {
	return b.err
}

func TestDeviceID_StorageFailure(t *testing.T) {
	diskErr := errors.New("disk I/O error")
	_, err := DeviceID(context.Background(), brokenSettings{err: diskErr}, NewFixedGenerator())
	require.Error(t, err)
	assert.True(t, model.IsStorage(err))
	assert.ErrorIs(t, err, diskErr)
}

func TestSession_NotShared(t *testing.T) {
	gen := UUIDv7Generator{}
	a := NewSession(gen)
	b := NewSession(gen)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.True(t, strings.HasPrefix(a.ID(), "session_"))
}
