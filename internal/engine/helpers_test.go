package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/dairyledger/internal/model"
	"github.com/roach88/dairyledger/internal/remote"
	"github.com/roach88/dairyledger/internal/store"
	"github.com/roach88/dairyledger/internal/testutil"
)

var epoch = time.Date(2026, 10, 18, 6, 0, 0, 0, time.UTC)

// switchGate is a Gate tests can flip.
type switchGate struct {
	healthy atomic.Bool
}

func newSwitchGate(healthy bool) *switchGate {
	g := &switchGate{}
	g.healthy.Store(healthy)
	return g
}

func (g *switchGate) Healthy() bool { return g.healthy.Load() }

type testEnv struct {
	store  *store.Store
	path   string
	clock  *testutil.FakeClock
	remote *remote.Memory
	queue  *Queue
	engine *Engine
	gate   *switchGate
}

func newTestEnv(t *testing.T, cfg Config, opts ...EngineOption) *testEnv {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	env := &testEnv{
		store:  s,
		path:   path,
		clock:  testutil.NewFakeClock(epoch),
		remote: remote.NewMemory(),
		gate:   newSwitchGate(true),
	}
	env.queue = NewQueue(s, env.clock)
	opts = append([]EngineOption{WithGate(env.gate)}, opts...)
	env.engine = New(s, env.remote, env.clock, cfg, opts...)
	return env
}

// enqueue adds an item and advances the clock one millisecond so creation
// order is unambiguous.
func (env *testEnv) enqueue(t *testing.T, id, key string, priority model.Priority) model.SyncQueueItem {
	t.Helper()
	item, err := env.queue.Enqueue(context.Background(), Request{
		ID:          id,
		EntityType:  model.EntityCollection,
		Payload:     []byte(`{"id":"` + id + `"}`),
		Priority:    priority,
		OrderingKey: key,
	})
	require.NoError(t, err)
	env.clock.Advance(time.Millisecond)
	return item
}

func (env *testEnv) item(t *testing.T, id string) model.SyncQueueItem {
	t.Helper()
	item, err := env.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return item
}

func (env *testEnv) drain(t *testing.T) DrainReport {
	t.Helper()
	rep, err := env.engine.Drain(context.Background())
	require.NoError(t, err)
	return rep
}

func rejected(msg string) error {
	return model.NewRejectionError("test", msg)
}

func networkDown() error {
	return model.NewNetworkError("test", context.DeadlineExceeded)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
