// Package app wires the device components together.
//
// One App owns one local database. It builds the ledger, audit trail, sync
// queue and engine on top of it, connects the engine to the configured
// remote, and exposes the transaction writer the CLI commits through.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/dairyledger/internal/audit"
	"github.com/roach88/dairyledger/internal/clock"
	"github.com/roach88/dairyledger/internal/config"
	"github.com/roach88/dairyledger/internal/engine"
	"github.com/roach88/dairyledger/internal/ids"
	"github.com/roach88/dairyledger/internal/ledger"
	"github.com/roach88/dairyledger/internal/remote"
	"github.com/roach88/dairyledger/internal/store"
	"github.com/roach88/dairyledger/internal/writer"
)

// Options overrides the collaborators New would otherwise build from config.
// Tests inject a memory remote, a fake clock and a fixed id generator.
type Options struct {
	Remote remote.Remote
	Clock  clock.Clock
	IDs    ids.Generator
	Logger *slog.Logger
}

// App is a running device.
type App struct {
	Config    *config.Config
	DeviceID  string
	SessionID string
	Logger    *slog.Logger
	Clock     clock.Clock

	Store      *store.Store
	Remote     remote.Remote
	Ledger     *ledger.Ledger
	Audit      *audit.Trail
	Queue      *engine.Queue
	Engine     *engine.Engine
	Monitor    *engine.Monitor
	Reconciler *engine.Reconciler
	Writer     *writer.Writer

	closeOnce sync.Once
	closeErr  error
}

// New opens the database at cfg.Database.Path and builds every component.
// The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.System{}
	}
	gen := opts.IDs
	if gen == nil {
		gen = ids.UUIDv7Generator{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	deviceID, err := ids.DeviceID(ctx, st, gen)
	if err != nil {
		st.Close()
		return nil, err
	}

	rem := opts.Remote
	if rem == nil {
		rem, err = remote.New(ctx, cfg.RemoteConfig())
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("connect remote: %w", err)
		}
	}

	session := ids.NewSession(gen)
	a := &App{
		Config:    cfg,
		DeviceID:  deviceID,
		SessionID: session.ID(),
		Logger:    logger.With("device_id", deviceID),
		Clock:     clk,
		Store:     st,
		Remote:    rem,
	}
	a.wire(gen)
	return a, nil
}

func (a *App) wire(gen ids.Generator) {
	cfg, clk, logger := a.Config, a.Clock, a.Logger

	a.Ledger = ledger.New(a.Store, clk, gen, a.DeviceID, ledger.WithLogger(logger))
	a.Audit = audit.New(a.Store, clk, gen, a.DeviceID, a.SessionID, audit.WithLogger(logger))
	a.Queue = engine.NewQueue(a.Store, clk, engine.WithQueueLogger(logger))

	a.Monitor = engine.NewMonitor(a.Remote, clk,
		engine.WithProbeInterval(cfg.Liveness.Interval),
		engine.WithProbeTimeout(cfg.Liveness.Timeout),
		engine.WithMonitorLogger(logger),
	)
	a.Engine = engine.New(a.Store, a.Remote, clk, cfg.EngineConfig(),
		engine.WithGate(a.Monitor),
		engine.WithLogger(logger),
		engine.WithSyncedHook(engine.LedgerSyncedHook(a.Ledger, a.Audit, logger)),
		engine.WithFailedHook(engine.AuditFailedHook(a.Audit, logger)),
	)
	a.Reconciler = engine.NewReconciler(a.Engine, a.Queue, a.Store, clk,
		engine.WithInterval(cfg.Sync.Interval),
		engine.WithReconcilerLogger(logger),
	)
	a.Monitor.OnOnline(func() { a.Reconciler.Trigger(engine.TriggerOnline) })

	a.Writer = writer.New(a.Ledger, a.Audit, a.Queue, gen,
		writer.WithNotifier(a.Reconciler, a.Monitor),
		writer.WithLogger(logger),
	)
}

// Run probes the remote and reconciles until ctx is done. It returns the
// reconciler's error, which is ctx.Err() on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = a.Monitor.Run(ctx)
	}()

	err := a.Reconciler.Run(ctx)
	cancel()
	wg.Wait()
	return err
}

// Resume asks for a reconciliation cycle now, as when the device comes back
// to the foreground.
func (a *App) Resume() {
	a.Reconciler.Trigger(engine.TriggerVisible)
}

// SetOnline records the device's own view of its network. No drain runs
// while it reports offline, whatever the probes say.
func (a *App) SetOnline(online bool) {
	a.Monitor.SetReported(online)
}

// SyncNow checks reachability and runs one reconciliation cycle in the
// foreground. Used by one-shot commands that do not keep a Run loop.
func (a *App) SyncNow(ctx context.Context) (engine.CycleReport, error) {
	if err := a.Reconciler.Start(ctx); err != nil {
		return engine.CycleReport{}, err
	}
	a.Monitor.Probe(ctx)
	return a.Reconciler.ReconcileOnce(ctx, engine.TriggerManual)
}

// Close releases the remote and the database. Safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		if err := remote.Close(a.Remote); err != nil {
			a.Logger.Error("error closing remote", "error", err)
		}
		a.closeErr = a.Store.Close()
	})
	return a.closeErr
}
