package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/dairyledger/internal/clock"
)

// Pinger is the reachability half of the remote contract.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Liveness defaults.
const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// LivenessState is a snapshot of the Monitor.
type LivenessState struct {
	Reported    bool      `json:"reported"`
	Reachable   bool      `json:"reachable"`
	Healthy     bool      `json:"healthy"`
	LastProbeAt time.Time `json:"last_probe_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// Monitor tracks whether the connection is healthy enough to sync.
//
// Healthy is the AND of two signals: the network state the device reports
// (SetReported) and the result of the last remote ping. The device starts
// reported online and unreachable, so nothing drains until the first probe
// succeeds.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Monitor struct {
	pinger   Pinger
	clock    clock.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	reported  bool
	reachable bool
	lastProbe time.Time
	lastErr   string
	onOnline  []func()
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithProbeInterval sets the time between pings.
func WithProbeInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeTimeout bounds each ping.
func WithProbeTimeout(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithMonitorLogger sets the logger. Defaults to slog.Default().
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// NewMonitor creates a monitor probing p.
func NewMonitor(p Pinger, clk clock.Clock, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		pinger:   p,
		clock:    clk,
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
		logger:   slog.Default(),
		reported: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnOnline registers fn to run whenever the monitor turns healthy.
// fn runs on the goroutine that caused the transition and must not block.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = append(m.onOnline, fn)
}

// Healthy reports whether drains may run.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reported && m.reachable
}

// State returns a snapshot.
func (m *Monitor) State() LivenessState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return LivenessState{
		Reported:    m.reported,
		Reachable:   m.reachable,
		Healthy:     m.reported && m.reachable,
		LastProbeAt: m.lastProbe,
		LastError:   m.lastErr,
	}
}

// SetReported records the device's own view of the network.
func (m *Monitor) SetReported(online bool) {
	m.update(func() {
		m.reported = online
	})
	m.logger.Info("network state reported", "online", online)
}

// Probe pings the remote once and returns the resulting health.
func (m *Monitor) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.pinger.Ping(pctx)
	cancel()

	m.update(func() {
		m.lastProbe = m.clock.Now()
		m.reachable = err == nil
		m.lastErr = ""
		if err != nil {
			m.lastErr = err.Error()
		}
	})
	if err != nil {
		m.logger.Debug("liveness probe failed", "error", err)
	}
	return m.Healthy()
}

// Run probes immediately and then every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			m.Probe(ctx)
		}
	}
}

// update applies fn under the lock and fires OnOnline callbacks if the
// monitor went from unhealthy to healthy.
func (m *Monitor) update(fn func()) {
	m.mu.Lock()
	was := m.reported && m.reachable
	fn()
	now := m.reported && m.reachable
	var callbacks []func()
	if now && !was {
		callbacks = append(callbacks, m.onOnline...)
	}
	m.mu.Unlock()

	if now != was {
		m.logger.Info("connection health changed", "healthy", now)
	}
	for _, cb := range callbacks {
		cb()
	}
}
