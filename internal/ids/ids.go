// Package ids generates local record identifiers and the device and session
// identities stamped on every ledger entry and audit event.
package ids

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/dairyledger/internal/model"
)

// Generator produces identifiers unique within a device.
type Generator interface {
	NewID(prefix string) string
}

// UUIDv7Generator generates time-sortable ids: prefix + "_" + UUIDv7.
//
// UUIDv7 embeds a millisecond timestamp followed by random bits, so ids are
// roughly creation-ordered and collide only with negligible probability.
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a fresh id. An empty prefix yields a bare UUID.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewID(prefix string) string {
	id := uuid.Must(uuid.NewV7()).String()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// FixedGenerator returns predictable sequential ids for tests:
// "led_000001", "led_000002", ... with one counter per prefix.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu       sync.Mutex
	counters map[string]int
}

// NewFixedGenerator creates a generator whose counters start at zero.
func NewFixedGenerator() *FixedGenerator {
	return &FixedGenerator{counters: make(map[string]int)}
}

// NewID returns the next id for prefix.
func (g *FixedGenerator) NewID(prefix string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counters[prefix]++
	if prefix == "" {
		return fmt.Sprintf("%06d", g.counters[prefix])
	}
	return fmt.Sprintf("%s_%06d", prefix, g.counters[prefix])
}

// Settings is the small scalar key/value store the device id lives in.
type Settings interface {
	// GetSetting returns the value and whether it exists.
	GetSetting(ctx context.Context, key string) (string, bool, error)
	// PutSettingIfAbsent stores value unless key already has one.
	PutSettingIfAbsent(ctx context.Context, key, value string) error
}

// DeviceIDKey is the settings key holding the persisted device id.
const DeviceIDKey = "device_id"

// DeviceID returns the persisted device id, generating and storing it on
// first use. The id lives for the lifetime of the local database.
func DeviceID(ctx context.Context, s Settings, gen Generator) (string, error) {
	const op = "ids.device_id"

	id, ok, err := s.GetSetting(ctx, DeviceIDKey)
	if err != nil {
		return "", model.NewStorageError(op, fmt.Errorf("read device id: %w", err))
	}
	if ok && id != "" {
		return id, nil
	}

	if err := s.PutSettingIfAbsent(ctx, DeviceIDKey, gen.NewID("device")); err != nil {
		return "", model.NewStorageError(op, fmt.Errorf("store device id: %w", err))
	}

	// Re-read so a concurrent first start converges on one id.
	id, ok, err = s.GetSetting(ctx, DeviceIDKey)
	if err != nil {
		return "", model.NewStorageError(op, fmt.Errorf("read device id: %w", err))
	}
	if !ok {
		return "", model.NewStorageError(op, errors.New("device id missing after store"))
	}
	return id, nil
}

// Session identifies one process run. It is never persisted, so a restart
// gets a new session id.
type Session struct {
	id string
}

// NewSession creates a session with a fresh id.
func NewSession(gen Generator) *Session {
	return &Session{id: gen.NewID("session")}
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}
