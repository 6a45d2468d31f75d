package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/dairyledger/internal/model"
)

// Call is one Submit recorded by Memory, in arrival order.
type Call struct {
	EntityType model.EntityType
	Key        string
	Payload    []byte
	Err        error
}

// StoredRecord is one logical record held by Memory.
type StoredRecord struct {
	EntityType model.EntityType `json:"entity_type"`
	Key        string           `json:"key"`
	RemoteID   string           `json:"remote_id"`
	Payload    []byte           `json:"payload"`
	// Writes counts submissions applied under this key. Repeats update the
	// record in place, they never add a second one.
	Writes int `json:"writes"`
}

// Memory is an in-process remote store honouring the idempotency contract.
// It records every call and can inject failures, which makes it the stub for
// engine tests and the backing store of the stub-remote HTTP server.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Memory struct {
	mu       sync.Mutex
	records  map[string]*StoredRecord
	order    []string
	calls    []Call
	seq      int
	down     bool
	failAll  error
	failNext map[string][]error
	lostAcks map[string]int
	hook     func(ctx context.Context, key string) error
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		records:  make(map[string]*StoredRecord),
		failNext: make(map[string][]error),
		lostAcks: make(map[string]int),
	}
}

// Submit upserts payload under key.
func (m *Memory) Submit(ctx context.Context, entityType model.EntityType, key string, payload []byte) (Receipt, error) {
	m.mu.Lock()
	hook := m.hook
	m.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, key); err != nil {
			m.record(entityType, key, payload, err)
			return Receipt{}, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		err = Classify("remote.memory.submit", err)
		m.calls = append(m.calls, Call{EntityType: entityType, Key: key, Payload: clone(payload), Err: err})
		return Receipt{}, err
	}

	var err error
	switch {
	case m.down:
		err = model.NewNetworkError("remote.memory.submit", errors.New("remote unreachable"))
	case len(m.failNext[key]) > 0:
		err = m.failNext[key][0]
		m.failNext[key] = m.failNext[key][1:]
	case m.failAll != nil:
		err = m.failAll
	}
	if err != nil {
		m.calls = append(m.calls, Call{EntityType: entityType, Key: key, Payload: clone(payload), Err: err})
		return Receipt{}, err
	}

	rec := m.apply(entityType, key, payload)

	if m.lostAcks[key] > 0 {
		m.lostAcks[key]--
		err = model.NewNetworkError("remote.memory.submit", errors.New("connection reset before acknowledgement"))
		m.calls = append(m.calls, Call{EntityType: entityType, Key: key, Payload: clone(payload), Err: err})
		return Receipt{}, err
	}

	m.calls = append(m.calls, Call{EntityType: entityType, Key: key, Payload: clone(payload)})
	return Receipt{RemoteID: rec.RemoteID}, nil
}

// Ping fails while the store is down.
func (m *Memory) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return model.NewNetworkError("remote.memory.ping", errors.New("remote unreachable"))
	}
	return ctx.Err()
}

func (m *Memory) apply(entityType model.EntityType, key string, payload []byte) *StoredRecord {
	rec, ok := m.records[key]
	if !ok {
		m.seq++
		rec = &StoredRecord{
			EntityType: entityType,
			Key:        key,
			RemoteID:   fmt.Sprintf("rem_%06d", m.seq),
		}
		m.records[key] = rec
		m.order = append(m.order, key)
	}
	rec.Payload = clone(payload)
	rec.Writes++
	return rec
}

func (m *Memory) record(entityType model.EntityType, key string, payload []byte, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{EntityType: entityType, Key: key, Payload: clone(payload), Err: err})
}

// SetDown makes Submit and Ping fail with network errors until cleared.
func (m *Memory) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// FailAll makes every Submit return err. nil clears it.
func (m *Memory) FailAll(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAll = err
}

// FailNext queues errors returned by the next submissions of key, one per call.
func (m *Memory) FailNext(key string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext[key] = append(m.failNext[key], errs...)
}

// LoseAck makes the next n submissions of key apply the write and then fail
// as if the acknowledgement was lost on the way back.
func (m *Memory) LoseAck(key string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lostAcks[key] += n
}

// SetHook installs fn to run before every Submit, outside the lock. A non-nil
// error from fn fails the submission. Tests use it to block a send.
func (m *Memory) SetHook(fn func(ctx context.Context, key string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hook = fn
}

// Calls returns every submission so far, in arrival order.
func (m *Memory) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// SuccessfulKeys returns the keys of acknowledged submissions, in order.
func (m *Memory) SuccessfulKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for _, c := range m.calls {
		if c.Err == nil {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// Record returns the stored record for key.
func (m *Memory) Record(key string) (StoredRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return StoredRecord{}, false
	}
	out := *rec
	out.Payload = clone(rec.Payload)
	return out, true
}

// Records returns every stored record in first-write order.
func (m *Memory) Records() []StoredRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StoredRecord, 0, len(m.order))
	for _, key := range m.order {
		rec := *m.records[key]
		rec.Payload = clone(rec.Payload)
		out = append(out, rec)
	}
	return out
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
