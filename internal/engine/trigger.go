package engine

import "sync"

// Trigger names why a reconciliation cycle ran.
type Trigger string

const (
	TriggerStartup      Trigger = "startup"
	TriggerTimer        Trigger = "timer"
	TriggerOnline       Trigger = "online"
	TriggerVisible      Trigger = "visible"
	TriggerHighPriority Trigger = "high_priority"
	TriggerManual       Trigger = "manual"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerStartup, TriggerTimer, TriggerOnline, TriggerVisible, TriggerHighPriority, TriggerManual:
		return true
	}
	return false
}

// triggerSet collects pending triggers for the Run loop.
//
// Triggers coalesce: any number of signals raised while a cycle runs result
// in one more cycle, not one per signal. The signal channel has a buffer of
// one so Add never blocks.
type triggerSet struct {
	mu      sync.Mutex
	pending []Trigger
	signal  chan struct{}
}

func newTriggerSet() *triggerSet {
	return &triggerSet{signal: make(chan struct{}, 1)}
}

// Add records t and signals the loop.
// Thread-safe: may be called from any goroutine.
func (s *triggerSet) Add(t Trigger) {
	s.mu.Lock()
	seen := false
	for _, p := range s.pending {
		if p == t {
			seen = true
			break
		}
	}
	if !seen {
		s.pending = append(s.pending, t)
	}
	s.mu.Unlock()

	// Non-blocking: buffer of 1 coalesces multiple signals.
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// Take returns and clears the pending triggers, in arrival order.
func (s *triggerSet) Take() []Trigger {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// Wait returns the channel signalled when triggers are pending.
func (s *triggerSet) Wait() <-chan struct{} {
	return s.signal
}
