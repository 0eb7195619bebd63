package events

import "sync"

// MemRecorder is an in-memory Recorder for use in unit tests. It is exported
// so other packages' tests can assert on the events the gate emits without
// creating a database file on disk.
type MemRecorder struct {
	mu     sync.Mutex
	events []Event
}

func NewMemRecorder() *MemRecorder {
	return &MemRecorder{}
}

func (m *MemRecorder) Record(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// Events returns a copy of everything recorded so far, oldest first.
func (m *MemRecorder) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Last returns the most recently recorded event, or a zero Event when empty.
func (m *MemRecorder) Last() Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return Event{}
	}
	return m.events[len(m.events)-1]
}

// Types returns the event types in recording order.
func (m *MemRecorder) Types() []Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Type, len(m.events))
	for i, ev := range m.events {
		out[i] = ev.Type
	}
	return out
}
