package events

import (
	"context"
	"sync"
)

// MemoryStore keeps events in process. It backs the bus when no database is configured.
type MemoryStore struct {
	mu     sync.Mutex
	events []Event
}

// InsertEvent implements EventStore.
func (m *MemoryStore) InsertEvent(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns the recorded events in emission order.
func (m *MemoryStore) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}
