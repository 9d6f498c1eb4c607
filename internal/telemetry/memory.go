package telemetry

import (
	"context"
	"sync"
)

// MemoryStore keeps the most recent events in a fixed-size ring
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	next   int
	full   bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a ring holding up to capacity events
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryStore{events: make([]Event, capacity)}
}

// Report implements Sink
func (m *MemoryStore) Report(_ context.Context, ev Event) {
	ev = normalize(ev)
	m.mu.Lock()
	m.events[m.next] = ev
	m.next = (m.next + 1) % len(m.events)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
}

// Recent implements Reader
func (m *MemoryStore) Recent(_ context.Context, tenant string, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	size := m.next
	if m.full {
		size = len(m.events)
	}
	out := make([]Event, 0, min(size, max(limit, 0)))
	for i := 0; i < size && len(out) < limit; i++ {
		idx := (m.next - 1 - i + len(m.events)) % len(m.events)
		if tenant != "" && m.events[idx].Tenant != tenant {
			continue
		}
		out = append(out, m.events[idx])
	}
	return out, nil
}
