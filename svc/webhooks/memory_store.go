package webhooks

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryEventStore is an in-process EventStore for tests and local runs.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[uuid.UUID]*Event
}

// NewMemoryEventStore creates an empty MemoryEventStore.
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[uuid.UUID]*Event)}
}

// GetEvent returns a copy of the stored event.
func (m *MemoryEventStore) GetEvent(_ context.Context, provider, eventID string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if e.Provider == provider && e.EventID == eventID {
			return cloneEvent(e), nil
		}
	}
	return nil, ErrEventNotFound
}

// InsertEvent stores a copy of event and assigns an id when it has none.
func (m *MemoryEventStore) InsertEvent(_ context.Context, event *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.Provider == event.Provider && e.EventID == event.EventID {
			return ErrDuplicateEvent
		}
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	m.events[event.ID] = cloneEvent(event)
	return nil
}

// MarkEventProcessed marks the event done and clears any earlier error.
func (m *MemoryEventStore) MarkEventProcessed(_ context.Context, id uuid.UUID, at time.Time) error {
	return m.update(id, func(e *Event) {
		e.Processed = true
		e.ProcessingError = ""
		e.ProcessedAt = &at
	})
}

// MarkEventFailed records processingError on the event.
func (m *MemoryEventStore) MarkEventFailed(_ context.Context, id uuid.UUID, processingError string, at time.Time) error {
	return m.update(id, func(e *Event) {
		e.Processed = true
		e.ProcessingError = processingError
		e.ProcessedAt = &at
	})
}

// Events returns every stored event, oldest first.
func (m *MemoryEventStore) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, *cloneEvent(e))
	}
	slices.SortFunc(out, func(a, b Event) int { return a.ReceivedAt.Compare(b.ReceivedAt) })
	return out
}

func (m *MemoryEventStore) update(id uuid.UUID, fn func(*Event)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok {
		return ErrEventNotFound
	}
	fn(e)
	return nil
}

func cloneEvent(e *Event) *Event {
	c := *e
	c.Payload = slices.Clone(e.Payload)
	if e.ProcessedAt != nil {
		t := *e.ProcessedAt
		c.ProcessedAt = &t
	}
	return &c
}
