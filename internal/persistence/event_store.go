package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/procflow/pkg/api"
)

// EventStore is an append-only history of process instance events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.ProcessEvent) error
	ListEvents(ctx context.Context, instanceID string) ([]api.ProcessEvent, error)
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.ProcessEvent) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.ProcessEvent, error) {
	return nil, nil
}

// MemoryEventStore keeps events per instance in append order.
type MemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]api.ProcessEvent
}

var _ EventStore = (*MemoryEventStore)(nil)

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{events: make(map[string][]api.ProcessEvent)}
}

func (s *MemoryEventStore) AppendEvent(_ context.Context, ev api.ProcessEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[ev.InstanceID] = append(s.events[ev.InstanceID], ev)
	return nil
}

func (s *MemoryEventStore) ListEvents(_ context.Context, instanceID string) ([]api.ProcessEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	evs := s.events[instanceID]
	out := make([]api.ProcessEvent, len(evs))
	copy(out, evs)
	return out, nil
}
