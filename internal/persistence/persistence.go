// Package persistence holds the storage backends for process instances and
// their event history.
package persistence

// Persistence bundles the instance backend and the event history so the
// engine can depend on a single value.
type Persistence struct {
	Instances Backend
	Events    EventStore
}

// NewInMemoryPersistence returns a Persistence with both stores in memory.
func NewInMemoryPersistence() Persistence {
	return Persistence{
		Instances: NewMemoryBackend(),
		Events:    NewMemoryEventStore(),
	}
}
