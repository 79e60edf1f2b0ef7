package api

import "context"

// Signal is a named event routed to one or more instances. It is a
// transient routing message and never persisted.
type Signal struct {
	Channel     string
	Payload     any
	ReferenceID string
	// Exclusive makes delivery to a single instance fail with
	// ErrIllegalSignal when the instance is not waiting for Channel at
	// the time it is delivered.
	Exclusive bool
}

// CompletedEventPrefix prefixes the event type a parent's sub-process node
// waits for; the child instance id is appended.
const CompletedEventPrefix = "processInstanceCompleted:"

// CompletedEventType returns the event type signalled to a parent when the
// child instance completes.
func CompletedEventType(childID string) string {
	return CompletedEventPrefix + childID
}

// InstanceResolver finds live instances for the signal hub.
type InstanceResolver interface {
	// WaitingForEvents returns the live instances currently subscribed to
	// eventType.
	WaitingForEvents(ctx context.Context, eventType string) ([]ProcessInstance, error)
	// FindByID returns the mutable instance with id, or ErrInstanceNotFound.
	FindByID(ctx context.Context, id string) (ProcessInstance, error)
}

// SignalHub routes signals between processes.
type SignalHub interface {
	// Publish delivers payload on topic asynchronously.
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe calls handler for every message on topic until ctx is done.
	Subscribe(ctx context.Context, topic string, handler func(ctx context.Context, payload []byte) error) error
}

// SupportsInstanceResolution is the capability implemented by hubs that can
// answer "who is waiting for event X".
type SupportsInstanceResolution interface {
	AddProcessInstanceResolver(r InstanceResolver)
	RemoveProcessInstanceResolver(r InstanceResolver)
	WaitingForEvents(ctx context.Context, eventType string) ([]ProcessInstance, error)
	FindByID(ctx context.Context, id string) (ProcessInstance, error)
}
