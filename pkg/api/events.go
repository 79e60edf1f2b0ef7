package api

import "time"

// EventType identifies a process history event.
type EventType string

const (
	EventInstanceStarted     EventType = "instance.started"
	EventInstanceCompleted   EventType = "instance.completed"
	EventInstanceAborted     EventType = "instance.aborted"
	EventInstanceFailed      EventType = "instance.failed"
	EventInstanceRetriggered EventType = "instance.retriggered"
	EventInstanceSkipped     EventType = "instance.skipped"
	EventVariablesUpdated    EventType = "instance.variables_updated"

	EventSignalReceived EventType = "signal.received"

	EventNodeTriggered EventType = "node.triggered"
	EventNodeLeft      EventType = "node.left"
	EventNodeCancelled EventType = "node.cancelled"

	EventWorkItemTransition EventType = "workitem.transition"
)

// ProcessEvent is a minimal append-only history record for audit/debugging.
type ProcessEvent struct {
	InstanceID     string
	At             time.Time
	Type           EventType
	ProcessID      string
	ProcessVersion string
	BusinessKey    string
	Status         Status

	// Optional context.
	NodeID         string
	NodeName       string
	NodeInstanceID string
	WorkItemID     string

	// Small, human-oriented details (signal name, phase, error message).
	// Keep this low-volume: do NOT dump large payloads here.
	Detail string
}
