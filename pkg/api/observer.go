package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Callbacks are delivered when the unit of work that produced them commits.
// Implementations should be fast and non-blocking.
type Observer interface {
	// OnInstanceStarted is called when an instance leaves PENDING.
	OnInstanceStarted(ctx context.Context, ev ProcessEvent)

	// OnInstanceCompleted is called when an instance reaches COMPLETED.
	OnInstanceCompleted(ctx context.Context, ev ProcessEvent)

	// OnInstanceAborted is called when an instance reaches ABORTED.
	OnInstanceAborted(ctx context.Context, ev ProcessEvent)

	// OnInstanceFailed is called when a node error moves an instance to
	// ERROR. ev.Detail carries the error message.
	OnInstanceFailed(ctx context.Context, ev ProcessEvent)

	// OnNodeTriggered is called for every node instance created.
	OnNodeTriggered(ctx context.Context, ev ProcessEvent)

	// OnWorkItemTransition is called after a work item changes phase.
	OnWorkItemTransition(ctx context.Context, ev ProcessEvent)

	// OnSignal is called when a signal is delivered to an instance.
	OnSignal(ctx context.Context, ev ProcessEvent)
}

// NotifyObserver dispatches ev to the matching Observer callback.
func NotifyObserver(ctx context.Context, o Observer, ev ProcessEvent) {
	switch ev.Type {
	case EventInstanceStarted:
		o.OnInstanceStarted(ctx, ev)
	case EventInstanceCompleted:
		o.OnInstanceCompleted(ctx, ev)
	case EventInstanceAborted:
		o.OnInstanceAborted(ctx, ev)
	case EventInstanceFailed:
		o.OnInstanceFailed(ctx, ev)
	case EventNodeTriggered:
		o.OnNodeTriggered(ctx, ev)
	case EventWorkItemTransition:
		o.OnWorkItemTransition(ctx, ev)
	case EventSignalReceived:
		o.OnSignal(ctx, ev)
	}
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStarted(ctx context.Context, ev ProcessEvent)    {}
func (NoopObserver) OnInstanceCompleted(ctx context.Context, ev ProcessEvent)  {}
func (NoopObserver) OnInstanceAborted(ctx context.Context, ev ProcessEvent)    {}
func (NoopObserver) OnInstanceFailed(ctx context.Context, ev ProcessEvent)     {}
func (NoopObserver) OnNodeTriggered(ctx context.Context, ev ProcessEvent)      {}
func (NoopObserver) OnWorkItemTransition(ctx context.Context, ev ProcessEvent) {}
func (NoopObserver) OnSignal(ctx context.Context, ev ProcessEvent)             {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStarted(ctx context.Context, ev ProcessEvent) {
	for _, o := range c.observers {
		o.OnInstanceStarted(ctx, ev)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, ev ProcessEvent) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, ev)
	}
}

func (c *CompositeObserver) OnInstanceAborted(ctx context.Context, ev ProcessEvent) {
	for _, o := range c.observers {
		o.OnInstanceAborted(ctx, ev)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, ev ProcessEvent) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, ev)
	}
}

func (c *CompositeObserver) OnNodeTriggered(ctx context.Context, ev ProcessEvent) {
	for _, o := range c.observers {
		o.OnNodeTriggered(ctx, ev)
	}
}

func (c *CompositeObserver) OnWorkItemTransition(ctx context.Context, ev ProcessEvent) {
	for _, o := range c.observers {
		o.OnWorkItemTransition(ctx, ev)
	}
}

func (c *CompositeObserver) OnSignal(ctx context.Context, ev ProcessEvent) {
	for _, o := range c.observers {
		o.OnSignal(ctx, ev)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance / node
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStarted(ctx context.Context, ev ProcessEvent) {
	o.Logger.InfoContext(ctx, "instance_started",
		slog.String("process", ev.ProcessID),
		slog.String("instance_id", ev.InstanceID),
		slog.String("business_key", ev.BusinessKey),
	)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, ev ProcessEvent) {
	o.Logger.InfoContext(ctx, "instance_completed",
		slog.String("process", ev.ProcessID),
		slog.String("instance_id", ev.InstanceID),
	)
}

func (o *LoggingObserver) OnInstanceAborted(ctx context.Context, ev ProcessEvent) {
	o.Logger.WarnContext(ctx, "instance_aborted",
		slog.String("process", ev.ProcessID),
		slog.String("instance_id", ev.InstanceID),
	)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, ev ProcessEvent) {
	o.Logger.ErrorContext(ctx, "instance_failed",
		slog.String("process", ev.ProcessID),
		slog.String("instance_id", ev.InstanceID),
		slog.String("node", ev.NodeID),
		slog.String("node_instance_id", ev.NodeInstanceID),
		slog.String("error", ev.Detail),
	)
}

func (o *LoggingObserver) OnNodeTriggered(ctx context.Context, ev ProcessEvent) {
	o.Logger.DebugContext(ctx, "node_triggered",
		slog.String("process", ev.ProcessID),
		slog.String("instance_id", ev.InstanceID),
		slog.String("node", ev.NodeID),
		slog.String("node_name", ev.NodeName),
	)
}

func (o *LoggingObserver) OnWorkItemTransition(ctx context.Context, ev ProcessEvent) {
	o.Logger.DebugContext(ctx, "work_item_transition",
		slog.String("process", ev.ProcessID),
		slog.String("instance_id", ev.InstanceID),
		slog.String("work_item_id", ev.WorkItemID),
		slog.String("phase", ev.Detail),
	)
}

func (o *LoggingObserver) OnSignal(ctx context.Context, ev ProcessEvent) {
	o.Logger.DebugContext(ctx, "signal_received",
		slog.String("process", ev.ProcessID),
		slog.String("instance_id", ev.InstanceID),
		slog.String("signal", ev.Detail),
	)
}

// BasicMetrics collects simple counters.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesStarted   atomic.Int64
	instancesCompleted atomic.Int64
	instancesAborted   atomic.Int64
	instancesFailed    atomic.Int64
	nodesTriggered     atomic.Int64
	signalsDelivered   atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted   int64
	InstancesCompleted int64
	InstancesAborted   int64
	InstancesFailed    int64
	ActiveInstances    int64

	NodesTriggered   int64
	SignalsDelivered int64
}

func (m *BasicMetrics) OnInstanceStarted(ctx context.Context, ev ProcessEvent) {
	m.instancesStarted.Add(1)
}

func (m *BasicMetrics) OnInstanceCompleted(ctx context.Context, ev ProcessEvent) {
	m.instancesCompleted.Add(1)
}

func (m *BasicMetrics) OnInstanceAborted(ctx context.Context, ev ProcessEvent) {
	m.instancesAborted.Add(1)
}

func (m *BasicMetrics) OnInstanceFailed(ctx context.Context, ev ProcessEvent) {
	m.instancesFailed.Add(1)
}

func (m *BasicMetrics) OnNodeTriggered(ctx context.Context, ev ProcessEvent) {
	m.nodesTriggered.Add(1)
}

func (m *BasicMetrics) OnSignal(ctx context.Context, ev ProcessEvent) {
	m.signalsDelivered.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.instancesStarted.Load()
	completed := m.instancesCompleted.Load()
	aborted := m.instancesAborted.Load()

	return BasicMetricsSnapshot{
		InstancesStarted:   started,
		InstancesCompleted: completed,
		InstancesAborted:   aborted,
		InstancesFailed:    m.instancesFailed.Load(),
		ActiveInstances:    started - completed - aborted,
		NodesTriggered:     m.nodesTriggered.Load(),
		SignalsDelivered:   m.signalsDelivered.Load(),
	}
}
