package api

import (
	"context"
	"log/slog"
	"sync"
	"testing"
)

//
// Helpers
//

// testObserver records the events it was called with, per callback.
type testObserver struct {
	mu     sync.Mutex
	called map[string][]ProcessEvent
}

func newTestObserver() *testObserver {
	return &testObserver{called: make(map[string][]ProcessEvent)}
}

func (o *testObserver) record(name string, ev ProcessEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.called[name] = append(o.called[name], ev)
}

func (o *testObserver) count(name string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.called[name])
}

func (o *testObserver) OnInstanceStarted(_ context.Context, ev ProcessEvent) {
	o.record("started", ev)
}
func (o *testObserver) OnInstanceCompleted(_ context.Context, ev ProcessEvent) {
	o.record("completed", ev)
}
func (o *testObserver) OnInstanceAborted(_ context.Context, ev ProcessEvent) {
	o.record("aborted", ev)
}
func (o *testObserver) OnInstanceFailed(_ context.Context, ev ProcessEvent) {
	o.record("failed", ev)
}
func (o *testObserver) OnNodeTriggered(_ context.Context, ev ProcessEvent) {
	o.record("node", ev)
}
func (o *testObserver) OnWorkItemTransition(_ context.Context, ev ProcessEvent) {
	o.record("workitem", ev)
}
func (o *testObserver) OnSignal(_ context.Context, ev ProcessEvent) {
	o.record("signal", ev)
}

// recordingHandler is a minimal slog.Handler that just records log records.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Copy to avoid reuse issues.
	cpy := slog.Record{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		cpy.AddAttrs(a)
		return true
	})
	h.records = append(h.records, cpy)
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Not needed for tests; just return itself.
	return h
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	// Not needed for tests.
	return h
}

func attrsToMap(r slog.Record) map[string]any {
	m := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	return m
}

func newTestEvent(typ EventType) ProcessEvent {
	return ProcessEvent{
		InstanceID: "inst-123",
		Type:       typ,
		ProcessID:  "orders",
		NodeID:     "review",
		Detail:     "boom",
	}
}

//
// NoopObserver
//

func TestNoopObserver_DoesNotPanic(t *testing.T) {
	ctx := context.Background()
	var o Observer = NoopObserver{}
	for _, typ := range []EventType{
		EventInstanceStarted, EventInstanceCompleted, EventInstanceAborted,
		EventInstanceFailed, EventNodeTriggered, EventWorkItemTransition, EventSignalReceived,
	} {
		NotifyObserver(ctx, o, newTestEvent(typ))
	}
}

//
// NotifyObserver
//

func TestNotifyObserver_DispatchesByType(t *testing.T) {
	ctx := context.Background()
	o := newTestObserver()

	cases := map[EventType]string{
		EventInstanceStarted:    "started",
		EventInstanceCompleted:  "completed",
		EventInstanceAborted:    "aborted",
		EventInstanceFailed:     "failed",
		EventNodeTriggered:      "node",
		EventWorkItemTransition: "workitem",
		EventSignalReceived:     "signal",
	}
	for typ, name := range cases {
		NotifyObserver(ctx, o, newTestEvent(typ))
		if o.count(name) != 1 {
			t.Fatalf("%s: expected callback %q once, got %d", typ, name, o.count(name))
		}
	}

	// History-only events have no callback.
	NotifyObserver(ctx, o, newTestEvent(EventNodeLeft))
	NotifyObserver(ctx, o, newTestEvent(EventVariablesUpdated))
	total := 0
	for name := range o.called {
		total += o.count(name)
	}
	if total != len(cases) {
		t.Fatalf("expected %d callbacks in total, got %d", len(cases), total)
	}
}

//
// CompositeObserver
//

func TestNewCompositeObserver_EmptyReturnsNoop(t *testing.T) {
	if _, ok := NewCompositeObserver().(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver for empty composite")
	}
}

func TestNewCompositeObserver_SingleReturnsThatObserver(t *testing.T) {
	o := newTestObserver()
	if got := NewCompositeObserver(nil, o); got != o {
		t.Fatalf("expected the single observer back, got %T", got)
	}
}

func TestCompositeObserver_ForwardsAllEvents(t *testing.T) {
	ctx := context.Background()
	o1, o2 := newTestObserver(), newTestObserver()
	co := NewCompositeObserver(o1, o2)
	if _, ok := co.(*CompositeObserver); !ok {
		t.Fatalf("expected *CompositeObserver, got %T", co)
	}

	NotifyObserver(ctx, co, newTestEvent(EventInstanceStarted))
	NotifyObserver(ctx, co, newTestEvent(EventInstanceFailed))
	NotifyObserver(ctx, co, newTestEvent(EventSignalReceived))

	for i, o := range []*testObserver{o1, o2} {
		if o.count("started") != 1 || o.count("failed") != 1 || o.count("signal") != 1 {
			t.Fatalf("observer %d did not receive all events: %v", i, o.called)
		}
	}
}

//
// LoggingObserver
//

func TestNewLoggingObserver_NilLoggerUsesDefault(t *testing.T) {
	o := NewLoggingObserver(nil)
	lo, ok := o.(*LoggingObserver)
	if !ok {
		t.Fatalf("expected *LoggingObserver, got %T", o)
	}
	if lo.Logger == nil {
		t.Fatalf("expected non-nil Logger when created with nil")
	}
}

func TestLoggingObserver_OnInstanceStarted_EmitsInfoLog(t *testing.T) {
	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	ev := newTestEvent(EventInstanceStarted)
	ev.BusinessKey = "order-7"
	o.OnInstanceStarted(context.Background(), ev)

	if len(h.records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(h.records))
	}
	rec := h.records[0]
	if rec.Level != slog.LevelInfo {
		t.Fatalf("expected LevelInfo, got %v", rec.Level)
	}
	if rec.Message != "instance_started" {
		t.Fatalf("expected message instance_started, got %q", rec.Message)
	}
	attrs := attrsToMap(rec)
	if attrs["process"] != "orders" || attrs["instance_id"] != "inst-123" || attrs["business_key"] != "order-7" {
		t.Fatalf("unexpected attrs: %v", attrs)
	}
}

func TestLoggingObserver_LevelsFollowSeverity(t *testing.T) {
	ctx := context.Background()
	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnInstanceCompleted(ctx, newTestEvent(EventInstanceCompleted))
	o.OnInstanceAborted(ctx, newTestEvent(EventInstanceAborted))
	o.OnInstanceFailed(ctx, newTestEvent(EventInstanceFailed))
	o.OnNodeTriggered(ctx, newTestEvent(EventNodeTriggered))

	want := []struct {
		msg   string
		level slog.Level
	}{
		{"instance_completed", slog.LevelInfo},
		{"instance_aborted", slog.LevelWarn},
		{"instance_failed", slog.LevelError},
		{"node_triggered", slog.LevelDebug},
	}
	if len(h.records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(h.records))
	}
	for i, w := range want {
		if h.records[i].Message != w.msg || h.records[i].Level != w.level {
			t.Fatalf("record %d: got %q/%v, want %q/%v",
				i, h.records[i].Message, h.records[i].Level, w.msg, w.level)
		}
	}
	if got := attrsToMap(h.records[2])["error"]; got != "boom" {
		t.Fatalf("expected failure detail in error attr, got %v", got)
	}
}

//
// BasicMetrics
//

func TestBasicMetrics_Snapshot(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetrics{}

	for range 3 {
		NotifyObserver(ctx, m, newTestEvent(EventInstanceStarted))
	}
	NotifyObserver(ctx, m, newTestEvent(EventInstanceCompleted))
	NotifyObserver(ctx, m, newTestEvent(EventInstanceAborted))
	NotifyObserver(ctx, m, newTestEvent(EventInstanceFailed))
	NotifyObserver(ctx, m, newTestEvent(EventNodeTriggered))
	NotifyObserver(ctx, m, newTestEvent(EventSignalReceived))
	NotifyObserver(ctx, m, newTestEvent(EventWorkItemTransition))

	snap := m.Snapshot()
	want := BasicMetricsSnapshot{
		InstancesStarted:   3,
		InstancesCompleted: 1,
		InstancesAborted:   1,
		InstancesFailed:    1,
		ActiveInstances:    1,
		NodesTriggered:     1,
		SignalsDelivered:   1,
	}
	if snap != want {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
