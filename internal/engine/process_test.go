package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

func TestTimerActivation(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	def := kermitDef()
	def.StartTimers = []api.TimerDefinition{{Kind: api.TimeCycle, Expression: "3#5s#10s", NodeID: "task"}}
	p, err := e.Register(def)
	require.NoError(t, err)

	require.NoError(t, p.Activate(ctx))
	require.NoError(t, p.Activate(ctx))
	jobs := e.jobs.scheduled()
	require.Len(t, jobs, 1)
	require.Equal(t, api.RepeatExpiration(5*time.Second, 10*time.Second, 3), jobs[0].ExpirationTime)
	require.Equal(t, "kermit", jobs[0].ProcessID)
	require.Equal(t, "task", jobs[0].NodeID)

	require.NoError(t, jobs[0].Fire(ctx))
	all, err := p.Instances().Stream(ctx, api.ReadOnly)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, api.StatusActive, all[0].Status())
	require.Equal(t, "Task", onlyWorkItem(t, all[0]).Name)

	require.NoError(t, p.Deactivate(ctx))
	require.Empty(t, e.jobs.scheduled())
	require.Len(t, e.jobs.cancelled, 1)
	require.False(t, p.Active())
}

func TestTimerActivationRejectsUnknownKind(t *testing.T) {
	e := newTestEngine(t)
	def := kermitDef()
	def.StartTimers = []api.TimerDefinition{
		{Kind: api.TimeDuration, Expression: "PT1M", NodeID: "task"},
		{Kind: "TIME_WHENEVER", Expression: "soon", NodeID: "task"},
	}
	p, err := e.Register(def)
	require.NoError(t, err)

	err = p.Activate(context.Background())
	require.ErrorIs(t, err, api.ErrUnsupportedOperation)
	require.False(t, p.Active())
	// The timer scheduled before the failure is cancelled again.
	require.Empty(t, e.jobs.scheduled())
}

func TestProcessSendToWaitingInstances(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	p := register(t, e, waitDef())

	first := startInstance(t, p, nil)
	second := startInstance(t, p, nil)

	require.NoError(t, p.Send(ctx, api.Signal{Channel: "go", Payload: map[string]any{"approved": true}}))

	for _, id := range []string{first.ID(), second.ID()} {
		exists, err := p.Instances().Exists(ctx, id)
		require.NoError(t, err)
		require.False(t, exists)
	}
}

func TestProcessSendStartsSignalStartNodes(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	def := &api.Definition{
		ID:        "orders",
		Variables: []string{"order"},
		Nodes: []api.Node{
			{ID: "received", Name: "Order received", Kind: api.NodeStart, Event: "order", Outputs: map[string]string{"": "order"}},
			{ID: "ship", Name: "Ship", Kind: api.NodeTask},
			{ID: "end", Name: "End", Kind: api.NodeEnd},
		},
		Connections: []api.Connection{{From: "received", To: "ship"}, {From: "ship", To: "end"}},
	}
	p := register(t, e, def)

	require.NoError(t, p.Send(ctx, api.Signal{Channel: "order", Payload: "o-1", ReferenceID: "msg-1"}))

	all, err := p.Instances().Stream(ctx, api.ReadOnly)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "o-1", all[0].Variables()["order"])
	require.Equal(t, "msg-1", all[0].ReferenceID())

	require.NoError(t, p.Send(ctx, api.Signal{Channel: "unrelated"}))
	all, err = p.Instances().Stream(ctx, api.ReadOnly)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestResolverRegistration(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	p := register(t, e, waitDef())
	pi := startInstance(t, p, nil)

	hub, ok := e.Hub().(api.SupportsInstanceResolution)
	require.True(t, ok)

	waiting, err := hub.WaitingForEvents(ctx, "go")
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	require.Equal(t, pi.ID(), waiting[0].ID())
	require.ErrorIs(t, waiting[0].Abort(ctx), api.ErrUnsupportedOperation)

	found, err := hub.FindByID(ctx, pi.ID())
	require.NoError(t, err)
	require.NoError(t, found.Send(ctx, api.Signal{Channel: "go"}))
	require.Equal(t, api.StatusCompleted, found.Status())

	require.NoError(t, p.Deactivate(ctx))
	startInstance(t, p, nil)
	waiting, err = hub.WaitingForEvents(ctx, "go")
	require.NoError(t, err)
	require.Empty(t, waiting)
}

func subProcessDefs(childAction api.ActionFunc) (parent, child *api.Definition) {
	child = &api.Definition{
		ID:        "child",
		Variables: []string{"result"},
		Nodes: []api.Node{
			{ID: "start", Name: "Start", Kind: api.NodeStart},
			{ID: "work", Name: "Work", Kind: api.NodeAction, Action: childAction},
			{ID: "end", Name: "End", Kind: api.NodeEnd},
		},
		Connections: []api.Connection{{From: "start", To: "work"}, {From: "work", To: "end"}},
	}
	parent = &api.Definition{
		ID:        "parent",
		Variables: []string{"input", "result"},
		Nodes: []api.Node{
			{ID: "start", Name: "Start", Kind: api.NodeStart},
			{ID: "call", Name: "Call child", Kind: api.NodeSubProcess, SubProcessID: "child",
				Outputs: map[string]string{"result": "result"}},
			{ID: "review", Name: "Review", Kind: api.NodeTask},
			{ID: "end", Name: "End", Kind: api.NodeEnd},
		},
		Connections: []api.Connection{
			{From: "start", To: "call"}, {From: "call", To: "review"}, {From: "review", To: "end"},
		},
	}
	return parent, child
}

func TestSubProcessCompletionResumesParent(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	parentDef, childDef := subProcessDefs(func(ac api.ActionContext) error {
		ac.Set("result", ac.Get("input").(string)+"!")
		return nil
	})
	register(t, e, childDef)
	parent := register(t, e, parentDef)

	pi := startInstance(t, parent, map[string]any{"input": "hello"})

	require.Eventually(t, func() bool {
		ro, err := parent.Instances().FindByID(ctx, pi.ID(), api.ReadOnly)
		if err != nil {
			return false
		}
		items, err := ro.WorkItems(ctx, nil)
		return err == nil && len(items) == 1 && ro.Variables()["result"] == "hello!"
	}, 5*time.Second, 10*time.Millisecond)
	require.Zero(t, e.DroppedCompletions())
}

func TestSubProcessChildWaitsForSignal(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	parentDef, _ := subProcessDefs(nil)
	child := register(t, e, &api.Definition{
		ID:        "child",
		Variables: []string{"result"},
		Nodes: []api.Node{
			{ID: "start", Name: "Start", Kind: api.NodeStart},
			{ID: "wait", Name: "Wait", Kind: api.NodeEvent, Event: "done"},
			{ID: "end", Name: "End", Kind: api.NodeEnd},
		},
		Connections: []api.Connection{{From: "start", To: "wait"}, {From: "wait", To: "end"}},
	})
	parent := register(t, e, parentDef)

	pi := startInstance(t, parent, map[string]any{"input": "x"})
	types, err := pi.EventTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 1)
	childID := types[0][len(api.CompletedEventPrefix):]

	ci, err := child.Instances().FindByID(ctx, childID, api.ReadOnly)
	require.NoError(t, err)
	require.Equal(t, pi.ID(), ci.ParentID())
	require.Equal(t, pi.ID(), ci.RootID())
	require.Equal(t, "x", ci.Variables()["input"])

	require.NoError(t, child.Send(ctx, api.Signal{Channel: "done", Payload: map[string]any{"result": 42}}))

	require.Eventually(t, func() bool {
		ro, err := parent.Instances().FindByID(ctx, pi.ID(), api.ReadOnly)
		return err == nil && ro.Variables()["result"] == 42
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCompletionForMissingParentIsDropped(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	parentDef, _ := subProcessDefs(nil)
	parent := register(t, e, parentDef)

	payload, err := persistence.Marshal(&completionMessage{
		ProcessID:     "child",
		InstanceID:    "child-1",
		ParentProcess: parent.Ref(),
		ParentID:      "ghost",
	})
	require.NoError(t, err)
	require.NoError(t, e.Hub().Publish(ctx, completionTopic, payload))

	require.Eventually(t, func() bool {
		return e.DroppedCompletions() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestMigrateBetweenVersions(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	v1 := register(t, e, kermitDef())
	def2 := kermitDef()
	def2.Version = "2.0"
	v2 := register(t, e, def2)

	latest, err := e.Process("kermit")
	require.NoError(t, err)
	require.Same(t, v2, latest)
	require.Equal(t, []string{"1.0", "2.0"}, e.Versions("kermit"))

	a := startInstance(t, v1, map[string]any{"var1": "a"})
	b := startInstance(t, v1, map[string]any{"var1": "b"})

	n, err := v1.Instances().Migrate(ctx, v2.Ref(), a.ID(), "missing")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	exists, err := v1.Instances().Exists(ctx, a.ID())
	require.NoError(t, err)
	require.False(t, exists)

	moved, err := v2.Instances().FindByID(ctx, a.ID(), api.Mutable)
	require.NoError(t, err)
	require.Equal(t, "2.0", moved.ProcessVersion())
	require.Equal(t, int64(2), moved.Version())
	require.Equal(t, "a", moved.Variables()["var1"])
	require.True(t, v2.Runtime().Known(a.ID()))
	require.False(t, v1.Runtime().Known(a.ID()))

	require.NoError(t, moved.CompleteWorkItem(ctx, onlyWorkItem(t, moved).ID, nil))
	require.Equal(t, api.StatusCompleted, moved.Status())

	n, err = v1.Instances().Migrate(ctx, v2.Ref())
	require.NoError(t, err)
	require.Equal(t, 1, n)
	all, err := v2.Instances().Stream(ctx, api.ReadOnly)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, b.ID(), all[0].ID())

	_, err = v1.Instances().Migrate(ctx, api.ProcessRef{ID: "kermit", Version: "9"})
	require.ErrorIs(t, err, api.ErrProcessNotFound)
}

func TestMigrateToAnotherProcess(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	src := register(t, e, kermitDef())
	other := kermitDef()
	other.ID = "gonzo"
	dst := register(t, e, other)

	pi := startInstance(t, src, nil)
	n, err := src.Instances().Migrate(ctx, dst.Ref(), pi.ID())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	moved, err := dst.Instances().FindByID(ctx, pi.ID(), api.ReadOnly)
	require.NoError(t, err)
	require.Equal(t, "gonzo", moved.ProcessID())
	_, err = src.Instances().FindByID(ctx, pi.ID(), api.ReadOnly)
	require.ErrorIs(t, err, api.ErrInstanceNotFound)
}

func TestRegisterRejectsDuplicateVersion(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Register(kermitDef())
	require.NoError(t, err)
	_, err = e.Register(kermitDef())
	require.Error(t, err)

	_, err = e.ProcessVersion("kermit", "3.0")
	require.ErrorIs(t, err, api.ErrProcessNotFound)
	_, err = e.Process("nobody")
	require.ErrorIs(t, err, api.ErrProcessNotFound)
}

func TestHistoryRecordsLifecycle(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	p := register(t, e, kermitDef())
	pi := startInstance(t, p, nil)
	require.NoError(t, pi.CompleteWorkItem(ctx, onlyWorkItem(t, pi).ID, nil))

	evs, err := e.Events().ListEvents(ctx, pi.ID())
	require.NoError(t, err)
	var types []api.EventType
	for _, ev := range evs {
		types = append(types, ev.Type)
	}
	require.Equal(t, api.EventInstanceStarted, types[0])
	require.Contains(t, types, api.EventWorkItemTransition)
	require.Equal(t, api.EventInstanceCompleted, types[len(types)-1])
}
