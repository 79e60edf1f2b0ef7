package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/internal/workitem"
	"github.com/petrijr/procflow/pkg/api"
)

type fakeJobs struct {
	mu        sync.Mutex
	next      int
	jobs      map[string]api.JobDescription
	cancelled []string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]api.JobDescription)}
}

func (f *fakeJobs) ScheduleJob(_ context.Context, job api.JobDescription) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("job-%d", f.next)
	f.jobs[id] = job
	return id, nil
}

func (f *fakeJobs) CancelJob(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[id]
	delete(f.jobs, id)
	f.cancelled = append(f.cancelled, id)
	return ok, nil
}

func (f *fakeJobs) scheduled() []api.JobDescription {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.JobDescription, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

type testEngine struct {
	*Engine
	jobs   *fakeJobs
	events *persistence.MemoryEventStore
}

func newTestEngine(t *testing.T, opts ...func(*Config)) *testEngine {
	t.Helper()
	jobs := newFakeJobs()
	events := persistence.NewMemoryEventStore()
	cfg := Config{
		Backend: persistence.NewMemoryBackend(),
		Events:  events,
		Jobs:    jobs,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return &testEngine{Engine: e, jobs: jobs, events: events}
}

func register(t *testing.T, e *testEngine, def *api.Definition) *Process {
	t.Helper()
	p, err := e.Register(def)
	require.NoError(t, err)
	require.NoError(t, p.Activate(context.Background()))
	return p
}

// kermitDef is start -> Task -> end with a single declared variable.
func kermitDef() *api.Definition {
	return &api.Definition{
		ID:        "kermit",
		Variables: []string{"var1"},
		Nodes: []api.Node{
			{ID: "start", Name: "Start", Kind: api.NodeStart},
			{ID: "task", Name: "Task", Kind: api.NodeTask, TaskName: workitem.DefaultHandlerName},
			{ID: "end", Name: "End", Kind: api.NodeEnd},
		},
		Connections: []api.Connection{{From: "start", To: "task"}, {From: "task", To: "end"}},
	}
}

// waitDef waits for the "go" event between start and end.
func waitDef() *api.Definition {
	return &api.Definition{
		ID:        "wait",
		Variables: []string{"approved"},
		Nodes: []api.Node{
			{ID: "start", Name: "Start", Kind: api.NodeStart},
			{ID: "wait", Name: "Wait", Kind: api.NodeEvent, Event: "go"},
			{ID: "end", Name: "End", Kind: api.NodeEnd},
		},
		Connections: []api.Connection{{From: "start", To: "wait"}, {From: "wait", To: "end"}},
	}
}

func startInstance(t *testing.T, p *Process, vars map[string]any, opts ...api.CreateOption) api.ProcessInstance {
	t.Helper()
	pi, err := p.CreateInstance(vars, opts...)
	require.NoError(t, err)
	require.NoError(t, pi.Start(context.Background()))
	return pi
}

func onlyWorkItem(t *testing.T, pi api.ProcessInstance) *api.WorkItem {
	t.Helper()
	items, err := pi.WorkItems(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	return items[0]
}
