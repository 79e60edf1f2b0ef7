package procflow

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/petrijr/procflow/internal/engine"
	"github.com/petrijr/procflow/pkg/api"
)

// ProcessBuilder provides a fluent API for defining processes. Nodes added
// one after another are connected in order; End breaks the chain and After
// moves it to an existing node:
//
//	def := procflow.New("onboarding").
//	    Variables("user", "approved").
//	    Start("start").
//	    Action("create", createAccount).
//	    Task("review", "Human Task", procflow.WithParameters(map[string]any{"GroupId": "hr"})).
//	    Event("activated", "activated").
//	    End("end").
//	    MustBuild()
type ProcessBuilder struct {
	def  api.Definition
	last string
}

// NodeOption customizes a node added through the builder.
type NodeOption func(*api.Node)

// WithName sets the node name; it defaults to the node id.
func WithName(name string) NodeOption {
	return func(n *api.Node) { n.Name = name }
}

// WithParameters sets the work-item parameters of a task node. Values of
// the form "#{variable}" are resolved from the instance model.
func WithParameters(params map[string]any) NodeOption {
	return func(n *api.Node) { n.Parameters = maps.Clone(params) }
}

// WithOutputs maps result or payload keys to variables when the node
// completes. The key "" maps the whole payload.
func WithOutputs(outputs map[string]string) NodeOption {
	return func(n *api.Node) { n.Outputs = maps.Clone(outputs) }
}

// WithInputSchema sets the JSON schema describing a task's inputs.
func WithInputSchema(schema map[string]any) NodeOption {
	return func(n *api.Node) { n.InputSchema = schema }
}

// WithOutputSchema sets the JSON schema work-item outputs are validated
// against.
func WithOutputSchema(schema map[string]any) NodeOption {
	return func(n *api.Node) { n.OutputSchema = schema }
}

// New creates a new process builder with the given id.
func New(id string) *ProcessBuilder {
	return &ProcessBuilder{def: api.Definition{ID: id, Name: id}}
}

// ID returns the process id.
func (b *ProcessBuilder) ID() string {
	return b.def.ID
}

// Name sets the human-readable process name.
func (b *ProcessBuilder) Name(name string) *ProcessBuilder {
	b.def.Name = name
	return b
}

// Version sets the process version. Unversioned processes register as
// engine.DefaultVersion.
func (b *ProcessBuilder) Version(v string) *ProcessBuilder {
	b.def.Version = v
	return b
}

// Type sets the process type label.
func (b *ProcessBuilder) Type(t string) *ProcessBuilder {
	b.def.Type = t
	return b
}

// Variables declares the model fields of the process.
func (b *ProcessBuilder) Variables(names ...string) *ProcessBuilder {
	b.def.Variables = append(b.def.Variables, names...)
	return b
}

func (b *ProcessBuilder) add(n api.Node, opts []NodeOption) *ProcessBuilder {
	if n.ID == "" {
		panic("procflow: node id must not be empty")
	}
	n.Name = n.ID
	for _, opt := range opts {
		opt(&n)
	}
	b.def.Nodes = append(b.def.Nodes, n)
	if b.last != "" && n.Kind != api.NodeStart {
		b.def.Connections = append(b.def.Connections, api.Connection{From: b.last, To: n.ID})
	}
	b.last = n.ID
	return b
}

// Start adds a plain start node and begins a new chain from it.
func (b *ProcessBuilder) Start(id string, opts ...NodeOption) *ProcessBuilder {
	return b.add(api.Node{ID: id, Kind: api.NodeStart}, opts)
}

// SignalStart adds a start node that starts a new instance whenever event
// is sent to the process.
func (b *ProcessBuilder) SignalStart(id, event string, opts ...NodeOption) *ProcessBuilder {
	return b.add(api.Node{ID: id, Kind: api.NodeStart, Event: event}, opts)
}

// Task adds a node that creates a work item for the named handler.
func (b *ProcessBuilder) Task(id, taskName string, opts ...NodeOption) *ProcessBuilder {
	return b.add(api.Node{ID: id, Kind: api.NodeTask, TaskName: taskName}, opts)
}

// Action adds a node that runs fn synchronously.
func (b *ProcessBuilder) Action(id string, fn ActionFunc, opts ...NodeOption) *ProcessBuilder {
	if fn == nil {
		panic(fmt.Sprintf("procflow: action %q has nil function", id))
	}
	return b.add(api.Node{ID: id, Kind: api.NodeAction, Action: fn}, opts)
}

// ActionWithRetry adds an action that is retried according to retry
// before the instance is put into ERROR.
func (b *ProcessBuilder) ActionWithRetry(id string, fn ActionFunc, retry RetryBuilder, opts ...NodeOption) *ProcessBuilder {
	if fn == nil {
		panic(fmt.Sprintf("procflow: action %q has nil function", id))
	}
	return b.Action(id, retry.Wrap(fn), opts...)
}

// Event adds a node that waits for eventType.
func (b *ProcessBuilder) Event(id, eventType string, opts ...NodeOption) *ProcessBuilder {
	return b.add(api.Node{ID: id, Kind: api.NodeEvent, Event: eventType}, opts)
}

// SubProcess adds a node that starts an instance of processID and waits for
// it to complete.
func (b *ProcessBuilder) SubProcess(id, processID string, opts ...NodeOption) *ProcessBuilder {
	return b.add(api.Node{ID: id, Kind: api.NodeSubProcess, SubProcessID: processID}, opts)
}

// End adds an end node and closes the current chain.
func (b *ProcessBuilder) End(id string, opts ...NodeOption) *ProcessBuilder {
	b.add(api.Node{ID: id, Kind: api.NodeEnd}, opts)
	b.last = ""
	return b
}

// TerminateEnd adds an end node that completes the instance even while
// other branches are still live.
func (b *ProcessBuilder) TerminateEnd(id string, opts ...NodeOption) *ProcessBuilder {
	b.add(api.Node{ID: id, Kind: api.NodeEnd, Terminate: true}, opts)
	b.last = ""
	return b
}

// After continues the chain from an existing node, for branches.
func (b *ProcessBuilder) After(id string) *ProcessBuilder {
	b.last = id
	return b
}

// Connect adds an explicit connection.
func (b *ProcessBuilder) Connect(from, to string) *ProcessBuilder {
	b.def.Connections = append(b.def.Connections, api.Connection{From: from, To: to})
	return b
}

// StartTimer starts a new instance from nodeID whenever the timer fires.
func (b *ProcessBuilder) StartTimer(kind TimerKind, expression, nodeID string) *ProcessBuilder {
	b.def.StartTimers = append(b.def.StartTimers, api.TimerDefinition{
		Kind:       kind,
		Expression: expression,
		NodeID:     nodeID,
	})
	return b
}

// Build validates and returns a copy of the definition.
func (b *ProcessBuilder) Build() (*Definition, error) {
	d := b.def
	d.Variables = slices.Clone(b.def.Variables)
	d.Nodes = slices.Clone(b.def.Nodes)
	d.Connections = slices.Clone(b.def.Connections)
	d.StartTimers = slices.Clone(b.def.StartTimers)
	if err := engine.ValidateDefinition(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

// MustBuild is like Build but panics on error.
func (b *ProcessBuilder) MustBuild() *Definition {
	d, err := b.Build()
	if err != nil {
		panic(err)
	}
	return d
}

// Register builds the process and registers and activates it on app.
func (b *ProcessBuilder) Register(ctx context.Context, app *Application) (*Process, error) {
	d, err := b.Build()
	if err != nil {
		return nil, err
	}
	return app.Register(ctx, d)
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *ProcessBuilder) MustRegister(ctx context.Context, app *Application) *Process {
	p, err := b.Register(ctx, app)
	if err != nil {
		panic(err)
	}
	return p
}
