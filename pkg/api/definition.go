package api

import "context"

// NodeKind identifies how the runtime executes a node.
type NodeKind int

const (
	NodeStart NodeKind = iota
	NodeEnd
	NodeTask
	NodeAction
	NodeEvent
	NodeSubProcess
)

func (k NodeKind) String() string {
	switch k {
	case NodeStart:
		return "start"
	case NodeEnd:
		return "end"
	case NodeTask:
		return "task"
	case NodeAction:
		return "action"
	case NodeEvent:
		return "event"
	case NodeSubProcess:
		return "subprocess"
	default:
		return "unknown"
	}
}

// ActionContext gives action nodes access to instance variables.
type ActionContext interface {
	Context() context.Context
	InstanceID() string
	Get(name string) any
	Set(name string, v any)
}

// ActionFunc is the body of an action node. A returned error puts the
// instance into ERROR at that node.
type ActionFunc func(ac ActionContext) error

// Node is a single element of a process definition graph.
type Node struct {
	ID   string   `validate:"required"`
	Name string   `validate:"required"`
	Kind NodeKind `validate:"gte=0,lte=5"`

	// Task nodes.
	TaskName     string
	Parameters   map[string]any
	InputSchema  map[string]any
	OutputSchema map[string]any

	// Event nodes and signal start nodes wait for this event type.
	Event string

	Action       ActionFunc
	SubProcessID string

	// Outputs maps result/payload keys to variable names when the node
	// completes.
	Outputs map[string]string

	// Terminate makes an end node complete the instance even when other
	// node instances are still live.
	Terminate bool
}

// Connection is a directed edge between two nodes.
type Connection struct {
	From string `validate:"required"`
	To   string `validate:"required"`
}

// TimerKind is the calendar expression kind of a timer.
type TimerKind string

const (
	TimeCycle    TimerKind = "TIME_CYCLE"
	TimeDuration TimerKind = "TIME_DURATION"
	TimeDate     TimerKind = "TIME_DATE"
)

// TimerDefinition starts a new instance from NodeID when it fires.
type TimerDefinition struct {
	Kind       TimerKind `validate:"required"`
	Expression string    `validate:"required"`
	NodeID     string    `validate:"required"`
}

// Definition is the immutable graph of a process.
type Definition struct {
	ID          string `validate:"required"`
	Name        string
	Version     string
	Type        string
	Variables   []string
	Nodes       []Node            `validate:"required,min=1,dive"`
	Connections []Connection      `validate:"dive"`
	StartTimers []TimerDefinition `validate:"dive"`
}

// Node returns the node whose id or name matches ref.
func (d *Definition) Node(ref string) (*Node, bool) {
	for i := range d.Nodes {
		if d.Nodes[i].ID == ref {
			return &d.Nodes[i], true
		}
	}
	for i := range d.Nodes {
		if d.Nodes[i].Name == ref {
			return &d.Nodes[i], true
		}
	}
	return nil, false
}

// Outgoing returns the ids of the nodes connected from nodeID.
func (d *Definition) Outgoing(nodeID string) []string {
	var out []string
	for _, c := range d.Connections {
		if c.From == nodeID {
			out = append(out, c.To)
		}
	}
	return out
}

// StartNodes returns the plain start nodes (no event attached).
func (d *Definition) StartNodes() []*Node {
	var out []*Node
	for i := range d.Nodes {
		if d.Nodes[i].Kind == NodeStart && d.Nodes[i].Event == "" {
			out = append(out, &d.Nodes[i])
		}
	}
	return out
}

// TaskNodes returns the nodes that produce work items.
func (d *Definition) TaskNodes() []*Node {
	var out []*Node
	for i := range d.Nodes {
		if d.Nodes[i].Kind == NodeTask {
			out = append(out, &d.Nodes[i])
		}
	}
	return out
}

// Schema returns the declared variable schema.
func (d *Definition) Schema() *Schema {
	return NewSchema(d.Variables...)
}
