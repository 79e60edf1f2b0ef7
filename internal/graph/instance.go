package graph

import (
	"time"

	"github.com/petrijr/procflow/pkg/api"
)

// NodeInstance is the runtime occurrence of a node.
type NodeInstance struct {
	ID          string
	NodeID      string
	TriggeredAt time.Time
	// WaitingFor is the event type the node instance is subscribed to.
	WaitingFor string
	WorkItem   *api.WorkItem
	ChildID    string
}

// Instance is the attached execution state of a process instance. Only
// exported fields survive encoding; the runtime binding is re-established
// on every load.
type Instance struct {
	ID             string
	ProcessID      string
	ProcessVersion string
	Status         api.Status
	Variables      map[string]any
	Nodes          []*NodeInstance

	ErrorNodeID         string
	ErrorNodeInstanceID string
	ErrorMessage        string
	ErrorCause          string

	BusinessKey          string
	Description          string
	ReferenceID          string
	ParentProcessID      string
	ParentProcessVersion string
	ParentID             string
	RootID               string
	CorrelationKey       string
	Headers              map[string][]string
	StartDate            time.Time

	rt *Runtime
}

// NewInstance creates a PENDING instance for def.
func NewInstance(id string, def *api.Definition, vars map[string]any) *Instance {
	if vars == nil {
		vars = make(map[string]any)
	}
	return &Instance{
		ID:             id,
		ProcessID:      def.ID,
		ProcessVersion: def.Version,
		Status:         api.StatusPending,
		Variables:      vars,
	}
}

// Runtime returns the runtime the instance is connected to, or nil.
func (i *Instance) Runtime() *Runtime { return i.rt }

// Connected reports whether the instance is bound to a runtime.
func (i *Instance) Connected() bool { return i.rt != nil }

// NodeInstance returns the live node instance with id.
func (i *Instance) NodeInstance(id string) (*NodeInstance, bool) {
	for _, ni := range i.Nodes {
		if ni.ID == id {
			return ni, true
		}
	}
	return nil, false
}

func (i *Instance) removeNode(id string) {
	for idx, ni := range i.Nodes {
		if ni.ID == id {
			i.Nodes = append(i.Nodes[:idx], i.Nodes[idx+1:]...)
			return
		}
	}
}

// EventTypes returns the event types the live node instances wait for.
func (i *Instance) EventTypes() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ni := range i.Nodes {
		if ni.WaitingFor == "" {
			continue
		}
		if _, ok := seen[ni.WaitingFor]; ok {
			continue
		}
		seen[ni.WaitingFor] = struct{}{}
		out = append(out, ni.WaitingFor)
	}
	return out
}

// WorkItems returns copies of the live work items.
func (i *Instance) WorkItems() []*api.WorkItem {
	var out []*api.WorkItem
	for _, ni := range i.Nodes {
		if ni.WorkItem != nil {
			out = append(out, ni.WorkItem.Clone())
		}
	}
	return out
}

func (i *Instance) workItem(id string) (*NodeInstance, *api.WorkItem, error) {
	for _, ni := range i.Nodes {
		if ni.WorkItem != nil && ni.WorkItem.ID == id {
			return ni, ni.WorkItem, nil
		}
	}
	return nil, nil, api.ErrWorkItemNotFound
}

// HasError reports whether error fields are populated.
func (i *Instance) HasError() bool {
	return i.ErrorNodeInstanceID != ""
}

func (i *Instance) clearError() {
	i.ErrorNodeID = ""
	i.ErrorNodeInstanceID = ""
	i.ErrorMessage = ""
	i.ErrorCause = ""
}

// PublicNodeInstances describes the live node instances.
func (i *Instance) PublicNodeInstances(def *api.Definition) []api.NodeInstance {
	out := make([]api.NodeInstance, 0, len(i.Nodes))
	for _, ni := range i.Nodes {
		pub := api.NodeInstance{
			ID:          ni.ID,
			NodeID:      ni.NodeID,
			TriggeredAt: ni.TriggeredAt,
			WaitingFor:  ni.WaitingFor,
		}
		if n, ok := def.Node(ni.NodeID); ok {
			pub.NodeName = n.Name
		}
		if ni.WorkItem != nil {
			pub.WorkItemID = ni.WorkItem.ID
		}
		out = append(out, pub)
	}
	return out
}
