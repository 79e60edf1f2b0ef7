package graph

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/petrijr/procflow/pkg/api"
)

var errNotConnected = errors.New("instance is not connected to a runtime")

// Start moves a PENDING instance to ACTIVE and triggers the plain start
// nodes.
func (i *Instance) Start(ctx context.Context) error {
	if i.rt == nil {
		return errNotConnected
	}
	if i.Status != api.StatusPending {
		return fmt.Errorf("%w: cannot start instance in status %s", api.ErrIllegalState, i.Status)
	}
	var queue []string
	for _, n := range i.rt.def.StartNodes() {
		queue = append(queue, n.ID)
	}
	i.activate(ctx)
	i.run(ctx, queue)
	return nil
}

// StartFrom moves the instance to ACTIVE and triggers the node matching
// ref (id or name), whatever its kind.
func (i *Instance) StartFrom(ctx context.Context, ref string) error {
	if i.rt == nil {
		return errNotConnected
	}
	node, ok := i.rt.def.Node(ref)
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrNodeNotFound, ref)
	}
	i.activate(ctx)
	i.run(ctx, []string{node.ID})
	return nil
}

func (i *Instance) activate(ctx context.Context) {
	i.Status = api.StatusActive
	if i.StartDate.IsZero() {
		i.StartDate = i.rt.now()
	}
	i.rt.Register(i.ID)
	i.rt.emit(ctx, i, api.ProcessEvent{Type: api.EventInstanceStarted})
}

// TriggerNode triggers the node matching ref on an active instance.
func (i *Instance) TriggerNode(ctx context.Context, ref string) error {
	if err := i.requireActive("trigger node"); err != nil {
		return err
	}
	node, ok := i.rt.def.Node(ref)
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrNodeNotFound, ref)
	}
	i.run(ctx, []string{node.ID})
	return nil
}

// CancelNodeInstance removes a live node instance without continuing the
// flow from it.
func (i *Instance) CancelNodeInstance(ctx context.Context, id string) error {
	if i.rt == nil {
		return errNotConnected
	}
	ni, ok := i.NodeInstance(id)
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrNodeInstanceNotFound, id)
	}
	i.cancel(ctx, ni)
	return nil
}

// RetriggerNodeInstance cancels the node instance and triggers its node
// again.
func (i *Instance) RetriggerNodeInstance(ctx context.Context, id string) error {
	if err := i.requireActive("retrigger node instance"); err != nil {
		return err
	}
	ni, ok := i.NodeInstance(id)
	if !ok {
		return fmt.Errorf("%w: %s", api.ErrNodeInstanceNotFound, id)
	}
	i.cancel(ctx, ni)
	i.run(ctx, []string{ni.NodeID})
	return nil
}

// Abort cancels every live node instance and moves to ABORTED.
func (i *Instance) Abort(ctx context.Context) error {
	if i.rt == nil {
		return errNotConnected
	}
	if i.Status.Terminal() {
		return fmt.Errorf("%w: cannot abort instance in status %s", api.ErrIllegalState, i.Status)
	}
	for len(i.Nodes) > 0 {
		i.cancel(ctx, i.Nodes[0])
	}
	i.Status = api.StatusAborted
	i.rt.Unregister(i.ID)
	i.rt.emit(ctx, i, api.ProcessEvent{Type: api.EventInstanceAborted})
	return nil
}

// Signal delivers an event to every live node instance waiting for
// eventType. Instances that are not active ignore signals.
func (i *Instance) Signal(ctx context.Context, eventType string, payload any) error {
	if i.rt == nil {
		return errNotConnected
	}
	if i.Status != api.StatusActive {
		return nil
	}
	i.rt.emit(ctx, i, api.ProcessEvent{Type: api.EventSignalReceived, Detail: eventType})

	var waiting []*NodeInstance
	for _, ni := range i.Nodes {
		if ni.WaitingFor == eventType {
			waiting = append(waiting, ni)
		}
	}
	var queue []string
	for _, ni := range waiting {
		node := i.node(ni.NodeID)
		i.applyOutputs(node, payload)
		queue = append(queue, i.leave(ctx, ni)...)
	}
	i.run(ctx, queue)
	return nil
}

// Retrigger re-executes the failed node of an instance in ERROR.
func (i *Instance) Retrigger(ctx context.Context) error {
	ni, err := i.failedNode()
	if err != nil {
		return err
	}
	i.clearError()
	i.Status = api.StatusActive
	i.rt.emit(ctx, i, api.ProcessEvent{Type: api.EventInstanceRetriggered, NodeID: ni.NodeID, NodeInstanceID: ni.ID})
	i.removeNode(ni.ID)
	i.run(ctx, []string{ni.NodeID})
	return nil
}

// Skip completes the failed node instance without re-executing it and
// continues with its outgoing connections.
func (i *Instance) Skip(ctx context.Context) error {
	ni, err := i.failedNode()
	if err != nil {
		return err
	}
	i.clearError()
	i.Status = api.StatusActive
	i.rt.emit(ctx, i, api.ProcessEvent{Type: api.EventInstanceSkipped, NodeID: ni.NodeID, NodeInstanceID: ni.ID})
	i.run(ctx, i.leave(ctx, ni))
	return nil
}

func (i *Instance) failedNode() (*NodeInstance, error) {
	if i.rt == nil {
		return nil, errNotConnected
	}
	if i.Status != api.StatusError {
		return nil, fmt.Errorf("%w: instance is not in error (status %s)", api.ErrIllegalState, i.Status)
	}
	ni, ok := i.NodeInstance(i.ErrorNodeInstanceID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", api.ErrNodeInstanceNotFound, i.ErrorNodeInstanceID)
	}
	return ni, nil
}

func (i *Instance) requireActive(op string) error {
	if i.rt == nil {
		return errNotConnected
	}
	if i.Status != api.StatusActive {
		return fmt.Errorf("%w: cannot %s in status %s", api.ErrIllegalState, op, i.Status)
	}
	return nil
}

func (i *Instance) node(id string) *api.Node {
	n, _ := i.rt.def.Node(id)
	return n
}

// run triggers the queued nodes breadth-first until the queue drains or
// the instance leaves ACTIVE. The loop replaces recursion so that long
// chains do not grow the stack.
func (i *Instance) run(ctx context.Context, queue []string) {
	for len(queue) > 0 && i.Status == api.StatusActive {
		id := queue[0]
		queue = queue[1:]
		queue = append(queue, i.execute(ctx, id)...)
	}
}

// execute creates a node instance for nodeID and returns the successors to
// trigger when the node completed synchronously.
func (i *Instance) execute(ctx context.Context, nodeID string) []string {
	node := i.node(nodeID)
	if node == nil {
		return nil
	}
	ni := &NodeInstance{ID: newID(), NodeID: node.ID, TriggeredAt: i.rt.now()}
	i.Nodes = append(i.Nodes, ni)
	i.rt.emit(ctx, i, api.ProcessEvent{
		Type:           api.EventNodeTriggered,
		NodeID:         node.ID,
		NodeName:       node.Name,
		NodeInstanceID: ni.ID,
	})

	switch node.Kind {
	case api.NodeStart:
		return i.leave(ctx, ni)

	case api.NodeEnd:
		i.removeNode(ni.ID)
		i.rt.emit(ctx, i, api.ProcessEvent{Type: api.EventNodeLeft, NodeID: node.ID, NodeName: node.Name, NodeInstanceID: ni.ID})
		if node.Terminate {
			for len(i.Nodes) > 0 {
				i.cancel(ctx, i.Nodes[0])
			}
		}
		if len(i.Nodes) == 0 {
			i.complete(ctx)
		}
		return nil

	case api.NodeAction:
		if node.Action != nil {
			if err := node.Action(&actionContext{ctx: ctx, inst: i}); err != nil {
				i.fail(ctx, ni, err)
				return nil
			}
		}
		return i.leave(ctx, ni)

	case api.NodeEvent:
		ni.WaitingFor = node.Event
		return nil

	case api.NodeTask:
		if err := i.createWorkItem(ctx, node, ni); err != nil {
			i.fail(ctx, ni, err)
		}
		return nil

	case api.NodeSubProcess:
		if i.rt.subprocesses == nil {
			i.fail(ctx, ni, fmt.Errorf("%w: no sub-process starter configured", api.ErrUnsupportedOperation))
			return nil
		}
		// Subscribe before starting so a synchronously completing child
		// still finds the parent waiting.
		ni.WaitingFor = api.CompletedEventPrefix
		childID, err := i.rt.subprocesses.StartSubProcess(ctx, i, node)
		if err != nil {
			ni.WaitingFor = ""
			i.fail(ctx, ni, err)
			return nil
		}
		ni.ChildID = childID
		ni.WaitingFor = api.CompletedEventType(childID)
		return nil
	}
	return nil
}

// leave completes a node instance and returns its successors. An instance
// whose last node instance leaves without successors completes.
func (i *Instance) leave(ctx context.Context, ni *NodeInstance) []string {
	i.removeNode(ni.ID)
	node := i.node(ni.NodeID)
	ev := api.ProcessEvent{Type: api.EventNodeLeft, NodeID: ni.NodeID, NodeInstanceID: ni.ID}
	if node != nil {
		ev.NodeName = node.Name
	}
	i.rt.emit(ctx, i, ev)
	next := i.rt.def.Outgoing(ni.NodeID)
	if len(next) == 0 && len(i.Nodes) == 0 {
		i.complete(ctx)
	}
	return next
}

func (i *Instance) cancel(ctx context.Context, ni *NodeInstance) {
	i.removeNode(ni.ID)
	if ni.WorkItem != nil && ni.WorkItem.State == api.WorkItemActive {
		ni.WorkItem.State = api.WorkItemAborted
		ni.WorkItem.PhaseID = api.PhaseAbort
		ni.WorkItem.PhaseStatus = api.PhaseStatusAborted
	}
	i.rt.emit(ctx, i, api.ProcessEvent{Type: api.EventNodeCancelled, NodeID: ni.NodeID, NodeInstanceID: ni.ID})
}

func (i *Instance) complete(ctx context.Context) {
	if i.Status.Terminal() {
		return
	}
	i.Status = api.StatusCompleted
	i.rt.Unregister(i.ID)
	i.rt.emit(ctx, i, api.ProcessEvent{Type: api.EventInstanceCompleted})
}

func (i *Instance) fail(ctx context.Context, ni *NodeInstance, err error) {
	i.Status = api.StatusError
	i.ErrorNodeID = ni.NodeID
	i.ErrorNodeInstanceID = ni.ID
	i.ErrorMessage = err.Error()
	cause := err
	for u := errors.Unwrap(cause); u != nil; u = errors.Unwrap(cause) {
		cause = u
	}
	i.ErrorCause = cause.Error()
	i.rt.emit(ctx, i, api.ProcessEvent{
		Type:           api.EventInstanceFailed,
		NodeID:         ni.NodeID,
		NodeInstanceID: ni.ID,
		Detail:         i.ErrorMessage,
	})
}

// applyOutputs copies a completion payload into variables. Without an
// explicit Outputs mapping, keys naming declared variables are copied.
func (i *Instance) applyOutputs(node *api.Node, payload any) {
	if node == nil || payload == nil {
		return
	}
	m, isMap := payload.(map[string]any)
	if len(node.Outputs) == 0 {
		if !isMap {
			return
		}
		declared := i.rt.def.Schema()
		for k, v := range m {
			if declared.Has(k) {
				i.setVariable(k, v)
			}
		}
		return
	}
	for from, to := range node.Outputs {
		if from == "" {
			i.setVariable(to, payload)
			continue
		}
		if isMap {
			if v, ok := m[from]; ok {
				i.setVariable(to, v)
			}
		}
	}
}

// setVariable writes name to the variable map and, for declared fields,
// to the bound model so both stay consistent within an operation.
func (i *Instance) setVariable(name string, v any) {
	if name == api.ModelKey {
		return
	}
	i.Variables[name] = v
	if model, ok := i.Variables[api.ModelKey].(api.Model); ok && model.Schema().Has(name) {
		_ = model.Set(name, v)
	}
}

// resolveParameters expands "#{field}" placeholders from the model.
func (i *Instance) resolveParameters(params map[string]any) map[string]any {
	out := maps.Clone(params)
	if out == nil {
		out = make(map[string]any)
	}
	model, _ := i.Variables[api.ModelKey].(api.Model)
	for k, v := range out {
		s, ok := v.(string)
		if !ok || !strings.HasPrefix(s, "#{") || !strings.HasSuffix(s, "}") {
			continue
		}
		field := s[2 : len(s)-1]
		if model != nil && model.Schema().Has(field) {
			out[k] = model.Get(field)
		} else {
			out[k] = i.Variables[field]
		}
	}
	return out
}

type actionContext struct {
	ctx  context.Context
	inst *Instance
}

func (a *actionContext) Context() context.Context { return a.ctx }
func (a *actionContext) InstanceID() string       { return a.inst.ID }
func (a *actionContext) Get(name string) any      { return a.inst.Variables[name] }
func (a *actionContext) Set(name string, v any)   { a.inst.setVariable(name, v) }
