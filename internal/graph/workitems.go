package graph

import (
	"context"
	"fmt"

	"github.com/petrijr/procflow/pkg/api"
)

func (i *Instance) createWorkItem(ctx context.Context, node *api.Node, ni *NodeInstance) error {
	h := i.rt.handler(node.TaskName)
	if h == nil {
		return fmt.Errorf("%w: no work item handler for %q", api.ErrUnsupportedOperation, node.TaskName)
	}
	wi := &api.WorkItem{
		ID:             newID(),
		NodeInstanceID: ni.ID,
		NodeID:         node.ID,
		Name:           node.Name,
		HandlerName:    h.Name(),
		State:          api.WorkItemActive,
		Parameters:     i.resolveParameters(node.Parameters),
		Results:        make(map[string]any),
	}
	ni.WorkItem = wi
	t, err := h.NewTransition(api.PhaseActivate, "", nil)
	if err != nil {
		return err
	}
	if _, err := h.TransitionToPhase(wi, t); err != nil {
		return err
	}
	i.rt.emit(ctx, i, api.ProcessEvent{
		Type:           api.EventWorkItemTransition,
		NodeID:         node.ID,
		NodeName:       node.Name,
		NodeInstanceID: ni.ID,
		WorkItemID:     wi.ID,
		Detail:         wi.PhaseID,
	})
	return nil
}

// TransitionWorkItem enforces t's policies and applies it through the work
// item's handler. A finished work item leaves its node: completed items map
// their results into variables, aborted items continue without results.
func (i *Instance) TransitionWorkItem(ctx context.Context, id string, t api.Transition) (*api.WorkItem, error) {
	if err := i.requireActive("transition work item"); err != nil {
		return nil, err
	}
	ni, wi, err := i.workItem(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}
	if err := api.EnforceAll(wi, t.Policies...); err != nil {
		return nil, err
	}
	h := i.rt.handler(wi.HandlerName)
	if h == nil {
		return nil, fmt.Errorf("%w: no work item handler for %q", api.ErrUnsupportedOperation, wi.HandlerName)
	}
	finished, err := h.TransitionToPhase(wi, t)
	if err != nil {
		return nil, err
	}
	i.rt.emit(ctx, i, api.ProcessEvent{
		Type:           api.EventWorkItemTransition,
		NodeID:         ni.NodeID,
		NodeInstanceID: ni.ID,
		WorkItemID:     wi.ID,
		Detail:         wi.PhaseID,
	})
	out := wi.Clone()
	if finished {
		if wi.State == api.WorkItemCompleted {
			i.applyOutputs(i.node(ni.NodeID), wi.Results)
		}
		i.run(ctx, i.leave(ctx, ni))
	}
	return out, nil
}

// CompleteWorkItem is a complete-phase transition carrying results.
func (i *Instance) CompleteWorkItem(ctx context.Context, id string, results map[string]any, policies ...api.Policy) error {
	return i.phase(ctx, id, api.PhaseComplete, results, policies)
}

// AbortWorkItem is an abort-phase transition.
func (i *Instance) AbortWorkItem(ctx context.Context, id string, policies ...api.Policy) error {
	return i.phase(ctx, id, api.PhaseAbort, nil, policies)
}

func (i *Instance) phase(ctx context.Context, id, phaseID string, data map[string]any, policies []api.Policy) error {
	if err := i.requireActive(phaseID + " work item"); err != nil {
		return err
	}
	_, wi, err := i.workItem(id)
	if err != nil {
		return fmt.Errorf("%w: %s", err, id)
	}
	h := i.rt.handler(wi.HandlerName)
	if h == nil {
		return fmt.Errorf("%w: no work item handler for %q", api.ErrUnsupportedOperation, wi.HandlerName)
	}
	t, err := h.NewTransition(phaseID, wi.PhaseStatus, data, policies...)
	if err != nil {
		return err
	}
	_, err = i.TransitionWorkItem(ctx, id, t)
	return err
}

// UpdateWorkItem applies fn to a live work item after enforcing policies.
func (i *Instance) UpdateWorkItem(ctx context.Context, id string, fn func(*api.WorkItem) error, policies ...api.Policy) (*api.WorkItem, error) {
	if err := i.requireActive("update work item"); err != nil {
		return nil, err
	}
	_, wi, err := i.workItem(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}
	if err := api.EnforceAll(wi, policies...); err != nil {
		return nil, err
	}
	if err := fn(wi); err != nil {
		return nil, err
	}
	return wi.Clone(), nil
}

// WorkItem returns a copy of the live work item id after enforcing
// policies.
func (i *Instance) WorkItem(id string, policies ...api.Policy) (*api.WorkItem, error) {
	_, wi, err := i.workItem(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, id)
	}
	if err := api.EnforceAll(wi, policies...); err != nil {
		return nil, err
	}
	return wi.Clone(), nil
}
