package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"dario.cat/mergo"
	"go.uber.org/multierr"

	"github.com/petrijr/procflow/internal/graph"
	"github.com/petrijr/procflow/pkg/api"
)

// processInstance is the engine-side handle of one instance. Between
// operations it holds only the synchronized snapshot; every operation
// takes the id lock, reattaches the execution state (reloading it from the
// store when detached), runs, writes the result back and detaches again.
type processInstance struct {
	process *Process
	id      string

	// Guarded by the id lock.
	attached  *graph.Instance
	reload    func(ctx context.Context) (*graph.Instance, int64, error)
	persisted bool

	correlation api.Correlation
	correlated  bool

	mu             sync.RWMutex
	processID      string
	processVersion string
	status         api.Status
	businessKey    string
	description    string
	parentID       string
	rootID         string
	referenceID    string
	correlationKey string
	startDate      time.Time
	version        int64
	variables      map[string]any
	errNodeID      string
	errNodeInstID  string
	errMessage     string
	errCause       string
	// readOnly instances never reattach; frozen is their last state.
	readOnly bool
	frozen   *graph.Instance
}

var _ api.ProcessInstance = (*processInstance)(nil)

func newProcessInstance(p *Process, vars map[string]any, o api.CreateOptions) *processInstance {
	id := newInstanceID()
	gi := graph.NewInstance(id, p.def, bindVariables(p.schema, vars))
	gi.BusinessKey = o.BusinessKey
	gi.Description = o.Description
	gi.ParentProcessID = o.ParentProcess.ID
	gi.ParentProcessVersion = o.ParentProcess.Version
	gi.ParentID = o.ParentID
	gi.RootID = o.RootID
	if !o.Correlation.IsZero() {
		gi.CorrelationKey = o.Correlation.Encoded()
	}
	pi := &processInstance{
		process:     p,
		id:          id,
		attached:    gi,
		correlation: o.Correlation,
	}
	pi.syncSnapshot(gi)
	return pi
}

// bindVariables copies vars and adds every declared field that is missing,
// so the graph always carries the full model.
func bindVariables(schema *api.Schema, vars map[string]any) map[string]any {
	out := maps.Clone(vars)
	if out == nil {
		out = make(map[string]any)
	}
	delete(out, api.ModelKey)
	maps.Copy(out, api.RecordFromMap(schema, vars).ToMap())
	return out
}

func (pi *processInstance) syncSnapshot(gi *graph.Instance) {
	vars := maps.Clone(gi.Variables)
	delete(vars, api.ModelKey)

	pi.mu.Lock()
	defer pi.mu.Unlock()
	pi.processID = gi.ProcessID
	pi.processVersion = gi.ProcessVersion
	pi.status = gi.Status
	pi.businessKey = gi.BusinessKey
	pi.description = gi.Description
	pi.parentID = gi.ParentID
	pi.rootID = gi.RootID
	pi.referenceID = gi.ReferenceID
	pi.correlationKey = gi.CorrelationKey
	pi.startDate = gi.StartDate
	pi.variables = vars
	pi.errNodeID = gi.ErrorNodeID
	pi.errNodeInstID = gi.ErrorNodeInstanceID
	pi.errMessage = gi.ErrorMessage
	pi.errCause = gi.ErrorCause
}

func (pi *processInstance) setVersion(v int64) {
	pi.mu.Lock()
	pi.version = v
	pi.mu.Unlock()
}

func (pi *processInstance) frozenState() (*graph.Instance, bool) {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.frozen, pi.readOnly
}

func (pi *processInstance) freeze(gi *graph.Instance) {
	pi.mu.Lock()
	pi.readOnly = true
	pi.frozen = gi
	pi.mu.Unlock()
}

func (pi *processInstance) wrap(op string, err error) error {
	return api.NewInstanceError(op, pi.ProcessID(), pi.id, err)
}

// load returns the attached state, reloading it when detached.
func (pi *processInstance) load(ctx context.Context) (*graph.Instance, error) {
	if pi.attached != nil {
		return pi.attached, nil
	}
	if pi.reload == nil {
		return nil, api.ErrInstanceNotFound
	}
	gi, version, err := pi.reload(ctx)
	if err != nil {
		return nil, err
	}
	pi.setVersion(version)
	pi.attached = gi
	return gi, nil
}

// execute runs a mutating operation: lock, load, connect, fn, persist,
// unload. When fn or the persistence write fails, the attached state of a
// stored instance is dropped so the next operation starts from the store.
func (pi *processInstance) execute(ctx context.Context, op string, fn func(ctx context.Context, gi *graph.Instance) error) error {
	if _, ro := pi.frozenState(); ro {
		return pi.wrap(op, fmt.Errorf("%w: instance is read-only", api.ErrUnsupportedOperation))
	}
	unlock := pi.process.store.locks.Lock(pi.id)
	defer unlock()
	if _, ro := pi.frozenState(); ro {
		return pi.wrap(op, fmt.Errorf("%w: instance is read-only", api.ErrUnsupportedOperation))
	}

	gi, err := pi.load(ctx)
	if err != nil {
		return pi.wrap(op, err)
	}
	rt := pi.process.runtime

	// An instance that was never stored has no record to fall back to, so
	// keep a copy to restore when the operation or its first write fails.
	var pristine []byte
	known := rt.Known(pi.id)
	if !pi.persisted {
		if pristine, err = graph.MarshalSnapshot(gi); err != nil {
			return pi.wrap(op, err)
		}
	}

	rt.Connect(gi)
	gi.Variables[api.ModelKey] = api.RecordFromMap(pi.process.schema, gi.Variables)

	err = fn(ctx, gi)
	if err == nil {
		err = pi.persist(ctx, gi)
	}

	delete(gi.Variables, api.ModelKey)
	rt.Disconnect(gi)
	if err != nil && !known {
		rt.Unregister(pi.id)
	}
	switch {
	case err == nil && gi.Status.Terminal():
		pi.syncSnapshot(gi)
		pi.attached = nil
		pi.freeze(gi)
	case err == nil:
		pi.syncSnapshot(gi)
		pi.attached = nil
	case pi.persisted:
		pi.attached = nil
	default:
		restored, uerr := graph.UnmarshalSnapshot(pristine)
		if uerr != nil {
			return pi.wrap(op, multierr.Append(err, uerr))
		}
		pi.attached = restored
		pi.syncSnapshot(restored)
	}
	return pi.wrap(op, err)
}

// persist writes gi according to its status.
func (pi *processInstance) persist(ctx context.Context, gi *graph.Instance) error {
	store := pi.process.store
	switch gi.Status {
	case api.StatusCompleted, api.StatusAborted:
		if err := pi.deleteCorrelation(ctx); err != nil {
			return err
		}
		if pi.persisted {
			return store.Remove(ctx, pi)
		}
		return nil
	case api.StatusPending:
		if !pi.persisted {
			return store.Create(ctx, pi)
		}
		err := store.Create(ctx, pi)
		if errors.Is(err, api.ErrDuplicateInstance) {
			return store.Update(ctx, pi)
		}
		return err
	default:
		if !pi.persisted {
			return store.Create(ctx, pi)
		}
		return store.Update(ctx, pi)
	}
}

// inspect runs a read-only query against the current state without
// writing anything back.
func (pi *processInstance) inspect(ctx context.Context, op string, fn func(gi *graph.Instance) error) error {
	if gi, ro := pi.frozenState(); ro {
		return pi.wrap(op, fn(gi))
	}
	unlock := pi.process.store.locks.Lock(pi.id)
	defer unlock()
	if gi, ro := pi.frozenState(); ro {
		return pi.wrap(op, fn(gi))
	}
	gi, err := pi.load(ctx)
	if err != nil {
		return pi.wrap(op, err)
	}
	pi.syncSnapshot(gi)
	if pi.persisted {
		pi.attached = nil
	}
	return pi.wrap(op, fn(gi))
}

func (pi *processInstance) createCorrelation(ctx context.Context) (bool, error) {
	if pi.correlation.IsZero() || pi.correlated {
		return false, nil
	}
	if _, err := pi.process.engine.correlations.Create(ctx, pi.correlation, pi.id); err != nil {
		return false, err
	}
	pi.correlated = true
	return true, nil
}

func (pi *processInstance) deleteCorrelation(ctx context.Context) error {
	svc := pi.process.engine.correlations
	ci, ok, err := svc.FindByCorrelatedID(ctx, pi.id)
	if err != nil || !ok {
		return err
	}
	if err := svc.Delete(ctx, ci.Correlation); err != nil {
		return err
	}
	pi.correlated = false
	return nil
}

func (pi *processInstance) ID() string { return pi.id }

func (pi *processInstance) ProcessID() string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.processID
}

func (pi *processInstance) ProcessVersion() string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.processVersion
}

func (pi *processInstance) BusinessKey() string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.businessKey
}

func (pi *processInstance) Description() string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.description
}

func (pi *processInstance) ParentID() string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.parentID
}

func (pi *processInstance) RootID() string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.rootID
}

func (pi *processInstance) ReferenceID() string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.referenceID
}

func (pi *processInstance) Status() api.Status {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.status
}

func (pi *processInstance) StartDate() time.Time {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.startDate
}

func (pi *processInstance) Version() int64 {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.version
}

func (pi *processInstance) CorrelationKey() string {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return pi.correlationKey
}

// Variables returns a copy of the variables as of the last operation.
func (pi *processInstance) Variables() map[string]any {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	return maps.Clone(pi.variables)
}

func applyStartOptions(gi *graph.Instance, opts []api.StartOption) {
	var o api.StartOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.ReferenceID != "" {
		gi.ReferenceID = o.ReferenceID
	}
	if o.Headers != nil {
		gi.Headers = o.Headers
	}
}

func (pi *processInstance) requirePending(op string) error {
	if s := pi.Status(); s != api.StatusPending {
		return pi.wrap(op, fmt.Errorf("%w: cannot start instance in status %s", api.ErrIllegalState, s))
	}
	return nil
}

func (pi *processInstance) Start(ctx context.Context, opts ...api.StartOption) error {
	if err := pi.requirePending("start"); err != nil {
		return err
	}
	return pi.execute(ctx, "start", func(ctx context.Context, gi *graph.Instance) error {
		if gi.Status == api.StatusPending {
			applyStartOptions(gi, opts)
		}
		return gi.Start(ctx)
	})
}

func (pi *processInstance) StartFrom(ctx context.Context, nodeID string, opts ...api.StartOption) error {
	if err := pi.requirePending("startFrom"); err != nil {
		return err
	}
	return pi.execute(ctx, "startFrom", func(ctx context.Context, gi *graph.Instance) error {
		if gi.Status != api.StatusPending {
			return fmt.Errorf("%w: cannot start instance in status %s", api.ErrIllegalState, gi.Status)
		}
		applyStartOptions(gi, opts)
		return gi.StartFrom(ctx, nodeID)
	})
}

func (pi *processInstance) TriggerNode(ctx context.Context, nodeID string) error {
	return pi.execute(ctx, "triggerNode", func(ctx context.Context, gi *graph.Instance) error {
		return gi.TriggerNode(ctx, nodeID)
	})
}

func (pi *processInstance) CancelNodeInstance(ctx context.Context, nodeInstanceID string) error {
	return pi.execute(ctx, "cancelNodeInstance", func(ctx context.Context, gi *graph.Instance) error {
		return gi.CancelNodeInstance(ctx, nodeInstanceID)
	})
}

func (pi *processInstance) RetriggerNodeInstance(ctx context.Context, nodeInstanceID string) error {
	return pi.execute(ctx, "retriggerNodeInstance", func(ctx context.Context, gi *graph.Instance) error {
		return gi.RetriggerNodeInstance(ctx, nodeInstanceID)
	})
}

// Abort cancels the instance and removes it from the store. A read-only
// instance cannot be aborted.
func (pi *processInstance) Abort(ctx context.Context) error {
	return pi.execute(ctx, "abort", func(ctx context.Context, gi *graph.Instance) error {
		return gi.Abort(ctx)
	})
}

func (pi *processInstance) Send(ctx context.Context, sig api.Signal) error {
	return pi.execute(ctx, "signal", func(ctx context.Context, gi *graph.Instance) error {
		if sig.Exclusive && !slices.Contains(gi.EventTypes(), sig.Channel) {
			return fmt.Errorf("%w: %s", api.ErrIllegalSignal, sig.Channel)
		}
		if sig.ReferenceID != "" {
			gi.ReferenceID = sig.ReferenceID
		}
		return gi.Signal(ctx, sig.Channel, sig.Payload)
	})
}

// UpdateVariables overwrites every declared field with the value in vars,
// clearing the ones vars omits. Undeclared keys in vars are added.
func (pi *processInstance) UpdateVariables(ctx context.Context, vars map[string]any) error {
	return pi.execute(ctx, "updateVariables", func(ctx context.Context, gi *graph.Instance) error {
		next := maps.Clone(gi.Variables)
		maps.Copy(next, bindVariables(pi.process.schema, vars))
		next[api.ModelKey] = api.RecordFromMap(pi.process.schema, next)
		return gi.SetVariables(ctx, next)
	})
}

// UpdateVariablesPartially merges vars into the current variables; only
// non-empty values override.
func (pi *processInstance) UpdateVariablesPartially(ctx context.Context, vars map[string]any) error {
	return pi.execute(ctx, "updateVariablesPartially", func(ctx context.Context, gi *graph.Instance) error {
		next := maps.Clone(gi.Variables)
		delete(next, api.ModelKey)
		patch := maps.Clone(vars)
		delete(patch, api.ModelKey)
		if err := mergo.Merge(&next, patch, mergo.WithOverride); err != nil {
			return fmt.Errorf("merge variables: %w", err)
		}
		next[api.ModelKey] = api.RecordFromMap(pi.process.schema, next)
		return gi.SetVariables(ctx, next)
	})
}

func (pi *processInstance) CompleteWorkItem(ctx context.Context, id string, results map[string]any, policies ...api.Policy) error {
	return pi.execute(ctx, "completeWorkItem", func(ctx context.Context, gi *graph.Instance) error {
		return gi.CompleteWorkItem(ctx, id, results, policies...)
	})
}

func (pi *processInstance) TransitionWorkItem(ctx context.Context, id string, t api.Transition) (*api.WorkItem, error) {
	var out *api.WorkItem
	err := pi.execute(ctx, "transitionWorkItem", func(ctx context.Context, gi *graph.Instance) error {
		var err error
		out, err = gi.TransitionWorkItem(ctx, id, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (pi *processInstance) AbortWorkItem(ctx context.Context, id string, policies ...api.Policy) error {
	return pi.execute(ctx, "abortWorkItem", func(ctx context.Context, gi *graph.Instance) error {
		return gi.AbortWorkItem(ctx, id, policies...)
	})
}

func (pi *processInstance) UpdateWorkItem(ctx context.Context, id string, fn func(wi *api.WorkItem) error, policies ...api.Policy) (*api.WorkItem, error) {
	var out *api.WorkItem
	err := pi.execute(ctx, "updateWorkItem", func(ctx context.Context, gi *graph.Instance) error {
		var err error
		out, err = gi.UpdateWorkItem(ctx, id, fn, policies...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WorkItem returns the live work item id. A policy violation is reported
// as api.ErrWorkItemNotFound (still matching the policy error).
func (pi *processInstance) WorkItem(ctx context.Context, id string, policies ...api.Policy) (*api.WorkItem, error) {
	var out *api.WorkItem
	err := pi.inspect(ctx, "workItem", func(gi *graph.Instance) error {
		wi, err := gi.WorkItem(id, policies...)
		if err != nil && !errors.Is(err, api.ErrWorkItemNotFound) {
			return fmt.Errorf("%w: %w", api.ErrWorkItemNotFound, err)
		}
		out = wi
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WorkItems returns the live work items that pass every policy and filter.
func (pi *processInstance) WorkItems(ctx context.Context, filter func(wi *api.WorkItem) bool, policies ...api.Policy) ([]*api.WorkItem, error) {
	var out []*api.WorkItem
	err := pi.inspect(ctx, "workItems", func(gi *graph.Instance) error {
		for _, wi := range gi.WorkItems() {
			if api.EnforceAll(wi, policies...) != nil {
				continue
			}
			if filter != nil && !filter(wi) {
				continue
			}
			out = append(out, wi)
		}
		return nil
	})
	return out, err
}

func (pi *processInstance) NodeInstances(ctx context.Context) ([]api.NodeInstance, error) {
	var out []api.NodeInstance
	err := pi.inspect(ctx, "nodeInstances", func(gi *graph.Instance) error {
		out = gi.PublicNodeInstances(pi.process.def)
		return nil
	})
	return out, err
}

func (pi *processInstance) EventTypes(ctx context.Context) ([]string, error) {
	var out []string
	err := pi.inspect(ctx, "eventTypes", func(gi *graph.Instance) error {
		out = gi.EventTypes()
		return nil
	})
	return out, err
}

func (pi *processInstance) Failure() (api.Failure, bool) {
	pi.mu.RLock()
	defer pi.mu.RUnlock()
	if pi.status != api.StatusError {
		return nil, false
	}
	return &failure{
		pi:             pi,
		nodeID:         pi.errNodeID,
		nodeInstanceID: pi.errNodeInstID,
		message:        pi.errMessage,
		cause:          pi.errCause,
	}, true
}

type failure struct {
	pi             *processInstance
	nodeID         string
	nodeInstanceID string
	message        string
	cause          string
}

func (f *failure) FailedNodeID() string         { return f.nodeID }
func (f *failure) FailedNodeInstanceID() string { return f.nodeInstanceID }
func (f *failure) ErrorMessage() string         { return f.message }
func (f *failure) ErrorCause() string           { return f.cause }

func (f *failure) Retrigger(ctx context.Context) error {
	return f.pi.execute(ctx, "retrigger", func(ctx context.Context, gi *graph.Instance) error {
		return gi.Retrigger(ctx)
	})
}

func (f *failure) Skip(ctx context.Context) error {
	return f.pi.execute(ctx, "skip", func(ctx context.Context, gi *graph.Instance) error {
		return gi.Skip(ctx)
	})
}
