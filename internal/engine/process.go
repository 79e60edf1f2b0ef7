package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/petrijr/procflow/internal/graph"
	"github.com/petrijr/procflow/internal/jobs"
	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/internal/uow"
	"github.com/petrijr/procflow/internal/workitem"
	"github.com/petrijr/procflow/pkg/api"
)

// completionTopic carries instance-completed messages from children to
// their parents.
const completionTopic = "procflow.instance.completed"

type completionMessage struct {
	ProcessID     string
	InstanceID    string
	ParentProcess api.ProcessRef
	ParentID      string
	Variables     map[string]any
}

func newInstanceID() string {
	return uuid.NewString()
}

// Process wraps a definition, its execution runtime and its instance
// store.
type Process struct {
	engine  *Engine
	def     *api.Definition
	schema  *api.Schema
	runtime *graph.Runtime
	store   *Store
	logger  *slog.Logger

	mu       sync.Mutex
	active   bool
	jobIDs   []string
	resolver *resolver
	stopSub  context.CancelFunc
}

var (
	_ api.Process             = (*Process)(nil)
	_ graph.SubProcessStarter = (*Process)(nil)
)

func newProcess(e *Engine, def *api.Definition) *Process {
	p := &Process{
		engine: e,
		def:    def,
		schema: def.Schema(),
		logger: e.logger.With(slog.String("process", def.ID)),
	}
	opts := []graph.Option{
		graph.WithDefaultHandler(workitem.NewDefaultHandler()),
		graph.WithHandler(workitem.NewHumanTaskHandler()),
		graph.WithListener(graph.ListenerFunc(p.onEvent)),
		graph.WithSubProcessStarter(p),
		graph.WithClock(e.now),
	}
	for _, h := range e.handlers {
		opts = append(opts, graph.WithHandler(h))
	}
	p.runtime = graph.NewRuntime(def, opts...)
	p.store = newStore(p, e.backend, e.locks)
	return p
}

func (p *Process) ID() string                  { return p.def.ID }
func (p *Process) Name() string                { return p.def.Name }
func (p *Process) Version() string             { return p.def.Version }
func (p *Process) Type() string                { return p.def.Type }
func (p *Process) Definition() *api.Definition { return p.def }

// Ref returns the id/version pair of the process.
func (p *Process) Ref() api.ProcessRef {
	return api.ProcessRef{ID: p.def.ID, Version: p.def.Version}
}

// Instances returns the process instance store.
func (p *Process) Instances() api.ProcessInstances { return p.store }

// Store returns the concrete instance store.
func (p *Process) Store() *Store { return p.store }

// Runtime returns the execution runtime of the process.
func (p *Process) Runtime() *graph.Runtime { return p.runtime }

// Active reports whether the process is activated.
func (p *Process) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// Activate schedules the start timers, registers the process as an
// instance resolver when the hub supports it and subscribes to child
// completions. Activating an active process is a no-op.
func (p *Process) Activate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active {
		return nil
	}

	var jobIDs []string
	for _, t := range p.def.StartTimers {
		exp, err := jobs.ParseExpiration(t.Kind, t.Expression)
		if err != nil {
			p.cancelJobs(ctx, jobIDs)
			return fmt.Errorf("activate process %s: timer on %s: %w", p.ID(), t.NodeID, err)
		}
		id, err := p.engine.jobs.ScheduleJob(ctx, api.JobDescription{
			ExpirationTime: exp,
			ProcessID:      p.ID(),
			NodeID:         t.NodeID,
			Fire:           p.timerFired(t.NodeID),
		})
		if err != nil {
			p.cancelJobs(ctx, jobIDs)
			return fmt.Errorf("activate process %s: timer on %s: %w", p.ID(), t.NodeID, err)
		}
		jobIDs = append(jobIDs, id)
	}

	subCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	if err := p.engine.hub.Subscribe(subCtx, completionTopic, p.onChildCompleted); err != nil {
		stop()
		p.cancelJobs(ctx, jobIDs)
		return fmt.Errorf("activate process %s: %w", p.ID(), err)
	}
	if sr, ok := p.engine.hub.(api.SupportsInstanceResolution); ok {
		p.resolver = &resolver{p: p}
		sr.AddProcessInstanceResolver(p.resolver)
	}

	p.jobIDs = jobIDs
	p.stopSub = stop
	p.active = true
	p.logger.Info("process_activated", slog.Int("timers", len(jobIDs)))
	return nil
}

// Deactivate undoes Activate. Deactivating an inactive process is a
// no-op.
func (p *Process) Deactivate(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return nil
	}
	p.cancelJobs(ctx, p.jobIDs)
	p.jobIDs = nil
	if p.resolver != nil {
		if sr, ok := p.engine.hub.(api.SupportsInstanceResolution); ok {
			sr.RemoveProcessInstanceResolver(p.resolver)
		}
		p.resolver = nil
	}
	p.stopSub()
	p.stopSub = nil
	p.active = false
	p.logger.Info("process_deactivated")
	return nil
}

func (p *Process) cancelJobs(ctx context.Context, ids []string) {
	for _, id := range ids {
		if _, err := p.engine.jobs.CancelJob(ctx, id); err != nil {
			p.logger.Warn("cancel_job_failed", slog.String("job_id", id), slog.String("error", err.Error()))
		}
	}
}

func (p *Process) timerFired(nodeID string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return uow.Run(ctx, func(ctx context.Context) error {
			pi := newProcessInstance(p, nil, api.CreateOptions{})
			return pi.StartFrom(ctx, nodeID, api.WithTrigger("timer"))
		})
	}
}

// CreateInstance returns a PENDING instance. Nothing is stored until its
// first operation.
func (p *Process) CreateInstance(vars map[string]any, opts ...api.CreateOption) (api.ProcessInstance, error) {
	var o api.CreateOptions
	for _, opt := range opts {
		opt(&o)
	}
	if _, ok := vars[api.ModelKey]; ok {
		return nil, fmt.Errorf("variable name %q is reserved", api.ModelKey)
	}
	return newProcessInstance(p, vars, o), nil
}

// Send delivers sig to every instance waiting for its channel and starts a
// new instance from every start node listening on it.
func (p *Process) Send(ctx context.Context, sig api.Signal) error {
	return uow.Run(ctx, func(ctx context.Context) error {
		waiting, err := p.waitingFor(ctx, sig.Channel)
		if err != nil {
			return err
		}
		var errs error
		for _, ro := range waiting {
			pi, err := p.store.find(ctx, ro.ID(), api.Mutable)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			errs = multierr.Append(errs, pi.Send(ctx, sig))
		}

		for i := range p.def.Nodes {
			n := &p.def.Nodes[i]
			if n.Kind != api.NodeStart || n.Event != sig.Channel {
				continue
			}
			pi := newProcessInstance(p, signalVariables(n, sig.Payload), api.CreateOptions{})
			errs = multierr.Append(errs, pi.StartFrom(ctx, n.ID,
				api.WithTrigger(sig.Channel),
				api.WithReferenceID(sig.ReferenceID),
			))
		}
		return errs
	})
}

// signalVariables maps a start-signal payload to initial variables the way
// node outputs are applied.
func signalVariables(n *api.Node, payload any) map[string]any {
	m, isMap := payload.(map[string]any)
	if len(n.Outputs) == 0 {
		if isMap {
			return maps.Clone(m)
		}
		return nil
	}
	out := make(map[string]any, len(n.Outputs))
	for from, to := range n.Outputs {
		switch {
		case from == "":
			out[to] = payload
		case isMap:
			if v, ok := m[from]; ok {
				out[to] = v
			}
		}
	}
	return out
}

func (p *Process) waitingFor(ctx context.Context, eventType string) ([]api.ProcessInstance, error) {
	all, err := p.store.Stream(ctx, api.ReadOnly)
	if err != nil {
		return nil, err
	}
	var out []api.ProcessInstance
	for _, pi := range all {
		types, err := pi.EventTypes(ctx)
		if err != nil {
			return nil, err
		}
		if slices.Contains(types, eventType) {
			out = append(out, pi)
		}
	}
	return out, nil
}

// FindByCorrelation returns the mutable instance correlated with c.
func (p *Process) FindByCorrelation(ctx context.Context, c api.Correlation) (api.ProcessInstance, error) {
	ci, found, err := p.engine.correlations.Find(ctx, c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: correlation %s", api.ErrInstanceNotFound, c.Encoded())
	}
	return p.store.FindByID(ctx, ci.CorrelatedID, api.Mutable)
}

// StartSubProcess creates and starts an instance of node.SubProcessID as a
// child of parent. The child inherits the parent's variables.
func (p *Process) StartSubProcess(ctx context.Context, parent *graph.Instance, node *api.Node) (string, error) {
	child, err := p.engine.Process(node.SubProcessID)
	if err != nil {
		return "", err
	}
	root := parent.RootID
	if root == "" {
		root = parent.ID
	}
	vars := maps.Clone(parent.Variables)
	delete(vars, api.ModelKey)
	pi := newProcessInstance(child, vars, api.CreateOptions{
		BusinessKey:   parent.BusinessKey,
		ParentProcess: p.Ref(),
		ParentID:      parent.ID,
		RootID:        root,
	})
	if err := pi.Start(ctx, api.WithTrigger("subprocess")); err != nil {
		return "", err
	}
	return pi.id, nil
}

// onEvent records runtime events when the unit of work commits and
// publishes child completions.
func (p *Process) onEvent(ctx context.Context, inst *graph.Instance, ev api.ProcessEvent) {
	e := p.engine
	err := uow.Perform(ctx, func(ctx context.Context) error {
		api.NotifyObserver(ctx, e.observer, ev)
		return e.events.AppendEvent(ctx, ev)
	})
	if err != nil {
		p.logger.Error("event_append_failed",
			slog.String("instance_id", ev.InstanceID),
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}

	if ev.Type != api.EventInstanceCompleted || inst.ParentID == "" {
		return
	}
	vars := maps.Clone(inst.Variables)
	delete(vars, api.ModelKey)
	msg := completionMessage{
		ProcessID:     inst.ProcessID,
		InstanceID:    inst.ID,
		ParentProcess: api.ProcessRef{ID: inst.ParentProcessID, Version: inst.ParentProcessVersion},
		ParentID:      inst.ParentID,
		Variables:     vars,
	}
	err = uow.Perform(ctx, func(ctx context.Context) error {
		payload, err := persistence.Marshal(&msg)
		if err != nil {
			return err
		}
		return e.hub.Publish(ctx, completionTopic, payload)
	})
	if err != nil {
		p.logger.Error("completion_publish_failed",
			slog.String("instance_id", inst.ID),
			slog.String("parent_id", inst.ParentID),
			slog.String("error", err.Error()),
		)
	}
}

// onChildCompleted signals the parent of a completed child when the parent
// belongs to this process. The parent is looked up in the runtime's
// instance registry first and in the store second; a parent found in
// neither is logged and the completion dropped.
func (p *Process) onChildCompleted(ctx context.Context, payload []byte) error {
	var msg completionMessage
	if err := persistence.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode completion message: %w", err)
	}
	owner := msg.ParentProcess
	if owner.ID != "" && (owner.ID != p.ID() || (owner.Version != "" && owner.Version != p.Version())) {
		return nil
	}

	known := p.runtime.Known(msg.ParentID)
	if !known {
		exists, err := p.store.Exists(ctx, msg.ParentID)
		if err != nil {
			return err
		}
		if !exists {
			if owner.ID == "" {
				// Another process may own it.
				return nil
			}
			p.engine.dropped.Add(1)
			p.logger.Warn("parent_instance_not_found",
				slog.String("instance_id", msg.InstanceID),
				slog.String("parent_id", msg.ParentID),
			)
			return nil
		}
	}

	// The handle reloads under the parent's lock, so a parent whose
	// operation is still running is signalled after it has been stored.
	parent := p.store.handle(msg.ParentID)
	err := uow.Run(ctx, func(ctx context.Context) error {
		return parent.Send(ctx, api.Signal{
			Channel: api.CompletedEventType(msg.InstanceID),
			Payload: msg.Variables,
		})
	})
	if errors.Is(err, api.ErrInstanceNotFound) {
		p.engine.dropped.Add(1)
		p.logger.Warn("parent_instance_not_found",
			slog.String("instance_id", msg.InstanceID),
			slog.String("parent_id", msg.ParentID),
		)
		return nil
	}
	return err
}

// resolver answers signal-hub lookups for the process.
type resolver struct {
	p *Process
}

var _ api.InstanceResolver = (*resolver)(nil)

// WaitingForEvents reads read-only snapshots; nothing is reattached.
func (r *resolver) WaitingForEvents(ctx context.Context, eventType string) ([]api.ProcessInstance, error) {
	return r.p.waitingFor(ctx, eventType)
}

func (r *resolver) FindByID(ctx context.Context, id string) (api.ProcessInstance, error) {
	return r.p.store.FindByID(ctx, id, api.Mutable)
}
