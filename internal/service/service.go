// Package service is the boundary-facing façade of the engine. Every
// mutating call runs in a unit of work and every call is traced.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/procflow/internal/engine"
	"github.com/petrijr/procflow/internal/uow"
	"github.com/petrijr/procflow/pkg/api"
)

const tracerName = "github.com/petrijr/procflow/internal/service"

// Span attribute keys.
const (
	ProcessIDKey      = "procflow.process.id"
	ProcessVersionKey = "procflow.process.version"
	InstanceIDKey     = "procflow.instance.id"
	WorkItemIDKey     = "procflow.workitem.id"
	SignalKey         = "procflow.signal"
	TaskNameKey       = "procflow.task.name"
)

// Option configures a ProcessService.
type Option func(*ProcessService)

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *ProcessService) { s.tracer = t }
}

// WithLogger sets the logger; slog.Default() otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(s *ProcessService) { s.logger = l }
}

// ProcessService exposes instance and work-item operations by process id.
type ProcessService struct {
	engine *engine.Engine
	tracer trace.Tracer
	logger *slog.Logger
}

// New returns a service over e.
func New(e *engine.Engine, opts ...Option) *ProcessService {
	s := &ProcessService{engine: e}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("module", "process_service")
	return s
}

// CreateRequest carries the inputs of CreateProcessInstance.
type CreateRequest struct {
	BusinessKey string
	Variables   map[string]any
	Correlation api.Correlation
	// StartFromNode starts at the node with this id or name instead of the
	// start nodes.
	StartFromNode string
	Trigger       string
	ReferenceID   string
	Headers       map[string][]string
}

func (s *ProcessService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func setError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(attrs...))
}

// end records err on span and ends it.
func end(span trace.Span, err error) {
	if err != nil {
		setError(span, err)
	}
	span.End()
}

// CreateProcessInstance creates an instance of the latest version of
// processID and starts it in one unit of work.
func (s *ProcessService) CreateProcessInstance(ctx context.Context, processID string, req CreateRequest) (pi api.ProcessInstance, err error) {
	ctx, span := s.startSpan(ctx, "CreateProcessInstance", attribute.String(ProcessIDKey, processID))
	defer func() { end(span, err) }()

	p, err := s.engine.Process(processID)
	if err != nil {
		return nil, err
	}
	startOpts := []api.StartOption{
		api.WithTrigger(req.Trigger),
		api.WithReferenceID(req.ReferenceID),
		api.WithHeaders(req.Headers),
	}
	err = uow.Run(ctx, func(ctx context.Context) error {
		var err error
		pi, err = p.CreateInstance(req.Variables,
			api.WithBusinessKey(req.BusinessKey),
			api.WithCorrelation(req.Correlation),
		)
		if err != nil {
			return err
		}
		if req.StartFromNode != "" {
			return pi.StartFrom(ctx, req.StartFromNode, startOpts...)
		}
		return pi.Start(ctx, startOpts...)
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String(InstanceIDKey, pi.ID()),
		attribute.String(ProcessVersionKey, pi.ProcessVersion()),
	)
	s.logger.DebugContext(ctx, "instance_created",
		slog.String("process", processID),
		slog.String("instance_id", pi.ID()),
		slog.String("status", pi.Status().String()),
	)
	return pi, nil
}

// find looks id up in every registered version of processID, newest
// first.
func (s *ProcessService) find(ctx context.Context, processID, id string, mode api.ReadMode) (api.ProcessInstance, *engine.Process, error) {
	versions := s.engine.Versions(processID)
	if len(versions) == 0 {
		return nil, nil, fmt.Errorf("%w: %s", api.ErrProcessNotFound, processID)
	}
	for _, v := range slices.Backward(versions) {
		p, err := s.engine.ProcessVersion(processID, v)
		if err != nil {
			return nil, nil, err
		}
		pi, err := p.Instances().FindByID(ctx, id, mode)
		if err == nil {
			return pi, p, nil
		}
		if !errors.Is(err, api.ErrInstanceNotFound) {
			return nil, nil, err
		}
	}
	return nil, nil, api.NewInstanceError("find", processID, id, api.ErrInstanceNotFound)
}

// GetProcessInstance returns a read-only view of the instance.
func (s *ProcessService) GetProcessInstance(ctx context.Context, processID, id string) (pi api.ProcessInstance, err error) {
	ctx, span := s.startSpan(ctx, "GetProcessInstance",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
	)
	defer func() { end(span, err) }()

	pi, _, err = s.find(ctx, processID, id, api.ReadOnly)
	return pi, err
}

// mutate runs fn on the mutable instance inside a unit of work and returns
// the variables afterwards.
func (s *ProcessService) mutate(ctx context.Context, processID, id string, fn func(ctx context.Context, pi api.ProcessInstance) error) (map[string]any, error) {
	var vars map[string]any
	err := uow.Run(ctx, func(ctx context.Context) error {
		pi, _, err := s.find(ctx, processID, id, api.Mutable)
		if err != nil {
			return err
		}
		if err := fn(ctx, pi); err != nil {
			return err
		}
		vars = pi.Variables()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vars, nil
}

// SignalProcessInstance delivers signal to the instance and returns its
// variables afterwards. It fails with api.ErrIllegalSignal unless the
// instance is currently waiting for signal.
func (s *ProcessService) SignalProcessInstance(ctx context.Context, processID, id, signal string, payload any) (vars map[string]any, err error) {
	ctx, span := s.startSpan(ctx, "SignalProcessInstance",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
		attribute.String(SignalKey, signal),
	)
	defer func() { end(span, err) }()

	return s.mutate(ctx, processID, id, func(ctx context.Context, pi api.ProcessInstance) error {
		waiting, err := s.isWaiting(ctx, pi, signal)
		if err != nil {
			return err
		}
		if !waiting {
			return api.NewInstanceError("signal", processID, id, fmt.Errorf("%w: %s", api.ErrIllegalSignal, signal))
		}
		// Another signal may consume the wait between the check above and
		// delivery; Exclusive repeats the check under the instance lock.
		return pi.Send(ctx, api.Signal{Channel: signal, Payload: payload, Exclusive: true})
	})
}

// isWaiting asks the hub who waits for signal; hubs without instance
// resolution fall back to the instance's own event types.
func (s *ProcessService) isWaiting(ctx context.Context, pi api.ProcessInstance, signal string) (bool, error) {
	if sr, ok := s.engine.Hub().(api.SupportsInstanceResolution); ok {
		waiting, err := sr.WaitingForEvents(ctx, signal)
		if err != nil {
			return false, err
		}
		return slices.ContainsFunc(waiting, func(w api.ProcessInstance) bool { return w.ID() == pi.ID() }), nil
	}
	types, err := pi.EventTypes(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(types, signal), nil
}

// DeleteProcessInstance aborts the instance and returns its last
// variables.
func (s *ProcessService) DeleteProcessInstance(ctx context.Context, processID, id string) (vars map[string]any, err error) {
	ctx, span := s.startSpan(ctx, "DeleteProcessInstance",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
	)
	defer func() { end(span, err) }()

	return s.mutate(ctx, processID, id, func(ctx context.Context, pi api.ProcessInstance) error {
		return pi.Abort(ctx)
	})
}

// AbortProcessInstance aborts the instance and returns its final
// read-only state.
func (s *ProcessService) AbortProcessInstance(ctx context.Context, processID, id string) (out api.ProcessInstance, err error) {
	ctx, span := s.startSpan(ctx, "AbortProcessInstance",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
	)
	defer func() { end(span, err) }()

	_, err = s.mutate(ctx, processID, id, func(ctx context.Context, pi api.ProcessInstance) error {
		out = pi
		return pi.Abort(ctx)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProcessInstance replaces the declared variables.
func (s *ProcessService) UpdateProcessInstance(ctx context.Context, processID, id string, vars map[string]any) (out map[string]any, err error) {
	ctx, span := s.startSpan(ctx, "UpdateProcessInstance",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
	)
	defer func() { end(span, err) }()

	return s.mutate(ctx, processID, id, func(ctx context.Context, pi api.ProcessInstance) error {
		return pi.UpdateVariables(ctx, vars)
	})
}

// UpdatePartialProcessInstance merges vars into the variables.
func (s *ProcessService) UpdatePartialProcessInstance(ctx context.Context, processID, id string, vars map[string]any) (out map[string]any, err error) {
	ctx, span := s.startSpan(ctx, "UpdatePartialProcessInstance",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
	)
	defer func() { end(span, err) }()

	return s.mutate(ctx, processID, id, func(ctx context.Context, pi api.ProcessInstance) error {
		return pi.UpdateVariablesPartially(ctx, vars)
	})
}

// GetWorkItems lists the live work items the policies allow.
func (s *ProcessService) GetWorkItems(ctx context.Context, processID, id string, policies ...api.Policy) (items []*api.WorkItem, err error) {
	ctx, span := s.startSpan(ctx, "GetWorkItems",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
	)
	defer func() { end(span, err) }()

	pi, _, err := s.find(ctx, processID, id, api.ReadOnly)
	if err != nil {
		return nil, err
	}
	return pi.WorkItems(ctx, nil, policies...)
}

// GetWorkItem returns one work item; a policy violation reads as
// api.ErrWorkItemNotFound.
func (s *ProcessService) GetWorkItem(ctx context.Context, processID, id, workItemID string, policies ...api.Policy) (wi *api.WorkItem, err error) {
	ctx, span := s.startSpan(ctx, "GetWorkItem",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
		attribute.String(WorkItemIDKey, workItemID),
	)
	defer func() { end(span, err) }()

	pi, _, err := s.find(ctx, processID, id, api.ReadOnly)
	if err != nil {
		return nil, err
	}
	return pi.WorkItem(ctx, workItemID, policies...)
}

// SignalWorkItem triggers the task node named taskName and returns the work
// item it created.
func (s *ProcessService) SignalWorkItem(ctx context.Context, processID, id, taskName string, policies ...api.Policy) (wi *api.WorkItem, err error) {
	ctx, span := s.startSpan(ctx, "SignalWorkItem",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
		attribute.String(TaskNameKey, taskName),
	)
	defer func() { end(span, err) }()

	_, err = s.mutate(ctx, processID, id, func(ctx context.Context, pi api.ProcessInstance) error {
		p, err := s.engine.ProcessVersion(processID, pi.ProcessVersion())
		if err != nil {
			return err
		}
		node, err := taskNode(p.Definition(), taskName)
		if err != nil {
			return err
		}
		before, err := pi.WorkItems(ctx, nil)
		if err != nil {
			return err
		}
		if err := pi.TriggerNode(ctx, node.ID); err != nil {
			return err
		}
		created, err := pi.WorkItems(ctx, func(w *api.WorkItem) bool {
			return w.NodeID == node.ID && !slices.ContainsFunc(before, func(b *api.WorkItem) bool { return b.ID == w.ID })
		}, policies...)
		if err != nil {
			return err
		}
		if len(created) == 0 {
			return fmt.Errorf("%w: no work item created for task %s", api.ErrWorkItemNotFound, taskName)
		}
		wi = created[0]
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String(WorkItemIDKey, wi.ID))
	return wi, nil
}

func taskNode(def *api.Definition, taskName string) (*api.Node, error) {
	for _, n := range def.TaskNodes() {
		if n.Name == taskName || n.ID == taskName {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: task %s in process %s", api.ErrNodeNotFound, taskName, def.ID)
}

// TransitionWorkItem moves a work item to phaseID through its handler.
func (s *ProcessService) TransitionWorkItem(ctx context.Context, processID, id, workItemID, phaseID string, data map[string]any, policies ...api.Policy) (wi *api.WorkItem, err error) {
	ctx, span := s.startSpan(ctx, "TransitionWorkItem",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
		attribute.String(WorkItemIDKey, workItemID),
		attribute.String("procflow.workitem.phase", phaseID),
	)
	defer func() { end(span, err) }()

	_, err = s.mutate(ctx, processID, id, func(ctx context.Context, pi api.ProcessInstance) error {
		current, err := pi.WorkItem(ctx, workItemID, policies...)
		if err != nil {
			return err
		}
		h, err := s.handler(processID, pi.ProcessVersion(), current.HandlerName)
		if err != nil {
			return err
		}
		t, err := h.NewTransition(phaseID, current.PhaseStatus, data, policies...)
		if err != nil {
			return err
		}
		wi, err = pi.TransitionWorkItem(ctx, workItemID, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wi, nil
}

func (s *ProcessService) handler(processID, version, name string) (api.WorkItemHandler, error) {
	p, err := s.engine.ProcessVersion(processID, version)
	if err != nil {
		return nil, err
	}
	h := p.Runtime().Handler(name)
	if h == nil {
		return nil, fmt.Errorf("%w: no work item handler for %q", api.ErrUnsupportedOperation, name)
	}
	return h, nil
}

// SetWorkItemOutput validates output against the task's output schema and
// stores it as the work item's results without completing it.
func (s *ProcessService) SetWorkItemOutput(ctx context.Context, processID, id, workItemID string, output map[string]any, policies ...api.Policy) (wi *api.WorkItem, err error) {
	ctx, span := s.startSpan(ctx, "SetWorkItemOutput",
		attribute.String(ProcessIDKey, processID),
		attribute.String(InstanceIDKey, id),
		attribute.String(WorkItemIDKey, workItemID),
	)
	defer func() { end(span, err) }()

	_, err = s.mutate(ctx, processID, id, func(ctx context.Context, pi api.ProcessInstance) error {
		p, err := s.engine.ProcessVersion(processID, pi.ProcessVersion())
		if err != nil {
			return err
		}
		wi, err = pi.UpdateWorkItem(ctx, workItemID, func(w *api.WorkItem) error {
			node, ok := p.Definition().Node(w.NodeID)
			if ok && node.OutputSchema != nil {
				if err := validateOutput(node.OutputSchema, output); err != nil {
					return err
				}
			}
			if w.Results == nil {
				w.Results = make(map[string]any, len(output))
			}
			for k, v := range output {
				w.Results[k] = v
			}
			return nil
		}, policies...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return wi, nil
}

func validateOutput(schema map[string]any, output map[string]any) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(output))
	if err != nil {
		return fmt.Errorf("%w: %w", api.ErrInvalidWorkItemOutput, err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", api.ErrInvalidWorkItemOutput, strings.Join(msgs, "; "))
	}
	return nil
}

// GetWorkItemSchemaAndPhases describes the task named taskName of the
// latest version of processID.
func (s *ProcessService) GetWorkItemSchemaAndPhases(ctx context.Context, processID, taskName string) (out api.WorkItemSchema, err error) {
	_, span := s.startSpan(ctx, "GetWorkItemSchemaAndPhases",
		attribute.String(ProcessIDKey, processID),
		attribute.String(TaskNameKey, taskName),
	)
	defer func() { end(span, err) }()

	p, err := s.engine.Process(processID)
	if err != nil {
		return out, err
	}
	node, err := taskNode(p.Definition(), taskName)
	if err != nil {
		return out, err
	}
	out = api.WorkItemSchema{
		Name:         node.Name,
		InputSchema:  node.InputSchema,
		OutputSchema: node.OutputSchema,
	}
	if ph, ok := p.Runtime().Handler(node.TaskName).(interface{ Phases() []string }); ok {
		out.Phases = ph.Phases()
	}
	return out, nil
}

// MigrateProcessInstances moves the given instances of processID/version
// to target.
func (s *ProcessService) MigrateProcessInstances(ctx context.Context, source, target api.ProcessRef, ids ...string) (n int, err error) {
	ctx, span := s.startSpan(ctx, "MigrateProcessInstances",
		attribute.String(ProcessIDKey, source.ID),
		attribute.String(ProcessVersionKey, source.Version),
		attribute.String("procflow.target.id", target.ID),
		attribute.String("procflow.target.version", target.Version),
		attribute.StringSlice("procflow.instance.ids", ids),
	)
	defer func() { end(span, err) }()

	if len(ids) == 0 {
		return 0, nil
	}
	return s.migrate(ctx, source, target, ids)
}

// MigrateAll moves every instance of processID/version to target.
func (s *ProcessService) MigrateAll(ctx context.Context, source, target api.ProcessRef) (n int, err error) {
	ctx, span := s.startSpan(ctx, "MigrateAll",
		attribute.String(ProcessIDKey, source.ID),
		attribute.String(ProcessVersionKey, source.Version),
		attribute.String("procflow.target.id", target.ID),
		attribute.String("procflow.target.version", target.Version),
	)
	defer func() { end(span, err) }()

	return s.migrate(ctx, source, target, nil)
}

func (s *ProcessService) migrate(ctx context.Context, source, target api.ProcessRef, ids []string) (int, error) {
	p, err := s.engine.ProcessVersion(source.ID, source.Version)
	if err != nil {
		return 0, err
	}
	n, err := p.Instances().Migrate(ctx, target, ids...)
	if err != nil {
		return n, err
	}
	s.logger.InfoContext(ctx, "instances_migrated",
		slog.String("process", source.ID),
		slog.String("from_version", p.Version()),
		slog.String("to_process", target.ID),
		slog.String("to_version", target.Version),
		slog.Int("count", n),
	)
	return n, nil
}

// FindByCorrelation returns the live instance of processID correlated with
// c.
func (s *ProcessService) FindByCorrelation(ctx context.Context, processID string, c api.Correlation) (pi api.ProcessInstance, err error) {
	ctx, span := s.startSpan(ctx, "FindByCorrelation",
		attribute.String(ProcessIDKey, processID),
		attribute.String("procflow.correlation", c.Encoded()),
	)
	defer func() { end(span, err) }()

	for _, v := range slices.Backward(s.engine.Versions(processID)) {
		p, err := s.engine.ProcessVersion(processID, v)
		if err != nil {
			return nil, err
		}
		pi, err = p.FindByCorrelation(ctx, c)
		if err == nil {
			return pi, nil
		}
		if !errors.Is(err, api.ErrInstanceNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: correlation %s", api.ErrInstanceNotFound, c.Encoded())
}
