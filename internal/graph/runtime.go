// Package graph is the in-memory execution runtime: it interprets a
// process definition against an attached Instance.
//
// The runtime is not safe for concurrent use on the same Instance; the
// engine serializes calls per instance id. The active set and the instance
// registry are safe for concurrent use.
package graph

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/procflow/pkg/api"
)

// Listener receives runtime events synchronously, on the goroutine that
// runs the operation.
type Listener interface {
	OnEvent(ctx context.Context, inst *Instance, ev api.ProcessEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, inst *Instance, ev api.ProcessEvent)

func (f ListenerFunc) OnEvent(ctx context.Context, inst *Instance, ev api.ProcessEvent) {
	f(ctx, inst, ev)
}

// SubProcessStarter creates and starts child instances for sub-process
// nodes and returns the child id.
type SubProcessStarter interface {
	StartSubProcess(ctx context.Context, parent *Instance, node *api.Node) (string, error)
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithHandler registers a work-item handler under its name.
func WithHandler(h api.WorkItemHandler) Option {
	return func(r *Runtime) { r.handlers[h.Name()] = h }
}

// WithDefaultHandler sets the handler used for unknown handler names.
func WithDefaultHandler(h api.WorkItemHandler) Option {
	return func(r *Runtime) { r.defaultHandler = h }
}

// WithListener adds a runtime event listener.
func WithListener(l Listener) Option {
	return func(r *Runtime) { r.listeners = append(r.listeners, l) }
}

// WithSubProcessStarter sets the starter used by sub-process nodes.
func WithSubProcessStarter(s SubProcessStarter) Option {
	return func(r *Runtime) { r.subprocesses = s }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Runtime) { r.now = now }
}

// Runtime executes instances of one definition.
type Runtime struct {
	def            *api.Definition
	handlers       map[string]api.WorkItemHandler
	defaultHandler api.WorkItemHandler
	listeners      []Listener
	subprocesses   SubProcessStarter
	now            func() time.Time

	mu sync.Mutex
	// active holds instances with an operation in flight.
	active map[string]*Instance
	// registry is the instance manager: ids of started, non-terminal
	// instances known to this runtime.
	registry map[string]struct{}
}

// NewRuntime builds a runtime bound to def.
func NewRuntime(def *api.Definition, opts ...Option) *Runtime {
	r := &Runtime{
		def:      def,
		handlers: make(map[string]api.WorkItemHandler),
		now:      time.Now,
		active:   make(map[string]*Instance),
		registry: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Definition returns the bound definition.
func (r *Runtime) Definition() *api.Definition { return r.def }

// AddListener registers l after construction.
func (r *Runtime) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// Connect binds inst to the runtime and adds it to the active set.
func (r *Runtime) Connect(inst *Instance) {
	inst.rt = r
	r.mu.Lock()
	r.active[inst.ID] = inst
	r.mu.Unlock()
}

// Disconnect removes the instance from the active set and unbinds it.
func (r *Runtime) Disconnect(inst *Instance) {
	r.mu.Lock()
	delete(r.active, inst.ID)
	r.mu.Unlock()
	inst.rt = nil
}

// IsActive reports whether an operation on id is in flight.
func (r *Runtime) IsActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[id]
	return ok
}

// ActiveCount returns the size of the active set.
func (r *Runtime) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Register adds id to the instance registry.
func (r *Runtime) Register(id string) {
	r.mu.Lock()
	r.registry[id] = struct{}{}
	r.mu.Unlock()
}

// Unregister removes id from the instance registry.
func (r *Runtime) Unregister(id string) {
	r.mu.Lock()
	delete(r.registry, id)
	r.mu.Unlock()
}

// Known reports whether id is in the instance registry.
func (r *Runtime) Known(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.registry[id]
	return ok
}

func (r *Runtime) handler(name string) api.WorkItemHandler {
	if h, ok := r.handlers[name]; ok {
		return h
	}
	return r.defaultHandler
}

// Handler returns the handler for name (or the default handler).
func (r *Runtime) Handler(name string) api.WorkItemHandler {
	return r.handler(name)
}

func (r *Runtime) emit(ctx context.Context, inst *Instance, ev api.ProcessEvent) {
	ev.InstanceID = inst.ID
	ev.ProcessID = inst.ProcessID
	ev.ProcessVersion = inst.ProcessVersion
	ev.BusinessKey = inst.BusinessKey
	ev.Status = inst.Status
	if ev.At.IsZero() {
		ev.At = r.now()
	}
	r.mu.Lock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.Unlock()
	for _, l := range listeners {
		l.OnEvent(ctx, inst, ev)
	}
}

func newID() string {
	return uuid.NewString()
}
