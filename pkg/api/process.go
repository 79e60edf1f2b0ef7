package api

import (
	"context"
	"time"
)

// StartOptions carries optional start parameters.
type StartOptions struct {
	Trigger     string
	ReferenceID string
	Headers     map[string][]string
}

// StartOption configures Start and StartFrom.
type StartOption func(*StartOptions)

// WithTrigger names what caused the start (for audit only).
func WithTrigger(trigger string) StartOption {
	return func(o *StartOptions) { o.Trigger = trigger }
}

// WithReferenceID sets the reference id recorded on the instance.
func WithReferenceID(id string) StartOption {
	return func(o *StartOptions) { o.ReferenceID = id }
}

// WithHeaders sets the headers recorded on the instance.
func WithHeaders(h map[string][]string) StartOption {
	return func(o *StartOptions) { o.Headers = h }
}

// CreateOptions carries optional instance creation parameters.
type CreateOptions struct {
	BusinessKey     string
	Correlation     Correlation
	ParentProcess   ProcessRef
	ParentID        string
	RootID          string
	Description     string
}

// CreateOption configures Process.CreateInstance.
type CreateOption func(*CreateOptions)

func WithBusinessKey(key string) CreateOption {
	return func(o *CreateOptions) { o.BusinessKey = key }
}

func WithCorrelation(c Correlation) CreateOption {
	return func(o *CreateOptions) { o.Correlation = c }
}

// WithParent links the new instance to its parent instance of process
// parent; completion of the child is signalled to the parent.
func WithParent(parent ProcessRef, parentID, rootID string) CreateOption {
	return func(o *CreateOptions) {
		o.ParentProcess = parent
		o.ParentID = parentID
		o.RootID = rootID
	}
}

func WithDescription(d string) CreateOption {
	return func(o *CreateOptions) { o.Description = d }
}

// NodeInstance describes a live node occurrence.
type NodeInstance struct {
	ID          string
	NodeID      string
	NodeName    string
	TriggeredAt time.Time
	WaitingFor  string
	WorkItemID  string
}

// Failure is the error-recovery handle of an instance in ERROR.
type Failure interface {
	FailedNodeID() string
	FailedNodeInstanceID() string
	ErrorMessage() string
	ErrorCause() string
	// Retrigger re-executes the failed node from scratch.
	Retrigger(ctx context.Context) error
	// Skip marks the failed node as completed without re-executing it.
	Skip(ctx context.Context) error
}

// ProcessInstance is one execution of a process definition.
type ProcessInstance interface {
	ID() string
	ProcessID() string
	ProcessVersion() string
	BusinessKey() string
	Description() string
	ParentID() string
	RootID() string
	ReferenceID() string
	Status() Status
	StartDate() time.Time
	Version() int64
	CorrelationKey() string
	Variables() map[string]any

	Start(ctx context.Context, opts ...StartOption) error
	StartFrom(ctx context.Context, nodeID string, opts ...StartOption) error
	TriggerNode(ctx context.Context, nodeID string) error
	CancelNodeInstance(ctx context.Context, nodeInstanceID string) error
	RetriggerNodeInstance(ctx context.Context, nodeInstanceID string) error
	Abort(ctx context.Context) error
	Send(ctx context.Context, sig Signal) error
	UpdateVariables(ctx context.Context, vars map[string]any) error
	UpdateVariablesPartially(ctx context.Context, vars map[string]any) error

	CompleteWorkItem(ctx context.Context, id string, results map[string]any, policies ...Policy) error
	TransitionWorkItem(ctx context.Context, id string, t Transition) (*WorkItem, error)
	AbortWorkItem(ctx context.Context, id string, policies ...Policy) error
	UpdateWorkItem(ctx context.Context, id string, fn func(wi *WorkItem) error, policies ...Policy) (*WorkItem, error)
	WorkItem(ctx context.Context, id string, policies ...Policy) (*WorkItem, error)
	WorkItems(ctx context.Context, filter func(wi *WorkItem) bool, policies ...Policy) ([]*WorkItem, error)

	NodeInstances(ctx context.Context) ([]NodeInstance, error)
	EventTypes(ctx context.Context) ([]string, error)

	// Failure returns the recovery handle when Status() is StatusError.
	Failure() (Failure, bool)
}

// ProcessInstances is the read side of a process's instance store.
type ProcessInstances interface {
	Exists(ctx context.Context, id string) (bool, error)
	FindByID(ctx context.Context, id string, mode ReadMode) (ProcessInstance, error)
	Stream(ctx context.Context, mode ReadMode) ([]ProcessInstance, error)
	Migrate(ctx context.Context, target ProcessRef, ids ...string) (int, error)
}

// ProcessRef identifies a definition id/version pair.
type ProcessRef struct {
	ID      string
	Version string
}

// Process wraps a definition and owns its instances.
type Process interface {
	ID() string
	Name() string
	Version() string
	Type() string
	Definition() *Definition

	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error

	CreateInstance(vars map[string]any, opts ...CreateOption) (ProcessInstance, error)
	Instances() ProcessInstances
	Send(ctx context.Context, sig Signal) error
	FindByCorrelation(ctx context.Context, c Correlation) (ProcessInstance, error)
}
