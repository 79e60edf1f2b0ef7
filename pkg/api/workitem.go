package api

import "maps"

// WorkItemState is the coarse state of a work item.
type WorkItemState int

const (
	WorkItemActive WorkItemState = iota
	WorkItemCompleted
	WorkItemAborted
)

func (s WorkItemState) String() string {
	switch s {
	case WorkItemActive:
		return "ACTIVE"
	case WorkItemCompleted:
		return "COMPLETED"
	case WorkItemAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// Phase identifiers understood by the built-in handlers.
const (
	PhaseActivate = "activate"
	PhaseClaim    = "claim"
	PhaseRelease  = "release"
	PhaseComplete = "complete"
	PhaseAbort    = "abort"
)

// Phase statuses recorded on a work item after a transition.
const (
	PhaseStatusActivated = "Activated"
	PhaseStatusReserved  = "Reserved"
	PhaseStatusReleased  = "Released"
	PhaseStatusCompleted = "Completed"
	PhaseStatusAborted   = "Aborted"
)

// Work item parameters interpreted by SecurityPolicy.
const (
	ParamActorID = "ActorId"
	ParamGroupID = "GroupId"
	ParamOwner   = "ActualOwner"
)

// WorkItem is a task awaiting external completion.
type WorkItem struct {
	ID                  string
	NodeInstanceID      string
	NodeID              string
	Name                string
	HandlerName         string
	State               WorkItemState
	PhaseID             string
	PhaseStatus         string
	Parameters          map[string]any
	Results             map[string]any
	ExternalReferenceID string
}

// Clone returns a copy that does not share parameter/result maps.
func (w *WorkItem) Clone() *WorkItem {
	if w == nil {
		return nil
	}
	c := *w
	c.Parameters = maps.Clone(w.Parameters)
	c.Results = maps.Clone(w.Results)
	return &c
}

// Policy is enforced against a work item before it is exposed or
// transitioned (for example authorization).
type Policy interface {
	Enforce(wi *WorkItem) error
}

// Transition asks a handler to move a work item to another phase.
type Transition struct {
	PhaseID  string
	Data     map[string]any
	Policies []Policy
}

// WorkItemHandler drives the phases of the work items it owns.
type WorkItemHandler interface {
	Name() string
	// NewTransition validates and builds a transition from the item's
	// current phase status.
	NewTransition(phaseID, currentPhaseStatus string, data map[string]any, policies ...Policy) (Transition, error)
	// TransitionToPhase applies t to wi and reports whether the work item
	// is finished (completed or aborted).
	TransitionToPhase(wi *WorkItem, t Transition) (finished bool, err error)
}

// WorkItemSchema describes a task node for boundary layers.
type WorkItemSchema struct {
	Name         string
	InputSchema  map[string]any
	OutputSchema map[string]any
	Phases       []string
}
