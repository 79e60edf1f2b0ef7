// Package workitem provides the built-in work-item handlers.
package workitem

import (
	"fmt"
	"maps"
	"slices"

	"github.com/petrijr/procflow/pkg/api"
)

// lifecycle maps a phase id to the phase statuses it may start from and
// the status it produces.
type lifecycle map[string]phaseRule

type phaseRule struct {
	from     []string
	status   string
	finishes bool
}

func (l lifecycle) phases() []string {
	out := make([]string, 0, len(l))
	for p := range l {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (l lifecycle) newTransition(phaseID, current string, data map[string]any, policies []api.Policy) (api.Transition, error) {
	rule, ok := l[phaseID]
	if !ok {
		return api.Transition{}, fmt.Errorf("%w: unknown phase %q", api.ErrInvalidTransition, phaseID)
	}
	if !slices.Contains(rule.from, current) {
		return api.Transition{}, fmt.Errorf("%w: %s from %q", api.ErrInvalidTransition, phaseID, current)
	}
	return api.Transition{PhaseID: phaseID, Data: data, Policies: policies}, nil
}

// apply validates t against wi and moves wi to the phase.
func (l lifecycle) apply(wi *api.WorkItem, t api.Transition) (bool, error) {
	if wi.State != api.WorkItemActive {
		return false, fmt.Errorf("%w: work item %s is %s", api.ErrInvalidTransition, wi.ID, wi.State)
	}
	rule, ok := l[t.PhaseID]
	if !ok {
		return false, fmt.Errorf("%w: unknown phase %q", api.ErrInvalidTransition, t.PhaseID)
	}
	if !slices.Contains(rule.from, wi.PhaseStatus) {
		return false, fmt.Errorf("%w: %s from %q", api.ErrInvalidTransition, t.PhaseID, wi.PhaseStatus)
	}
	wi.PhaseID = t.PhaseID
	wi.PhaseStatus = rule.status
	if !rule.finishes {
		return false, nil
	}
	switch t.PhaseID {
	case api.PhaseAbort:
		wi.State = api.WorkItemAborted
	default:
		if wi.Results == nil {
			wi.Results = make(map[string]any)
		}
		maps.Copy(wi.Results, t.Data)
		wi.State = api.WorkItemCompleted
	}
	return true, nil
}

var defaultLifecycle = lifecycle{
	api.PhaseActivate: {from: []string{""}, status: api.PhaseStatusActivated},
	api.PhaseComplete: {from: []string{api.PhaseStatusActivated}, status: api.PhaseStatusCompleted, finishes: true},
	api.PhaseAbort:    {from: []string{api.PhaseStatusActivated}, status: api.PhaseStatusAborted, finishes: true},
}

// DefaultHandler runs the minimal activate/complete/abort lifecycle.
type DefaultHandler struct{}

// DefaultHandlerName is the name DefaultHandler registers under.
const DefaultHandlerName = "default"

func NewDefaultHandler() *DefaultHandler { return &DefaultHandler{} }

func (*DefaultHandler) Name() string { return DefaultHandlerName }

func (*DefaultHandler) Phases() []string { return defaultLifecycle.phases() }

func (*DefaultHandler) NewTransition(phaseID, current string, data map[string]any, policies ...api.Policy) (api.Transition, error) {
	return defaultLifecycle.newTransition(phaseID, current, data, policies)
}

func (*DefaultHandler) TransitionToPhase(wi *api.WorkItem, t api.Transition) (bool, error) {
	return defaultLifecycle.apply(wi, t)
}

var humanLifecycle = lifecycle{
	api.PhaseActivate: {from: []string{""}, status: api.PhaseStatusActivated},
	api.PhaseClaim: {
		from:   []string{api.PhaseStatusActivated, api.PhaseStatusReleased},
		status: api.PhaseStatusReserved,
	},
	api.PhaseRelease: {from: []string{api.PhaseStatusReserved}, status: api.PhaseStatusReleased},
	api.PhaseComplete: {
		from:     []string{api.PhaseStatusActivated, api.PhaseStatusReserved, api.PhaseStatusReleased},
		status:   api.PhaseStatusCompleted,
		finishes: true,
	},
	api.PhaseAbort: {
		from:     []string{api.PhaseStatusActivated, api.PhaseStatusReserved, api.PhaseStatusReleased},
		status:   api.PhaseStatusAborted,
		finishes: true,
	},
}

// HumanTaskHandler adds claim and release to the default lifecycle and
// tracks the actual owner in the ActualOwner parameter.
type HumanTaskHandler struct{}

// HumanTaskHandlerName is the name HumanTaskHandler registers under.
const HumanTaskHandlerName = "Human Task"

func NewHumanTaskHandler() *HumanTaskHandler { return &HumanTaskHandler{} }

func (*HumanTaskHandler) Name() string { return HumanTaskHandlerName }

func (*HumanTaskHandler) Phases() []string { return humanLifecycle.phases() }

func (*HumanTaskHandler) NewTransition(phaseID, current string, data map[string]any, policies ...api.Policy) (api.Transition, error) {
	return humanLifecycle.newTransition(phaseID, current, data, policies)
}

func (*HumanTaskHandler) TransitionToPhase(wi *api.WorkItem, t api.Transition) (bool, error) {
	user := claimant(t)
	if t.PhaseID == api.PhaseClaim && user == "" {
		return false, fmt.Errorf("%w: claim requires a user", api.ErrInvalidTransition)
	}
	finished, err := humanLifecycle.apply(wi, t)
	if err != nil {
		return false, err
	}
	if wi.Parameters == nil {
		wi.Parameters = make(map[string]any)
	}
	switch t.PhaseID {
	case api.PhaseClaim:
		wi.Parameters[api.ParamOwner] = user
	case api.PhaseRelease:
		delete(wi.Parameters, api.ParamOwner)
	}
	return finished, nil
}

func claimant(t api.Transition) string {
	for _, p := range t.Policies {
		if sp, ok := p.(api.SecurityPolicy); ok && sp.User != "" {
			return sp.User
		}
	}
	if u, ok := t.Data[ClaimUserKey].(string); ok {
		return u
	}
	return ""
}

// ClaimUserKey names the transition data entry used as claimant when no
// SecurityPolicy is supplied.
const ClaimUserKey = "user"
