package workitem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/procflow/pkg/api"
)

func activated(t *testing.T, h api.WorkItemHandler) *api.WorkItem {
	t.Helper()
	wi := &api.WorkItem{ID: "wi-1", HandlerName: h.Name()}
	tr, err := h.NewTransition(api.PhaseActivate, "", nil)
	require.NoError(t, err)
	finished, err := h.TransitionToPhase(wi, tr)
	require.NoError(t, err)
	require.False(t, finished)
	require.Equal(t, api.PhaseStatusActivated, wi.PhaseStatus)
	return wi
}

func TestDefaultHandler_CompleteCopiesResults(t *testing.T) {
	h := NewDefaultHandler()
	wi := activated(t, h)

	tr, err := h.NewTransition(api.PhaseComplete, wi.PhaseStatus, map[string]any{"approved": true})
	require.NoError(t, err)
	finished, err := h.TransitionToPhase(wi, tr)
	require.NoError(t, err)
	require.True(t, finished)
	require.Equal(t, api.WorkItemCompleted, wi.State)
	require.Equal(t, true, wi.Results["approved"])
}

func TestDefaultHandler_RejectsUnknownPhase(t *testing.T) {
	h := NewDefaultHandler()
	_, err := h.NewTransition(api.PhaseClaim, api.PhaseStatusActivated, nil)
	require.ErrorIs(t, err, api.ErrInvalidTransition)
}

func TestDefaultHandler_RejectsTransitionOnFinishedItem(t *testing.T) {
	h := NewDefaultHandler()
	wi := activated(t, h)
	_, err := h.TransitionToPhase(wi, api.Transition{PhaseID: api.PhaseAbort})
	require.NoError(t, err)
	require.Equal(t, api.WorkItemAborted, wi.State)

	_, err = h.TransitionToPhase(wi, api.Transition{PhaseID: api.PhaseComplete})
	require.ErrorIs(t, err, api.ErrInvalidTransition)
}

func TestHumanTaskHandler_ClaimReleaseComplete(t *testing.T) {
	h := NewHumanTaskHandler()
	wi := activated(t, h)

	tr, err := h.NewTransition(api.PhaseClaim, wi.PhaseStatus, nil, api.NewSecurityPolicy("mary"))
	require.NoError(t, err)
	_, err = h.TransitionToPhase(wi, tr)
	require.NoError(t, err)
	require.Equal(t, api.PhaseStatusReserved, wi.PhaseStatus)
	require.Equal(t, "mary", wi.Parameters[api.ParamOwner])

	_, err = h.TransitionToPhase(wi, api.Transition{PhaseID: api.PhaseRelease})
	require.NoError(t, err)
	require.Equal(t, api.PhaseStatusReleased, wi.PhaseStatus)
	require.NotContains(t, wi.Parameters, api.ParamOwner)

	_, err = h.TransitionToPhase(wi, api.Transition{PhaseID: api.PhaseClaim, Data: map[string]any{ClaimUserKey: "john"}})
	require.NoError(t, err)
	require.Equal(t, "john", wi.Parameters[api.ParamOwner])

	finished, err := h.TransitionToPhase(wi, api.Transition{PhaseID: api.PhaseComplete, Data: map[string]any{"ok": 1}})
	require.NoError(t, err)
	require.True(t, finished)
	require.Equal(t, api.PhaseStatusCompleted, wi.PhaseStatus)
}

func TestHumanTaskHandler_ClaimWithoutUserLeavesItemUntouched(t *testing.T) {
	h := NewHumanTaskHandler()
	wi := activated(t, h)

	_, err := h.TransitionToPhase(wi, api.Transition{PhaseID: api.PhaseClaim})
	require.ErrorIs(t, err, api.ErrInvalidTransition)
	require.Equal(t, api.PhaseStatusActivated, wi.PhaseStatus)
}

func TestHumanTaskHandler_ReleaseRequiresReservation(t *testing.T) {
	h := NewHumanTaskHandler()
	_, err := h.NewTransition(api.PhaseRelease, api.PhaseStatusActivated, nil)
	require.ErrorIs(t, err, api.ErrInvalidTransition)
	require.Equal(t, []string{"abort", "activate", "claim", "complete", "release"}, h.Phases())
}
