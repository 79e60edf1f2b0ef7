package api

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecurityPolicy(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		policy SecurityPolicy
		ok     bool
	}{
		{"open work item", nil, NewSecurityPolicy("bob"), true},
		{"listed actor", map[string]any{ParamActorID: "alice, bob"}, NewSecurityPolicy("bob"), true},
		{"unlisted actor", map[string]any{ParamActorID: "alice"}, NewSecurityPolicy("bob"), false},
		{"listed group", map[string]any{ParamGroupID: "finance"}, NewSecurityPolicy("bob", "hr", "finance"), true},
		{"unlisted group", map[string]any{ParamGroupID: "finance"}, NewSecurityPolicy("bob", "hr"), false},
		{"owner", map[string]any{ParamActorID: "alice,bob", ParamOwner: "alice"}, NewSecurityPolicy("alice"), true},
		{"not the owner", map[string]any{ParamActorID: "alice,bob", ParamOwner: "alice"}, NewSecurityPolicy("bob"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Enforce(&WorkItem{ID: "wi-1", Parameters: tt.params})
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrNotAuthorized)
			}
		})
	}
}

func TestEnforceAllSkipsNilPolicies(t *testing.T) {
	wi := &WorkItem{ID: "wi-1", Parameters: map[string]any{ParamActorID: "alice"}}
	require.NoError(t, EnforceAll(wi, nil, NewSecurityPolicy("alice")))
	require.ErrorIs(t, EnforceAll(wi, NewSecurityPolicy("alice"), NewSecurityPolicy("bob")), ErrNotAuthorized)
}

func TestCorrelationEncodingIgnoresPartOrder(t *testing.T) {
	a := CompositeCorrelation(map[string]string{"order": "7", "customer": "c1"})
	b := Correlation{Parts: []CorrelationPart{{Key: "order", Value: "7"}, {Key: "customer", Value: "c1"}}}
	require.Equal(t, a.Encoded(), b.Encoded())
	require.True(t, a.Composite())

	s := SimpleCorrelation("order", "7")
	require.False(t, s.Composite())
	require.False(t, s.IsZero())
	require.True(t, Correlation{}.IsZero())
}

func TestInstanceError(t *testing.T) {
	require.NoError(t, NewInstanceError("start", "orders", "i-1", nil))

	err := NewInstanceError("start", "orders", "i-1", ErrIllegalState)
	require.ErrorIs(t, err, ErrIllegalState)
	require.Equal(t, "start instance i-1 of process orders: illegal process instance state", err.Error())

	// Wrapping the same instance twice keeps the innermost operation.
	again := NewInstanceError("signal", "orders", "i-1", fmt.Errorf("outer: %w", err))
	var ie *InstanceError
	require.True(t, errors.As(again, &ie))
	require.Equal(t, "start", ie.Op)

	require.True(t, IsNotFound(NewInstanceError("get", "", "i-2", ErrWorkItemNotFound)))
	require.False(t, IsNotFound(err))
}

func TestRecord(t *testing.T) {
	schema := NewSchema("amount", "approved")
	r := RecordFromMap(schema, map[string]any{"amount": 10, "ignored": true})

	require.Equal(t, 10, r.Get("amount"))
	require.Nil(t, r.Get("approved"))
	require.Nil(t, r.Get("ignored"))
	require.Error(t, r.Set("ignored", 1))

	c := r.Clone()
	require.NoError(t, c.Set("approved", true))
	require.Nil(t, r.Get("approved"))
	require.Equal(t, map[string]any{"amount": 10, "approved": true}, c.ToMap())
}
