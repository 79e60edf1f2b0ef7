package graph

import (
	"context"
	"fmt"
	"maps"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

// SetVariables replaces the variable map and records the update.
func (i *Instance) SetVariables(ctx context.Context, vars map[string]any) error {
	if i.rt == nil {
		return errNotConnected
	}
	if i.Status.Terminal() {
		return fmt.Errorf("%w: cannot update variables in status %s", api.ErrIllegalState, i.Status)
	}
	i.Variables = vars
	if i.Variables == nil {
		i.Variables = make(map[string]any)
	}
	i.rt.emit(ctx, i, api.ProcessEvent{Type: api.EventVariablesUpdated})
	return nil
}

// MarshalSnapshot encodes the exported state of i. The model record under
// api.ModelKey is left out; it is rebuilt from the schema on load.
func MarshalSnapshot(i *Instance) ([]byte, error) {
	c := *i
	c.rt = nil
	c.Variables = maps.Clone(i.Variables)
	delete(c.Variables, api.ModelKey)
	return persistence.Marshal(&c)
}

// UnmarshalSnapshot decodes a detached instance.
func UnmarshalSnapshot(data []byte) (*Instance, error) {
	var inst Instance
	if err := persistence.Unmarshal(data, &inst); err != nil {
		return nil, fmt.Errorf("decode instance snapshot: %w", err)
	}
	if inst.Variables == nil {
		inst.Variables = make(map[string]any)
	}
	return &inst, nil
}
