package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

// DefaultVersion is assigned to definitions registered without a version.
const DefaultVersion = "1.0"

// Config describes how to construct an Engine. Only Backend is required;
// New fills in in-memory defaults for everything else.
type Config struct {
	Backend      persistence.Backend `validate:"required"`
	Events       persistence.EventStore
	Hub          api.SignalHub
	Jobs         api.JobsService
	Correlations api.CorrelationService
	Observer     api.Observer
	Logger       *slog.Logger

	// Handlers are registered with every process runtime in addition to
	// the built-in default and human-task handlers.
	Handlers []api.WorkItemHandler `validate:"dive,required"`

	// Now overrides time.Now, for tests.
	Now func() time.Time
}

var structValidator = validator.New(validator.WithRequiredStructEnabled())

func (c Config) validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}
	return nil
}

// ValidateDefinition checks the struct tags of def and the references
// between its nodes, connections and timers.
func ValidateDefinition(def *api.Definition) error {
	if def == nil {
		return errors.New("process definition is nil")
	}
	if err := structValidator.Struct(def); err != nil {
		return fmt.Errorf("invalid process definition %q: %w", def.ID, err)
	}

	ids := make(map[string]struct{}, len(def.Nodes))
	for _, n := range def.Nodes {
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("process %q: duplicate node id %q", def.ID, n.ID)
		}
		ids[n.ID] = struct{}{}

		switch n.Kind {
		case api.NodeEvent:
			if n.Event == "" {
				return fmt.Errorf("process %q: event node %q has no event type", def.ID, n.ID)
			}
		case api.NodeSubProcess:
			if n.SubProcessID == "" {
				return fmt.Errorf("process %q: sub-process node %q has no process id", def.ID, n.ID)
			}
		}
	}
	for _, c := range def.Connections {
		if _, ok := ids[c.From]; !ok {
			return fmt.Errorf("process %q: connection from unknown node %q", def.ID, c.From)
		}
		if _, ok := ids[c.To]; !ok {
			return fmt.Errorf("process %q: connection to unknown node %q", def.ID, c.To)
		}
	}
	for _, t := range def.StartTimers {
		if _, ok := ids[t.NodeID]; !ok {
			return fmt.Errorf("process %q: timer on unknown node %q", def.ID, t.NodeID)
		}
	}
	return nil
}
