package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/petrijr/procflow/pkg/api"
)

type processRegistry struct {
	mu     sync.RWMutex
	byID   map[string]map[string]*Process
	latest map[string]*Process
}

func newProcessRegistry() *processRegistry {
	return &processRegistry{
		byID:   make(map[string]map[string]*Process),
		latest: make(map[string]*Process),
	}
}

func (r *processRegistry) Register(p *Process) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions := r.byID[p.ID()]
	if versions == nil {
		versions = make(map[string]*Process)
		r.byID[p.ID()] = versions
	}

	if _, exists := versions[p.Version()]; exists {
		return fmt.Errorf("process %q version %q already registered", p.ID(), p.Version())
	}

	versions[p.Version()] = p
	r.latest[p.ID()] = p
	return nil
}

// Get returns the process with id and version; an empty version selects
// the most recently registered one.
func (r *processRegistry) Get(id, version string) (*Process, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version == "" {
		p, ok := r.latest[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", api.ErrProcessNotFound, id)
		}
		return p, nil
	}

	versions := r.byID[id]
	if versions == nil {
		return nil, fmt.Errorf("%w: %s", api.ErrProcessNotFound, id)
	}

	p, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s version %s", api.ErrProcessNotFound, id, version)
	}

	return p, nil
}

func (r *processRegistry) Versions(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	versions := r.byID[id]
	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// All returns every registered process ordered by id and version.
func (r *processRegistry) All() []*Process {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Process
	for _, versions := range r.byID {
		for _, p := range versions {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID() != out[j].ID() {
			return out[i].ID() < out[j].ID()
		}
		return out[i].Version() < out[j].Version()
	})
	return out
}
