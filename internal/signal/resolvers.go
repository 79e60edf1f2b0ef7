package signal

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/petrijr/procflow/pkg/api"
)

// resolverSet implements the instance resolution half of
// api.SupportsInstanceResolution for both hubs.
type resolverSet struct {
	mu        sync.RWMutex
	resolvers []api.InstanceResolver
}

// AddProcessInstanceResolver registers r. Adding the same resolver twice
// is a no-op.
func (s *resolverSet) AddProcessInstanceResolver(r api.InstanceResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.resolvers, r) {
		return
	}
	s.resolvers = append(s.resolvers, r)
}

// RemoveProcessInstanceResolver unregisters r.
func (s *resolverSet) RemoveProcessInstanceResolver(r api.InstanceResolver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolvers = slices.DeleteFunc(s.resolvers, func(x api.InstanceResolver) bool { return x == r })
}

func (s *resolverSet) snapshot() []api.InstanceResolver {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.resolvers)
}

// WaitingForEvents collects, across all resolvers, the instances waiting
// for eventType.
func (s *resolverSet) WaitingForEvents(ctx context.Context, eventType string) ([]api.ProcessInstance, error) {
	var out []api.ProcessInstance
	for _, r := range s.snapshot() {
		found, err := r.WaitingForEvents(ctx, eventType)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// FindByID asks every resolver in registration order for id.
func (s *resolverSet) FindByID(ctx context.Context, id string) (api.ProcessInstance, error) {
	for _, r := range s.snapshot() {
		pi, err := r.FindByID(ctx, id)
		if err == nil {
			return pi, nil
		}
		if !errors.Is(err, api.ErrInstanceNotFound) {
			return nil, err
		}
	}
	return nil, api.ErrInstanceNotFound
}

