// Package correlation provides the in-memory correlation service.
package correlation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/petrijr/procflow/pkg/api"
)

// ErrDuplicateCorrelation is returned when a correlation already maps to
// another instance.
var ErrDuplicateCorrelation = errors.New("correlation already in use")

// MemoryService is a goroutine-safe api.CorrelationService.
type MemoryService struct {
	mu    sync.RWMutex
	byKey map[string]api.CorrelationInstance
	// byID indexes encoded keys by correlated instance id.
	byID map[string]string
}

var _ api.CorrelationService = (*MemoryService)(nil)

func NewMemoryService() *MemoryService {
	return &MemoryService{
		byKey: make(map[string]api.CorrelationInstance),
		byID:  make(map[string]string),
	}
}

func (s *MemoryService) Create(_ context.Context, c api.Correlation, correlatedID string) (api.CorrelationInstance, error) {
	if c.IsZero() {
		return api.CorrelationInstance{}, fmt.Errorf("empty correlation for %s", correlatedID)
	}
	key := c.Encoded()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byKey[key]; ok && cur.CorrelatedID != correlatedID {
		return api.CorrelationInstance{}, fmt.Errorf("%w: %s -> %s", ErrDuplicateCorrelation, key, cur.CorrelatedID)
	}
	ci := api.CorrelationInstance{Correlation: c, CorrelatedID: correlatedID, EncodedKey: key}
	s.byKey[key] = ci
	s.byID[correlatedID] = key
	return ci, nil
}

func (s *MemoryService) Find(_ context.Context, c api.Correlation) (api.CorrelationInstance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ci, ok := s.byKey[c.Encoded()]
	return ci, ok, nil
}

func (s *MemoryService) FindByCorrelatedID(_ context.Context, correlatedID string) (api.CorrelationInstance, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byID[correlatedID]
	if !ok {
		return api.CorrelationInstance{}, false, nil
	}
	return s.byKey[key], true, nil
}

// Delete removes c. Deleting an unknown correlation is a no-op.
func (s *MemoryService) Delete(_ context.Context, c api.Correlation) error {
	key := c.Encoded()

	s.mu.Lock()
	defer s.mu.Unlock()
	if ci, ok := s.byKey[key]; ok {
		delete(s.byID, ci.CorrelatedID)
		delete(s.byKey, key)
	}
	return nil
}
