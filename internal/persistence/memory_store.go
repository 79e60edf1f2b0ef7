package persistence

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/petrijr/procflow/pkg/api"
)

// MemoryBackend is a goroutine-safe Backend backed by a map.
type MemoryBackend struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{records: make(map[string]Record)}
}

func memoryKey(processID, id string) string {
	return processID + "\x00" + id
}

func (b *MemoryBackend) Insert(_ context.Context, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := memoryKey(rec.ProcessID, rec.ID)
	if _, ok := b.records[key]; ok {
		return api.ErrDuplicateInstance
	}
	rec.Data = slices.Clone(rec.Data)
	b.records[key] = rec
	return nil
}

func (b *MemoryBackend) Update(_ context.Context, rec Record, expected int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := memoryKey(rec.ProcessID, rec.ID)
	cur, ok := b.records[key]
	if !ok {
		return api.ErrInstanceNotFound
	}
	if cur.Version != expected {
		return api.ErrVersionConflict
	}
	rec.Data = slices.Clone(rec.Data)
	b.records[key] = rec
	return nil
}

func (b *MemoryBackend) Get(_ context.Context, processID, id string) (Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[memoryKey(processID, id)]
	if !ok {
		return Record{}, api.ErrInstanceNotFound
	}
	rec.Data = slices.Clone(rec.Data)
	return rec, nil
}

func (b *MemoryBackend) Exists(_ context.Context, processID, id string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.records[memoryKey(processID, id)]
	return ok, nil
}

func (b *MemoryBackend) Delete(_ context.Context, processID, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.records, memoryKey(processID, id))
	return nil
}

func (b *MemoryBackend) List(_ context.Context, processID string) ([]Record, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	prefix := processID + "\x00"
	var out []Record
	for key, rec := range b.records {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rec.Data = slices.Clone(rec.Data)
		out = append(out, rec)
	}
	slices.SortFunc(out, func(a, b Record) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}
