package persistence

import (
	"context"

	"github.com/petrijr/procflow/pkg/api"
)

// Record is the stored form of a process instance: a few indexed columns
// plus the encoded snapshot.
type Record struct {
	ID             string
	ProcessID      string
	ProcessVersion string
	Status         api.Status
	BusinessKey    string
	// Version is the optimistic-concurrency counter, 1 after the first
	// insert.
	Version int64
	Data    []byte
}

// Backend stores instance records, keyed by (process id, instance id).
//
// Insert fails with api.ErrDuplicateInstance when the key exists. Update
// replaces the record only while its stored version equals expected and
// fails with api.ErrVersionConflict otherwise, or api.ErrInstanceNotFound
// when the key is missing. Get fails with api.ErrInstanceNotFound. Delete
// is idempotent.
type Backend interface {
	Insert(ctx context.Context, rec Record) error
	Update(ctx context.Context, rec Record, expected int64) error
	Get(ctx context.Context, processID, id string) (Record, error)
	Exists(ctx context.Context, processID, id string) (bool, error)
	Delete(ctx context.Context, processID, id string) error
	List(ctx context.Context, processID string) ([]Record, error)
}
