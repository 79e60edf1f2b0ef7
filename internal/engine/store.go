package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/petrijr/procflow/internal/graph"
	"github.com/petrijr/procflow/internal/persistence"
	"github.com/petrijr/procflow/pkg/api"
)

// Store is the instance store of one process version. Records are keyed
// by (process id, instance id); a record belongs to the store whose
// version it carries, so versions of one process share a keyspace and
// migrating between them is an in-place update. The per-id locks are
// shared engine-wide.
type Store struct {
	process *Process
	backend persistence.Backend
	locks   *lockMap
}

var _ api.ProcessInstances = (*Store)(nil)

func newStore(p *Process, backend persistence.Backend, locks *lockMap) *Store {
	return &Store{process: p, backend: backend, locks: locks}
}

func (s *Store) record(gi *graph.Instance, version int64) (persistence.Record, error) {
	data, err := graph.MarshalSnapshot(gi)
	if err != nil {
		return persistence.Record{}, err
	}
	return persistence.Record{
		ID:             gi.ID,
		ProcessID:      s.process.ID(),
		ProcessVersion: gi.ProcessVersion,
		Status:         gi.Status,
		BusinessKey:    gi.BusinessKey,
		Version:        version,
		Data:           data,
	}, nil
}

// Create inserts the attached state of pi as version 1 and installs the
// reload callback. It fails with api.ErrDuplicateInstance when the id is
// already stored.
func (s *Store) Create(ctx context.Context, pi *processInstance) error {
	gi := pi.attached
	if gi == nil {
		return fmt.Errorf("%w: instance %s is not attached", api.ErrIllegalState, pi.id)
	}
	rec, err := s.record(gi, 1)
	if err != nil {
		return err
	}
	created, err := pi.createCorrelation(ctx)
	if err != nil {
		return err
	}
	if err := s.backend.Insert(ctx, rec); err != nil {
		if created {
			_ = pi.deleteCorrelation(ctx)
		}
		return err
	}
	pi.setVersion(1)
	pi.persisted = true
	pi.reload = s.reloader(pi.id)
	return nil
}

// Update writes the attached state of pi, expecting the stored version to
// be the one pi was loaded at. Terminal instances are never written.
func (s *Store) Update(ctx context.Context, pi *processInstance) error {
	if pi.Status().Terminal() {
		return nil
	}
	gi := pi.attached
	if gi == nil {
		return fmt.Errorf("%w: instance %s is not attached", api.ErrIllegalState, pi.id)
	}
	if gi.Status.Terminal() {
		return nil
	}
	expected := pi.Version()
	rec, err := s.record(gi, expected+1)
	if err != nil {
		return err
	}
	if err := s.backend.Update(ctx, rec, expected); err != nil {
		return err
	}
	pi.setVersion(expected + 1)
	return nil
}

// Remove deletes the record of pi.
func (s *Store) Remove(ctx context.Context, pi *processInstance) error {
	if err := s.backend.Delete(ctx, s.process.ID(), pi.id); err != nil {
		return err
	}
	pi.persisted = false
	return nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.get(ctx, id)
	if errors.Is(err, api.ErrInstanceNotFound) {
		return false, nil
	}
	return err == nil, err
}

// get reads the record of id, which must belong to this version.
func (s *Store) get(ctx context.Context, id string) (persistence.Record, error) {
	rec, err := s.backend.Get(ctx, s.process.ID(), id)
	if err != nil {
		return persistence.Record{}, err
	}
	if rec.ProcessVersion != s.process.Version() {
		return persistence.Record{}, fmt.Errorf("%w: %s is an instance of version %s", api.ErrInstanceNotFound, id, rec.ProcessVersion)
	}
	return rec, nil
}

// FindByID loads the instance with id. ReadOnly hand-outs reject every
// mutating call; Mutable ones reload their state from the backend at the
// start of each operation.
func (s *Store) FindByID(ctx context.Context, id string, mode api.ReadMode) (api.ProcessInstance, error) {
	pi, err := s.find(ctx, id, mode)
	if err != nil {
		return nil, err
	}
	return pi, nil
}

func (s *Store) find(ctx context.Context, id string, mode api.ReadMode) (*processInstance, error) {
	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, api.NewInstanceError("find", s.process.ID(), id, err)
	}
	return s.fromRecord(rec, mode)
}

// Stream returns every stored instance of the process.
func (s *Store) Stream(ctx context.Context, mode api.ReadMode) ([]api.ProcessInstance, error) {
	recs, err := s.backend.List(ctx, s.process.ID())
	if err != nil {
		return nil, err
	}
	out := make([]api.ProcessInstance, 0, len(recs))
	for _, rec := range recs {
		if rec.ProcessVersion != s.process.Version() {
			continue
		}
		pi, err := s.fromRecord(rec, mode)
		if err != nil {
			return nil, err
		}
		out = append(out, pi)
	}
	return out, nil
}

func (s *Store) fromRecord(rec persistence.Record, mode api.ReadMode) (*processInstance, error) {
	gi, err := graph.UnmarshalSnapshot(rec.Data)
	if err != nil {
		return nil, api.NewInstanceError("decode", s.process.ID(), rec.ID, err)
	}
	pi := &processInstance{process: s.process, id: rec.ID}
	pi.syncSnapshot(gi)
	pi.setVersion(rec.Version)
	if mode == api.ReadOnly {
		pi.readOnly = true
		pi.frozen = gi
		return pi, nil
	}
	pi.persisted = true
	pi.reload = s.reloader(rec.ID)
	return pi, nil
}

// handle returns a mutable instance for id without reading the backend;
// the first operation loads its state.
func (s *Store) handle(id string) *processInstance {
	return &processInstance{
		process:   s.process,
		id:        id,
		processID: s.process.ID(),
		persisted: true,
		reload:    s.reloader(id),
	}
}

func (s *Store) reloader(id string) func(ctx context.Context) (*graph.Instance, int64, error) {
	return func(ctx context.Context) (*graph.Instance, int64, error) {
		rec, err := s.get(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		gi, err := graph.UnmarshalSnapshot(rec.Data)
		if err != nil {
			return nil, 0, err
		}
		return gi, rec.Version, nil
	}
}

// Migrate moves the given instances (all instances when ids is empty) to
// the target process and returns how many were moved. Ids that are not
// stored are skipped.
func (s *Store) Migrate(ctx context.Context, target api.ProcessRef, ids ...string) (int, error) {
	dst, err := s.process.engine.lookup(target)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		recs, err := s.backend.List(ctx, s.process.ID())
		if err != nil {
			return 0, err
		}
		for _, rec := range recs {
			if rec.ProcessVersion == s.process.Version() {
				ids = append(ids, rec.ID)
			}
		}
	}

	moved := 0
	for _, id := range ids {
		ok, err := s.migrate(ctx, dst, id)
		if err != nil {
			return moved, api.NewInstanceError("migrate", s.process.ID(), id, err)
		}
		if ok {
			moved++
		}
	}
	return moved, nil
}

func (s *Store) migrate(ctx context.Context, dst *Process, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	rec, err := s.get(ctx, id)
	if errors.Is(err, api.ErrInstanceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	gi, err := graph.UnmarshalSnapshot(rec.Data)
	if err != nil {
		return false, err
	}
	gi.ProcessID = dst.ID()
	gi.ProcessVersion = dst.Version()

	next, err := dst.store.record(gi, rec.Version+1)
	if err != nil {
		return false, err
	}
	if dst.ID() == s.process.ID() {
		if err := s.backend.Update(ctx, next, rec.Version); err != nil {
			return false, err
		}
	} else {
		if err := dst.store.backend.Insert(ctx, next); err != nil {
			return false, err
		}
		if err := s.backend.Delete(ctx, s.process.ID(), id); err != nil {
			return false, err
		}
	}
	if dst != s.process {
		s.process.runtime.Unregister(id)
		if gi.Status != api.StatusPending {
			dst.runtime.Register(id)
		}
	}
	s.process.logger.Info("instance_migrated",
		slog.String("instance_id", id),
		slog.String("target_process", dst.ID()),
		slog.String("target_version", dst.Version()),
	)
	return true, nil
}
