package persistence

import (
	"context"

	"go.etcd.io/bbolt"

	"github.com/petrijr/procflow/pkg/api"
)

var (
	// boltRootBucketKey is the key of the root bucket. It holds one child
	// bucket per process id; their keys are instance ids and their values
	// gob-encoded records.
	boltRootBucketKey = []byte("process_instances")
)

// BoltBackend is a Backend backed by an embedded BoltDB file.
type BoltBackend struct {
	db *bbolt.DB
}

var _ Backend = (*BoltBackend)(nil)

// NewBoltBackend returns a backend over db, creating the root bucket.
func NewBoltBackend(db *bbolt.DB) (*BoltBackend, error) {
	err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltRootBucketKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &BoltBackend{db: db}, nil
}

func processBucket(tx *bbolt.Tx, processID string, create bool) (*bbolt.Bucket, error) {
	root := tx.Bucket(boltRootBucketKey)
	if !create {
		return root.Bucket([]byte(processID)), nil
	}
	return root.CreateBucketIfNotExists([]byte(processID))
}

func (s *BoltBackend) Insert(_ context.Context, rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := processBucket(tx, rec.ProcessID, true)
		if err != nil {
			return err
		}
		if b.Get([]byte(rec.ID)) != nil {
			return api.ErrDuplicateInstance
		}
		return b.Put([]byte(rec.ID), data)
	})
}

func (s *BoltBackend) Update(_ context.Context, rec Record, expected int64) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := processBucket(tx, rec.ProcessID, false)
		if err != nil {
			return err
		}
		if b == nil {
			return api.ErrInstanceNotFound
		}
		raw := b.Get([]byte(rec.ID))
		if raw == nil {
			return api.ErrInstanceNotFound
		}
		cur, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if cur.Version != expected {
			return api.ErrVersionConflict
		}
		return b.Put([]byte(rec.ID), data)
	})
}

func (s *BoltBackend) Get(_ context.Context, processID, id string) (rec Record, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b, _ := processBucket(tx, processID, false)
		if b == nil {
			return api.ErrInstanceNotFound
		}
		// Values are only valid for the life of the transaction, decoding
		// copies them out.
		rec, err = decodeRecord(b.Get([]byte(id)))
		return err
	})
	return rec, err
}

func (s *BoltBackend) Exists(_ context.Context, processID, id string) (ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b, _ := processBucket(tx, processID, false)
		ok = b != nil && b.Get([]byte(id)) != nil
		return nil
	})
	return ok, err
}

func (s *BoltBackend) Delete(_ context.Context, processID, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, _ := processBucket(tx, processID, false)
		if b == nil {
			return nil
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltBackend) List(_ context.Context, processID string) (out []Record, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		b, _ := processBucket(tx, processID, false)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			rec, err := decodeRecord(v)
			if err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
