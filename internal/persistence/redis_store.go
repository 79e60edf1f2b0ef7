package persistence

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/procflow/pkg/api"
)

// RedisBackend is a Backend backed by Redis.
// It uses a simple key structure:
//
//	<prefix>inst:<process>:<id>  => gob-encoded Record
//	<prefix>idx:proc:<process>   => SET of instance ids of a process
//
// Update runs under WATCH so a concurrent writer makes it fail with
// api.ErrVersionConflict.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

var _ Backend = (*RedisBackend)(nil)

// NewRedisBackend creates a RedisBackend.
// prefix is optional but recommended (e.g. "procflow:").
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "procflow:"
	}
	return &RedisBackend{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisBackend) keyInstance(processID, id string) string {
	return s.prefix + "inst:" + processID + ":" + id
}

func (s *RedisBackend) keyProcess(processID string) string {
	return s.prefix + "idx:proc:" + processID
}

func (s *RedisBackend) Insert(ctx context.Context, rec Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, s.keyInstance(rec.ProcessID, rec.ID), data, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return api.ErrDuplicateInstance
	}
	return s.client.SAdd(ctx, s.keyProcess(rec.ProcessID), rec.ID).Err()
}

func (s *RedisBackend) Update(ctx context.Context, rec Record, expected int64) error {
	key := s.keyInstance(rec.ProcessID, rec.ID)
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return api.ErrInstanceNotFound
			}
			return err
		}
		cur, err := decodeRecord(raw)
		if err != nil {
			return err
		}
		if cur.Version != expected {
			return api.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return api.ErrVersionConflict
	}
	return err
}

func (s *RedisBackend) Get(ctx context.Context, processID, id string) (Record, error) {
	data, err := s.client.Get(ctx, s.keyInstance(processID, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, api.ErrInstanceNotFound
		}
		return Record{}, err
	}
	return decodeRecord(data)
}

func (s *RedisBackend) Exists(ctx context.Context, processID, id string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyInstance(processID, id)).Result()
	return n > 0, err
}

func (s *RedisBackend) Delete(ctx context.Context, processID, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyInstance(processID, id))
	pipe.SRem(ctx, s.keyProcess(processID), id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisBackend) List(ctx context.Context, processID string) ([]Record, error) {
	ids, err := s.client.SMembers(ctx, s.keyProcess(processID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyInstance(processID, id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var out []Record
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			// Index entries may outlive a concurrent delete.
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
