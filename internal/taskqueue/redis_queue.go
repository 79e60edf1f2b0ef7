package taskqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on a Redis sorted set:
//
//	<prefix>tasks      ZSET, score = not_before in unix milliseconds
//	<prefix>tasks:seq  counter giving members their FIFO order
//
// A member is a zero-padded sequence number, a colon and the gob-encoded
// Task; members with the same score sort by sequence.
type RedisQueue struct {
	client       *redis.Client
	key          string
	seqKey       string
	pollInterval time.Duration
}

// claimScript atomically pops the first member whose score is <= ARGV[1].
var claimScript = redis.NewScript(`
local m = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #m == 0 then return false end
redis.call('ZREM', KEYS[1], m[1])
return m[1]
`)

// NewRedisQueue constructs a Redis-backed Queue.
// prefix defaults to "procflow:".
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "procflow:"
	}
	return &RedisQueue{
		client:       client,
		key:          prefix + "tasks",
		seqKey:       prefix + "tasks:seq",
		pollInterval: 50 * time.Millisecond,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue adds the task to the sorted set.
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	now := time.Now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = now
	}
	data, err := encodeTask(t)
	if err != nil {
		return err
	}
	seq, err := q.client.Incr(ctx, q.seqKey).Result()
	if err != nil {
		return err
	}
	member := fmt.Sprintf("%020d:", seq) + string(data)
	return q.client.ZAdd(ctx, q.key, redis.Z{
		Score:  float64(notBefore(t, now).UnixMilli()),
		Member: member,
	}).Err()
}

// Dequeue polls until a task is eligible or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	tmr := newStoppedTimer()
	defer tmr.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		now := strconv.FormatInt(time.Now().UnixMilli(), 10)
		member, err := claimScript.Run(ctx, q.client, []string{q.key}, now).Text()
		if err == nil {
			return decodeMember(member)
		}
		if !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if err := waitPoll(ctx, tmr, q.pollInterval); err != nil {
			return nil, err
		}
	}
}

func decodeMember(member string) (*Task, error) {
	const seqLen = 21
	if len(member) < seqLen {
		return nil, fmt.Errorf("redis queue: malformed member of %d bytes", len(member))
	}
	return decodeTask([]byte(member[seqLen:]))
}

// Len returns the approximate number of tasks queued (ZCARD).
func (q *RedisQueue) Len() int {
	n, err := q.client.ZCard(context.Background(), q.key).Result()
	if err != nil {
		slog.Warn("redis_queue_len_failed", slog.String("error", err.Error()))
		return 0
	}
	return int(n)
}
