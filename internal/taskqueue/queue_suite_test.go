package taskqueue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	_ "modernc.org/sqlite"

	"github.com/petrijr/procflow/internal/testutil"
)

// QueueSuite runs the same contract checks against every Queue.
type QueueSuite struct {
	suite.Suite
	newQueue func(t *testing.T) Queue
	queue    Queue
	ctx      context.Context
}

func (s *QueueSuite) SetupTest() {
	s.ctx = context.Background()
	s.queue = s.newQueue(s.T())
}

func (s *QueueSuite) dequeue(timeout time.Duration) (*Task, error) {
	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()
	return s.queue.Dequeue(ctx)
}

func (s *QueueSuite) TestFIFO() {
	for _, id := range []string{"1", "2", "3"} {
		s.Require().NoError(s.queue.Enqueue(s.ctx, Task{ID: id, Topic: "t", Payload: []byte("p" + id)}))
	}
	s.Equal(3, s.queue.Len())

	for _, id := range []string{"1", "2", "3"} {
		got, err := s.dequeue(2 * time.Second)
		s.Require().NoError(err)
		s.Equal(id, got.ID)
		s.Equal("t", got.Topic)
		s.Equal([]byte("p"+id), got.Payload)
	}
	s.Zero(s.queue.Len())
}

func (s *QueueSuite) TestDequeueHonorsContextCancellation() {
	_, err := s.dequeue(50 * time.Millisecond)
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *QueueSuite) TestDequeueBlocksUntilTaskArrives() {
	got := make(chan *Task, 1)
	go func() {
		t, err := s.dequeue(3 * time.Second)
		if err == nil {
			got <- t
		}
		close(got)
	}()

	time.Sleep(50 * time.Millisecond)
	s.Require().NoError(s.queue.Enqueue(s.ctx, Task{ID: "late", Topic: "t"}))

	select {
	case t := <-got:
		s.Require().NotNil(t)
		s.Equal("late", t.ID)
	case <-time.After(4 * time.Second):
		s.Fail("timed out waiting for dequeued task")
	}
}

func (s *QueueSuite) TestNotBeforeDelaysDelivery() {
	s.Require().NoError(s.queue.Enqueue(s.ctx, Task{
		ID:        "later",
		Topic:     "t",
		NotBefore: time.Now().Add(300 * time.Millisecond),
	}))
	s.Require().NoError(s.queue.Enqueue(s.ctx, Task{ID: "now", Topic: "t"}))

	first, err := s.dequeue(time.Second)
	s.Require().NoError(err)
	s.Equal("now", first.ID)

	_, err = s.dequeue(50 * time.Millisecond)
	s.ErrorIs(err, context.DeadlineExceeded)

	second, err := s.dequeue(3 * time.Second)
	s.Require().NoError(err)
	s.Equal("later", second.ID)
}

func (s *QueueSuite) TestAttemptsArePreserved() {
	s.Require().NoError(s.queue.Enqueue(s.ctx, Task{ID: "r", Topic: "t", Attempts: 2}))
	got, err := s.dequeue(time.Second)
	s.Require().NoError(err)
	s.Equal(2, got.Attempts)
	s.False(got.EnqueuedAt.IsZero())
}

func TestInMemoryQueue(t *testing.T) {
	suite.Run(t, &QueueSuite{newQueue: func(*testing.T) Queue {
		return NewInMemoryQueue()
	}})
}

func TestSQLiteQueue(t *testing.T) {
	suite.Run(t, &QueueSuite{newQueue: func(t *testing.T) Queue {
		db, err := sql.Open("sqlite", ":memory:")
		require.NoError(t, err)
		// :memory: databases are per connection.
		db.SetMaxOpenConns(1)
		t.Cleanup(func() { _ = db.Close() })

		q, err := NewSQLiteQueue(db)
		require.NoError(t, err)
		return q
	}})
}

func TestPostgresQueue(t *testing.T) {
	dsn := testutil.GetPostgresDSN(t)
	suite.Run(t, &QueueSuite{newQueue: func(t *testing.T) Queue {
		db, err := sql.Open("pgx", dsn)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })

		q, err := NewPostgresQueue(db)
		require.NoError(t, err)
		_, err = db.Exec(`TRUNCATE queue_tasks`)
		require.NoError(t, err)
		return q
	}})
}

func TestRedisQueue(t *testing.T) {
	addr := testutil.GetRedisAddress(t)
	suite.Run(t, &QueueSuite{newQueue: func(t *testing.T) Queue {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { _ = client.Close() })
		require.NoError(t, client.FlushDB(context.Background()).Err())
		return NewRedisQueue(client, "procflow:test:")
	}})
}

func TestMongoQueue(t *testing.T) {
	uri := testutil.GetMongoURI(t)
	suite.Run(t, &QueueSuite{newQueue: func(t *testing.T) Queue {
		ctx := context.Background()
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

		require.NoError(t, client.Database("procflow_test").Collection("queue_tasks").Drop(ctx))
		return NewMongoQueue(client, "procflow_test", "queue_tasks")
	}})
}

func TestCodecRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	in := Task{
		ID:         "t-1",
		Topic:      "procflow.instance.completed",
		Payload:    []byte{1, 2, 3},
		Attempts:   1,
		EnqueuedAt: now,
		NotBefore:  now.Add(time.Minute),
	}
	data, err := encodeTask(in)
	require.NoError(t, err)
	out, err := decodeTask(data)
	require.NoError(t, err)
	require.Equal(t, in.ID, out.ID)
	require.Equal(t, in.Topic, out.Topic)
	require.Equal(t, in.Payload, out.Payload)
	require.Equal(t, in.Attempts, out.Attempts)
	require.True(t, in.NotBefore.Equal(out.NotBefore))

	_, err = decodeTask([]byte("not a task"))
	require.Error(t, err)
}
