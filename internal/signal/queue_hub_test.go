package signal

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/petrijr/procflow/internal/taskqueue"
	"github.com/petrijr/procflow/pkg/api"
	"github.com/petrijr/procflow/pkg/worker"
)

func TestQueueHub_RedeliversFailedMessages(t *testing.T) {
	hub := NewQueueHub(taskqueue.NewInMemoryQueue(), worker.Config{Backoff: 5 * time.Millisecond})
	t.Cleanup(func() { _ = hub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var calls atomic.Int32
	delivered := make(chan string, 1)
	require.NoError(t, hub.Subscribe(ctx, "completed", func(_ context.Context, payload []byte) error {
		if calls.Add(1) == 1 {
			return errors.New("parent busy")
		}
		delivered <- string(payload)
		return nil
	}))

	require.NoError(t, hub.Publish(ctx, "completed", []byte("child-1")))

	select {
	case p := <-delivered:
		require.Equal(t, "child-1", p)
	case <-time.After(2 * time.Second):
		t.Fatal("message not redelivered")
	}
	require.Equal(t, int32(2), calls.Load())
}

func TestQueueHub_MessagesSurviveRestart(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	q, err := taskqueue.NewSQLiteQueue(db)
	require.NoError(t, err)

	// Nobody handles the message on the first hub; it is retried and stays
	// queued.
	first := NewQueueHub(q, worker.Config{MaxAttempts: 100, Backoff: 10 * time.Millisecond})
	require.NoError(t, first.Publish(context.Background(), "completed", []byte("child-1")))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, first.Close())
	require.Equal(t, 1, q.Len())

	second := NewQueueHub(q, worker.Config{})
	t.Cleanup(func() { _ = second.Close() })
	delivered := make(chan string, 1)
	require.NoError(t, second.Subscribe(context.Background(), "completed", func(_ context.Context, payload []byte) error {
		delivered <- string(payload)
		return nil
	}))

	select {
	case p := <-delivered:
		require.Equal(t, "child-1", p)
	case <-time.After(3 * time.Second):
		t.Fatal("queued message lost across hubs")
	}
}

func TestQueueHub_UnsubscribeOnContextDone(t *testing.T) {
	hub := NewQueueHub(taskqueue.NewInMemoryQueue(), worker.Config{MaxAttempts: 1})
	t.Cleanup(func() { _ = hub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	require.NoError(t, hub.Subscribe(ctx, "t", func(context.Context, []byte) error {
		calls.Add(1)
		return nil
	}))
	cancel()
	require.Eventually(t, func() bool {
		return hub.worker.HandlerCount("t") == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), "t", nil))
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, calls.Load())
}

func TestQueueHub_Resolvers(t *testing.T) {
	hub := NewQueueHub(taskqueue.NewInMemoryQueue(), worker.Config{})
	t.Cleanup(func() { _ = hub.Close() })

	r := &fakeResolver{byID: map[string]api.ProcessInstance{"a-1": stubInstance{id: "a-1"}}}
	hub.AddProcessInstanceResolver(r)
	pi, err := hub.FindByID(context.Background(), "a-1")
	require.NoError(t, err)
	require.Equal(t, "a-1", pi.ID())
}
