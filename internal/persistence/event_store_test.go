package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/procflow/pkg/api"
)

func checkEventStore(t *testing.T, store EventStore) {
	t.Helper()
	ctx := context.Background()
	at := time.Unix(1700000000, 0)

	require.NoError(t, store.AppendEvent(ctx, api.ProcessEvent{
		InstanceID: "i-1", At: at, Type: api.EventInstanceStarted, ProcessID: "orders", Status: api.StatusActive,
	}))
	require.NoError(t, store.AppendEvent(ctx, api.ProcessEvent{
		InstanceID: "i-2", At: at, Type: api.EventInstanceStarted, ProcessID: "orders",
	}))
	require.NoError(t, store.AppendEvent(ctx, api.ProcessEvent{
		InstanceID: "i-1", At: at.Add(time.Second), Type: api.EventNodeTriggered, NodeID: "review", NodeName: "Review",
	}))

	evs, err := store.ListEvents(ctx, "i-1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	require.Equal(t, api.EventInstanceStarted, evs[0].Type)
	require.Equal(t, api.StatusActive, evs[0].Status)
	require.True(t, at.Equal(evs[0].At))
	require.Equal(t, "Review", evs[1].NodeName)

	evs, err = store.ListEvents(ctx, "unknown")
	require.NoError(t, err)
	require.Empty(t, evs)
}

func TestMemoryEventStore(t *testing.T) {
	checkEventStore(t, NewMemoryEventStore())
}

func TestSQLiteEventStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteEventStore(db)
	require.NoError(t, err)
	checkEventStore(t, store)
}
