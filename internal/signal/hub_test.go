package signal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/procflow/pkg/api"
)

type fakeResolver struct {
	waiting map[string][]api.ProcessInstance
	byID    map[string]api.ProcessInstance
	err     error
}

func (f *fakeResolver) WaitingForEvents(_ context.Context, eventType string) ([]api.ProcessInstance, error) {
	return f.waiting[eventType], f.err
}

func (f *fakeResolver) FindByID(_ context.Context, id string) (api.ProcessInstance, error) {
	if f.err != nil {
		return nil, f.err
	}
	if pi, ok := f.byID[id]; ok {
		return pi, nil
	}
	return nil, api.ErrInstanceNotFound
}

// stubInstance only carries an id; the hub never calls into it.
type stubInstance struct {
	api.ProcessInstance
	id string
}

func (s stubInstance) ID() string { return s.id }

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(func() { _ = hub.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	got := make(chan string, 2)
	require.NoError(t, hub.Subscribe(ctx, "completed", func(_ context.Context, payload []byte) error {
		got <- string(payload)
		if string(payload) == "bad" {
			return errors.New("rejected")
		}
		return nil
	}))

	require.NoError(t, hub.Publish(ctx, "completed", []byte("bad")))
	require.NoError(t, hub.Publish(ctx, "completed", []byte("child-1")))

	for _, want := range []string{"bad", "child-1"} {
		select {
		case p := <-got:
			require.Equal(t, want, p)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %q not delivered", want)
		}
	}
}

func TestHub_Resolvers(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(func() { _ = hub.Close() })
	ctx := context.Background()

	a := &fakeResolver{
		waiting: map[string][]api.ProcessInstance{"paid": {stubInstance{id: "a-1"}}},
		byID:    map[string]api.ProcessInstance{"a-1": stubInstance{id: "a-1"}},
	}
	b := &fakeResolver{
		waiting: map[string][]api.ProcessInstance{"paid": {stubInstance{id: "b-1"}}},
		byID:    map[string]api.ProcessInstance{"b-1": stubInstance{id: "b-1"}},
	}
	hub.AddProcessInstanceResolver(a)
	hub.AddProcessInstanceResolver(a)
	hub.AddProcessInstanceResolver(b)

	waiting, err := hub.WaitingForEvents(ctx, "paid")
	require.NoError(t, err)
	require.Len(t, waiting, 2)

	pi, err := hub.FindByID(ctx, "b-1")
	require.NoError(t, err)
	require.Equal(t, "b-1", pi.ID())

	hub.RemoveProcessInstanceResolver(b)
	_, err = hub.FindByID(ctx, "b-1")
	require.ErrorIs(t, err, api.ErrInstanceNotFound)

	waiting, err = hub.WaitingForEvents(ctx, "paid")
	require.NoError(t, err)
	require.Len(t, waiting, 1)
}

func TestHub_FindByIDPropagatesResolverFailure(t *testing.T) {
	hub := NewHub(nil)
	t.Cleanup(func() { _ = hub.Close() })
	boom := errors.New("store down")
	hub.AddProcessInstanceResolver(&fakeResolver{err: boom})

	_, err := hub.FindByID(context.Background(), "x")
	require.ErrorIs(t, err, boom)
}
