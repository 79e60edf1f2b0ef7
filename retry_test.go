package procflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeActionContext struct {
	ctx  context.Context
	vars map[string]any
}

func newFakeActionContext(ctx context.Context, vars map[string]any) *fakeActionContext {
	if vars == nil {
		vars = map[string]any{}
	}
	return &fakeActionContext{ctx: ctx, vars: vars}
}

func (f *fakeActionContext) Context() context.Context { return f.ctx }
func (f *fakeActionContext) InstanceID() string       { return "inst-1" }
func (f *fakeActionContext) Get(name string) any      { return f.vars[name] }
func (f *fakeActionContext) Set(name string, v any)   { f.vars[name] = v }

func TestRetryBuilder_Defaults(t *testing.T) {
	p := Retry(0).Policy()
	require.Equal(t, 1, p.MaxAttempts)
	require.Zero(t, p.InitialBackoff)

	p = Retry(3).WithExponentialBackoff(10*time.Millisecond, 0, 25*time.Millisecond).Policy()
	require.Equal(t, 2.0, p.BackoffMultiplier)
	require.Equal(t, 10*time.Millisecond, p.delay(1))
	require.Equal(t, 20*time.Millisecond, p.delay(2))
	require.Equal(t, 25*time.Millisecond, p.delay(3))

	p = Retry(3).WithConstantBackoff(5 * time.Millisecond).Policy()
	require.Equal(t, 5*time.Millisecond, p.delay(4))

	require.Zero(t, Retry(3).WithConstantBackoff(time.Second).Immediate().Policy().delay(2))
}

func TestRetryBuilder_WrapRetriesUntilSuccess(t *testing.T) {
	calls := 0
	action := Retry(3).Immediate().Wrap(func(ac ActionContext) error {
		calls++
		if calls < 3 {
			return errors.New("temporary failure")
		}
		ac.Set("done", true)
		return nil
	})

	ac := newFakeActionContext(context.Background(), nil)
	require.NoError(t, action(ac))
	require.Equal(t, 3, calls)
	require.Equal(t, true, ac.vars["done"])
}

func TestRetryBuilder_WrapGivesUp(t *testing.T) {
	calls := 0
	boom := errors.New("permanent failure")
	action := Retry(2).WithConstantBackoff(time.Millisecond).Wrap(func(ActionContext) error {
		calls++
		return boom
	})
	require.ErrorIs(t, action(newFakeActionContext(context.Background(), nil)), boom)
	require.Equal(t, 2, calls)
}

func TestRetryBuilder_WrapStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	action := Retry(5).WithConstantBackoff(time.Hour).Wrap(func(ActionContext) error {
		calls++
		return errors.New("still failing")
	})
	require.Error(t, action(newFakeActionContext(ctx, nil)))
	require.Equal(t, 1, calls)
}

func TestActionWithRetryRecoversInsideTheNode(t *testing.T) {
	ctx := context.Background()
	app, err := NewApplication(ctx, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(ctx) })

	calls := 0
	New("charge").
		Variables("charged").
		Start("start").
		ActionWithRetry("charge", func(ac ActionContext) error {
			calls++
			if calls == 1 {
				return errors.New("gateway timeout")
			}
			ac.Set("charged", true)
			return nil
		}, Retry(2).Immediate()).
		End("end").
		MustRegister(ctx, app)

	pi, err := app.Service.CreateProcessInstance(ctx, "charge", CreateRequest{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, pi.Status())
	require.Equal(t, true, pi.Variables()["charged"])
}
