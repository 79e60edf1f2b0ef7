package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestRun_CommitsOnSuccess(t *testing.T) {
	var done []string
	err := Run(context.Background(), func(ctx context.Context) error {
		require.NoError(t, Perform(ctx, func(context.Context) error { done = append(done, "a"); return nil }))
		require.NoError(t, Perform(ctx, func(context.Context) error { done = append(done, "b"); return nil }))
		require.Empty(t, done)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, done)
}

func TestRun_AbortsOnFailure(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	err := Run(context.Background(), func(ctx context.Context) error {
		_ = Perform(ctx, func(context.Context) error { ran = true; return nil })
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.False(t, ran)
}

func TestRun_NestedJoinsOuter(t *testing.T) {
	var done []string
	err := Run(context.Background(), func(ctx context.Context) error {
		require.NoError(t, Run(ctx, func(ctx context.Context) error {
			return Perform(ctx, func(context.Context) error { done = append(done, "inner"); return nil })
		}))
		require.Empty(t, done)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"inner"}, done)
}

func TestEnd_CombinesErrorsAndRunsEverything(t *testing.T) {
	u := New()
	e1, e2 := errors.New("one"), errors.New("two")
	ran := 0
	require.NoError(t, u.Intercept(func(context.Context) error { ran++; return e1 }))
	require.NoError(t, u.Intercept(func(context.Context) error { ran++; return nil }))
	require.NoError(t, u.Intercept(func(context.Context) error { ran++; return e2 }))
	require.Equal(t, 3, u.Len())

	err := u.End(context.Background())
	require.Equal(t, 3, ran)
	require.Len(t, multierr.Errors(err), 2)
	require.ErrorIs(t, err, e1)
	require.ErrorIs(t, err, e2)

	require.ErrorIs(t, u.End(context.Background()), ErrClosed)
	require.ErrorIs(t, u.Intercept(func(context.Context) error { return nil }), ErrClosed)
}

func TestPerform_WithoutUnitOfWorkRunsImmediately(t *testing.T) {
	ran := false
	require.NoError(t, Perform(context.Background(), func(context.Context) error { ran = true; return nil }))
	require.True(t, ran)
}
