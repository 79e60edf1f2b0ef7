package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/procflow/pkg/api"
)

func TestMemoryService_RoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	c := api.CompositeCorrelation(map[string]string{"customer": "c-1", "order": "o-9"})

	ci, err := svc.Create(ctx, c, "inst-1")
	require.NoError(t, err)
	require.Equal(t, "customer=c-1|order=o-9", ci.EncodedKey)

	// Part order does not matter.
	reordered := api.Correlation{Parts: []api.CorrelationPart{{Key: "order", Value: "o-9"}, {Key: "customer", Value: "c-1"}}}
	got, ok, err := svc.Find(ctx, reordered)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "inst-1", got.CorrelatedID)

	got, ok, err = svc.FindByCorrelatedID(ctx, "inst-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ci.EncodedKey, got.EncodedKey)

	require.NoError(t, svc.Delete(ctx, c))
	_, ok, err = svc.FindByCorrelatedID(ctx, "inst-1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, svc.Delete(ctx, c))
}

func TestMemoryService_RejectsReuseByAnotherInstance(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	c := api.SimpleCorrelation("order", "o-1")

	_, err := svc.Create(ctx, c, "inst-1")
	require.NoError(t, err)
	_, err = svc.Create(ctx, c, "inst-1")
	require.NoError(t, err)
	_, err = svc.Create(ctx, c, "inst-2")
	require.ErrorIs(t, err, ErrDuplicateCorrelation)

	_, err = svc.Create(ctx, api.Correlation{}, "inst-3")
	require.Error(t, err)
}
