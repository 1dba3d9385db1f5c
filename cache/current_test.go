package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhaase/strompreis-go/types"
)

func TestCurrentReadThrough(t *testing.T) {
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	calls := 0
	c := NewCurrent(func(_ context.Context, provider string, _ time.Time) (types.PricePoint, error) {
		calls++
		return types.PricePoint{Provider: provider, Start: start, End: start.Add(time.Hour), Price: 12}, nil
	})

	ctx := context.Background()
	asOf := start.Add(10 * time.Minute)

	p, err := c.Get(ctx, "awattar", asOf)
	require.NoError(t, err)
	assert.Equal(t, 12.0, p.Price)
	assert.Equal(t, 1, calls)

	// Second read within the same interval is served from memory.
	_, err = c.Get(ctx, "awattar", asOf.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// A read past the interval end misses.
	_, err = c.Get(ctx, "awattar", start.Add(90*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCurrentInvalidate(t *testing.T) {
	start := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	calls := 0
	c := NewCurrent(func(_ context.Context, provider string, _ time.Time) (types.PricePoint, error) {
		calls++
		return types.PricePoint{Provider: provider, Start: start, End: start.Add(time.Hour), Price: float64(calls)}, nil
	})

	ctx := context.Background()
	asOf := start.Add(time.Minute)

	p, _ := c.Get(ctx, "awattar", asOf)
	assert.Equal(t, 1.0, p.Price)

	c.Invalidate("awattar")

	p, _ = c.Get(ctx, "awattar", asOf)
	assert.Equal(t, 2.0, p.Price)
	assert.Equal(t, 2, calls)
}
