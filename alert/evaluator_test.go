package alert

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhaase/strompreis-go/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

type scriptedSource struct {
	values map[time.Time]float64
	err    error
}

func (s *scriptedSource) metric(_ context.Context, _ types.AlertRule, _ string, asOf time.Time) (float64, bool, error) {
	if s.err != nil {
		return 0, false, s.err
	}
	v, ok := s.values[asOf]
	return v, ok, nil
}

func belowRule(minDuration time.Duration) types.AlertRule {
	return types.AlertRule{
		Name:        "cheap-power",
		Provider:    "awattar",
		Threshold:   10,
		Comparison:  types.ComparisonBelow,
		MinDuration: minDuration,
		Active:      true,
	}
}

func TestEvaluateFiresOncePerEpisode(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	src := &scriptedSource{values: map[time.Time]float64{
		t0:                     8,
		t0.Add(time.Hour):      7,
		t0.Add(2 * time.Hour):  9,
	}}
	e := NewEvaluator(discardLogger(), src.metric, []types.AlertRule{belowRule(0)})

	ctx := context.Background()
	var events []types.AlertEvent
	for i := 0; i < 3; i++ {
		events = append(events, e.Evaluate(ctx, "awattar", t0.Add(time.Duration(i)*time.Hour))...)
	}

	// Three consecutive matching cycles fire exactly one event.
	require.Len(t, events, 1)
	assert.Equal(t, "cheap-power", events[0].Rule)
	assert.Equal(t, 8.0, events[0].MatchedPrice)
	assert.Equal(t, t0, events[0].TriggeredAt)
}

func TestEvaluateMinDuration(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	src := &scriptedSource{values: map[time.Time]float64{
		t0:                    8,
		t0.Add(time.Hour):     8,
		t0.Add(2 * time.Hour): 8,
	}}
	e := NewEvaluator(discardLogger(), src.metric, []types.AlertRule{belowRule(2 * time.Hour)})

	ctx := context.Background()
	assert.Empty(t, e.Evaluate(ctx, "awattar", t0))
	assert.Empty(t, e.Evaluate(ctx, "awattar", t0.Add(time.Hour)))

	events := e.Evaluate(ctx, "awattar", t0.Add(2*time.Hour))
	require.Len(t, events, 1)
	assert.Equal(t, t0, events[0].Window.From)
}

func TestEvaluateRefiresAfterClear(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	src := &scriptedSource{values: map[time.Time]float64{
		t0:                    8,  // fires
		t0.Add(time.Hour):     15, // clears
		t0.Add(2 * time.Hour): 9,  // fires again
	}}
	e := NewEvaluator(discardLogger(), src.metric, []types.AlertRule{belowRule(0)})

	ctx := context.Background()
	assert.Len(t, e.Evaluate(ctx, "awattar", t0), 1)
	assert.Empty(t, e.Evaluate(ctx, "awattar", t0.Add(time.Hour)))
	assert.Len(t, e.Evaluate(ctx, "awattar", t0.Add(2*time.Hour)), 1)
}

func TestEvaluateMissingDataKeepsState(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	src := &scriptedSource{values: map[time.Time]float64{
		t0:                    8,
		t0.Add(2 * time.Hour): 8,
		// Nothing for t0+1h: a data gap, not a cleared condition.
	}}
	e := NewEvaluator(discardLogger(), src.metric, []types.AlertRule{belowRule(2 * time.Hour)})

	ctx := context.Background()
	assert.Empty(t, e.Evaluate(ctx, "awattar", t0))
	assert.Empty(t, e.Evaluate(ctx, "awattar", t0.Add(time.Hour)))

	events := e.Evaluate(ctx, "awattar", t0.Add(2*time.Hour))
	require.Len(t, events, 1, "hold window should survive the gap")
}

func TestEvaluateIgnoresOtherProvidersAndInactiveRules(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	src := &scriptedSource{values: map[time.Time]float64{t0: 1}}

	inactive := belowRule(0)
	inactive.Name = "inactive"
	inactive.Active = false

	e := NewEvaluator(discardLogger(), src.metric, []types.AlertRule{belowRule(0), inactive})
	assert.Empty(t, e.Evaluate(context.Background(), "tibber", t0))

	events := e.Evaluate(context.Background(), "awattar", t0)
	require.Len(t, events, 1)
	assert.Equal(t, "cheap-power", events[0].Rule)
}

func TestEvaluateSourceError(t *testing.T) {
	src := &scriptedSource{err: errors.New("db gone")}
	e := NewEvaluator(discardLogger(), src.metric, []types.AlertRule{belowRule(0)})
	assert.Empty(t, e.Evaluate(context.Background(), "awattar", time.Now()))
}

func TestSetRulesDropsRemovedState(t *testing.T) {
	t0 := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)
	src := &scriptedSource{values: map[time.Time]float64{
		t0:                8,
		t0.Add(time.Hour): 8,
	}}
	e := NewEvaluator(discardLogger(), src.metric, []types.AlertRule{belowRule(0)})

	ctx := context.Background()
	assert.Len(t, e.Evaluate(ctx, "awattar", t0), 1)

	// Removing and re-adding the rule resets its episode.
	e.SetRules(nil)
	e.SetRules([]types.AlertRule{belowRule(0)})
	assert.Len(t, e.Evaluate(ctx, "awattar", t0.Add(time.Hour)), 1)
}
