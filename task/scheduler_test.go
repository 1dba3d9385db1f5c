package task

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhaase/strompreis-go/alert"
	"github.com/mhaase/strompreis-go/cache"
	"github.com/mhaase/strompreis-go/config"
	"github.com/mhaase/strompreis-go/database"
	"github.com/mhaase/strompreis-go/fanout"
	"github.com/mhaase/strompreis-go/types"
)

type stubProvider struct {
	name  string
	calls atomic.Int64
	delay time.Duration
	fetch func(window types.TimeRange) ([]types.RawPricePoint, error)
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Fetch(ctx context.Context, window types.TimeRange) ([]types.RawPricePoint, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return p.fetch(window)
}

func stubInfo(name string) types.ProviderInfo {
	return types.ProviderInfo{
		Name:        name,
		DisplayName: name,
		Currency:    "EUR",
		Enabled:     true,
		UnitFactor:  1,
		Granularity: time.Hour,
		Cadence:     15 * time.Minute,
	}
}

func hourlyRaws(start time.Time, prices ...float64) []types.RawPricePoint {
	raws := make([]types.RawPricePoint, len(prices))
	for i, price := range prices {
		s := start.Add(time.Duration(i) * time.Hour)
		raws[i] = types.RawPricePoint{Start: s, End: s.Add(time.Hour), Price: price}
	}
	return raws
}

func newTestScheduler(t *testing.T) (*Scheduler, *database.Database, *fanout.Hub) {
	t.Helper()

	ctx := context.Background()
	db, err := database.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	logger := slog.New(slog.DiscardHandler)
	db.SetLogger(logger)

	hub := fanout.NewHub(logger)
	priceCache := cache.NewCurrent(db.GetLatestPricePoint)
	evaluator := alert.NewEvaluator(logger, func(context.Context, types.AlertRule, string, time.Time) (float64, bool, error) {
		return 0, false, nil
	}, nil)

	s := NewScheduler(logger, db, priceCache, hub, evaluator, config.AppConfigFetch{})
	s.backoff = Backoff{Base: time.Minute, Cap: time.Hour, rand: func() float64 { return 0.5 }}
	return s, db, hub
}

func TestCollectStoresAndPublishes(t *testing.T) {
	s, db, hub := newTestScheduler(t)
	sub := hub.Subscribe("test", 8)

	now := time.Now().UTC().Truncate(time.Hour)
	provider := &stubProvider{name: "a", fetch: func(types.TimeRange) ([]types.RawPricePoint, error) {
		return hourlyRaws(now.Add(-time.Hour), 10, 12), nil
	}}
	s.AddProvider(stubInfo("a"), provider)

	require.NoError(t, s.Collect(context.Background(), "a"))

	points, err := db.GetPricePoints(context.Background(), []string{"a"},
		types.TimeRange{From: now.Add(-2 * time.Hour), To: now.Add(2 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, points, 2)

	// The current interval goes out with its delta against the previous.
	ev := <-sub.Events()
	assert.Equal(t, fanout.EventPrice, ev.Type)
	require.NotNil(t, ev.Price)
	assert.Equal(t, 12.0, ev.Price.Point.Price)
	assert.True(t, ev.Price.Delta.Known)
	assert.Equal(t, 2.0, ev.Price.Delta.Absolute)

	health := s.Health()
	require.Len(t, health, 1)
	assert.Equal(t, StateIdle, health[0].State)
	assert.Zero(t, health[0].ConsecutiveFailures)
	assert.False(t, health[0].LastSuccess.IsZero())

	last, err := db.LastSuccessfulFetch(context.Background(), "a")
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestCollectIdempotent(t *testing.T) {
	s, db, _ := newTestScheduler(t)

	now := time.Now().UTC().Truncate(time.Hour)
	provider := &stubProvider{name: "a", fetch: func(types.TimeRange) ([]types.RawPricePoint, error) {
		return hourlyRaws(now, 10, 12, 14), nil
	}}
	s.AddProvider(stubInfo("a"), provider)

	require.NoError(t, s.Collect(context.Background(), "a"))
	require.NoError(t, s.Collect(context.Background(), "a"))

	points, err := db.GetPricePoints(context.Background(), []string{"a"},
		types.TimeRange{From: now, To: now.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, points, 3)
}

func TestDisableAfterConsecutiveTransientFailures(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	failing := &stubProvider{name: "a", fetch: func(types.TimeRange) ([]types.RawPricePoint, error) {
		return nil, types.TransientFetchError("a", errors.New("upstream down"))
	}}
	now := time.Now().UTC().Truncate(time.Hour)
	healthy := &stubProvider{name: "b", fetch: func(types.TimeRange) ([]types.RawPricePoint, error) {
		return hourlyRaws(now, 5), nil
	}}
	s.AddProvider(stubInfo("a"), failing)
	s.AddProvider(stubInfo("b"), healthy)

	for i := 0; i < 5; i++ {
		require.Error(t, s.Collect(context.Background(), "a"))
		require.NoError(t, s.Collect(context.Background(), "b"))
	}

	health := s.Health()
	require.Len(t, health, 2)
	assert.Equal(t, StateDisabled, health[0].State)
	assert.Equal(t, 5, health[0].ConsecutiveFailures)
	assert.Equal(t, StateIdle, health[1].State, "other providers keep collecting")

	// A disabled provider is not polled again.
	calls := failing.calls.Load()
	require.NoError(t, s.Collect(context.Background(), "a"))
	assert.Equal(t, calls, failing.calls.Load())
}

func TestBackoffBeforeDisable(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	provider := &stubProvider{name: "a", fetch: func(types.TimeRange) ([]types.RawPricePoint, error) {
		return nil, types.TransientFetchError("a", errors.New("flaky"))
	}}
	s.AddProvider(stubInfo("a"), provider)

	require.Error(t, s.Collect(context.Background(), "a"))

	health := s.Health()[0]
	assert.Equal(t, StateBackoff, health.State)
	assert.Equal(t, 1, health.ConsecutiveFailures)
	assert.True(t, health.NextRun.After(time.Now().Add(30*time.Second)),
		"first retry waits at least the backoff base")
}

func TestPermanentErrorDisablesImmediately(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	provider := &stubProvider{name: "a", fetch: func(types.TimeRange) ([]types.RawPricePoint, error) {
		return nil, types.PermanentFetchError("a", errors.New("bad token"))
	}}
	s.AddProvider(stubInfo("a"), provider)

	require.Error(t, s.Collect(context.Background(), "a"))
	assert.Equal(t, StateDisabled, s.Health()[0].State)
	assert.Equal(t, int64(1), provider.calls.Load())
}

func TestResetReenables(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	now := time.Now().UTC().Truncate(time.Hour)
	var fail atomic.Bool
	fail.Store(true)
	provider := &stubProvider{name: "a", fetch: func(types.TimeRange) ([]types.RawPricePoint, error) {
		if fail.Load() {
			return nil, types.PermanentFetchError("a", errors.New("bad token"))
		}
		return hourlyRaws(now, 5), nil
	}}
	s.AddProvider(stubInfo("a"), provider)

	require.Error(t, s.Collect(context.Background(), "a"))
	require.Equal(t, StateDisabled, s.Health()[0].State)

	fail.Store(false)
	require.NoError(t, s.Reset("a"))
	require.NoError(t, s.Collect(context.Background(), "a"))

	health := s.Health()[0]
	assert.Equal(t, StateIdle, health.State)
	assert.Zero(t, health.ConsecutiveFailures)
}

func TestCollectSingleFlight(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	now := time.Now().UTC().Truncate(time.Hour)
	provider := &stubProvider{name: "a", delay: 100 * time.Millisecond,
		fetch: func(types.TimeRange) ([]types.RawPricePoint, error) {
			return hourlyRaws(now, 5), nil
		}}
	s.AddProvider(stubInfo("a"), provider)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Collect(context.Background(), "a"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), provider.calls.Load(), "overlapping collections collapse into one fetch")
}

func TestCollectUnknownProvider(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	assert.Error(t, s.Collect(context.Background(), "nope"))
	assert.Error(t, s.Reset("nope"))
}

func TestDisabledInConfigIsNeverPolled(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	info := stubInfo("a")
	info.Enabled = false
	provider := &stubProvider{name: "a", fetch: func(types.TimeRange) ([]types.RawPricePoint, error) {
		return nil, errors.New("must not be called")
	}}
	s.AddProvider(info, provider)

	assert.Empty(t, s.dueProviders())
	require.NoError(t, s.Collect(context.Background(), "a"))
	assert.Zero(t, provider.calls.Load())
	assert.Equal(t, StateDisabled, s.Health()[0].State)
}
