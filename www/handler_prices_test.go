package www

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhaase/strompreis-go/alert"
	"github.com/mhaase/strompreis-go/cache"
	"github.com/mhaase/strompreis-go/config"
	"github.com/mhaase/strompreis-go/database"
	"github.com/mhaase/strompreis-go/fanout"
	"github.com/mhaase/strompreis-go/service"
	"github.com/mhaase/strompreis-go/task"
	"github.com/mhaase/strompreis-go/types"
)

func newTestService(t *testing.T) (*service.Service, *database.Database) {
	t.Helper()

	ctx := context.Background()
	db, err := database.New(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(db.Close)

	logger := slog.New(slog.DiscardHandler)
	db.SetLogger(logger)

	priceCache := cache.NewCurrent(db.GetLatestPricePoint)
	evaluator := alert.NewEvaluator(logger, func(context.Context, types.AlertRule, string, time.Time) (float64, bool, error) {
		return 0, false, nil
	}, nil)
	scheduler := task.NewScheduler(logger, db, priceCache, fanout.NewHub(logger), evaluator, config.AppConfigFetch{})

	infos := []types.ProviderInfo{{
		Name: "a", Currency: "EUR", Enabled: true,
		UnitFactor: 1, Granularity: time.Hour, Cadence: 15 * time.Minute,
	}}
	return service.New(logger, db, priceCache, scheduler, infos), db
}

func seedPoints(t *testing.T, db *database.Database, start time.Time, prices ...float64) {
	t.Helper()
	var batch []types.PricePoint
	for i, price := range prices {
		s := start.Add(time.Duration(i) * time.Hour)
		batch = append(batch, types.PricePoint{
			Provider: "a", Start: s, End: s.Add(time.Hour),
			Price: price, Currency: "EUR", CapturedAt: start,
		})
	}
	_, err := db.UpsertPricePoints(context.Background(), batch)
	require.NoError(t, err)
}

func TestSeriesHandler(t *testing.T) {
	svc, db := newTestService(t)
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	seedPoints(t, db, start, 10, 12, 14)

	handler := NewSeriesHandler(slog.New(slog.DiscardHandler), svc)

	q := url.Values{}
	q.Set("providers", "a")
	q.Set("from", start.Format(time.RFC3339))
	q.Set("to", start.Add(6*time.Hour).Format(time.RFC3339))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/prices/series?"+q.Encode(), nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var page service.SeriesPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Points, 3)
	assert.Equal(t, 10.0, page.Points[0].Price)
	assert.Nil(t, page.Next)
}

func TestSeriesHandlerPagination(t *testing.T) {
	svc, db := newTestService(t)
	start := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	seedPoints(t, db, start, 10, 12, 14)

	handler := NewSeriesHandler(slog.New(slog.DiscardHandler), svc)

	q := url.Values{}
	q.Set("from", start.Format(time.RFC3339))
	q.Set("to", start.Add(6*time.Hour).Format(time.RFC3339))
	q.Set("limit", "2")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/prices/series?"+q.Encode(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var page service.SeriesPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Points, 2)
	require.NotNil(t, page.Next)

	q.Set("after_start", page.Next.Start.Format(time.RFC3339))
	q.Set("after_provider", page.Next.Provider)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/prices/series?"+q.Encode(), nil))

	page = service.SeriesPage{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Points, 1)
	assert.Equal(t, 14.0, page.Points[0].Price)
}

func TestSeriesHandlerBadParams(t *testing.T) {
	svc, _ := newTestService(t)
	handler := NewSeriesHandler(slog.New(slog.DiscardHandler), svc)

	for name, query := range map[string]string{
		"bad from":       "from=yesterday",
		"bad limit":      "limit=-1",
		"inverted range": "from=2025-04-02T00:00:00Z&to=2025-04-01T00:00:00Z",
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/prices/series?"+query, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestCurrentPricesHandler(t *testing.T) {
	svc, db := newTestService(t)
	now := time.Now().UTC().Truncate(time.Hour)
	seedPoints(t, db, now.Add(-time.Hour), 10, 12)

	handler := NewCurrentPricesHandler(slog.New(slog.DiscardHandler), svc)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/prices/current", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var prices []service.CurrentPrice
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&prices))
	require.Len(t, prices, 1)
	assert.True(t, prices[0].Known)
	assert.Equal(t, 12.0, prices[0].Point.Price)
	assert.Equal(t, 2.0, prices[0].Delta.Absolute)
}
