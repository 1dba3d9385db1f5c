package www

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mhaase/strompreis-go/database"
	"github.com/mhaase/strompreis-go/service"
	"github.com/mhaase/strompreis-go/types"
)

func NewCurrentPricesHandler(logger *slog.Logger, svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJson(logger, w, svc.CurrentPrices(r.Context(), time.Now()))
	})
}

const (
	defaultSeriesLimit = 500
	maxSeriesLimit     = 5000
)

// NewSeriesHandler serves historical points. Query parameters:
// providers (comma separated, empty means all), from/to (RFC 3339),
// limit, and the keyset cursor after_start/after_provider from the
// previous page.
func NewSeriesHandler(logger *slog.Logger, svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		var providers []string
		if raw := q.Get("providers"); raw != "" {
			providers = strings.Split(raw, ",")
		}

		timeRange, err := parseTimeRange(q.Get("from"), q.Get("to"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := defaultSeriesLimit
		if raw := q.Get("limit"); raw != "" {
			limit, err = strconv.Atoi(raw)
			if err != nil || limit < 1 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			if limit > maxSeriesLimit {
				limit = maxSeriesLimit
			}
		}

		var after *database.Cursor
		if raw := q.Get("after_start"); raw != "" {
			start, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, "invalid after_start", http.StatusBadRequest)
				return
			}
			after = &database.Cursor{Start: start, Provider: q.Get("after_provider")}
		}

		page, err := svc.Series(r.Context(), providers, timeRange, after, limit)
		if err != nil {
			logger.Error("series query failed", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJson(logger, w, page)
	})
}

func parseTimeRange(fromRaw, toRaw string) (types.TimeRange, error) {
	now := time.Now().UTC()
	r := types.TimeRange{From: now.Add(-24 * time.Hour), To: now.Add(48 * time.Hour)}

	if fromRaw != "" {
		from, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return types.TimeRange{}, &types.ConfigError{Field: "from", Reason: "must be RFC 3339"}
		}
		r.From = from
	}
	if toRaw != "" {
		to, err := time.Parse(time.RFC3339, toRaw)
		if err != nil {
			return types.TimeRange{}, &types.ConfigError{Field: "to", Reason: "must be RFC 3339"}
		}
		r.To = to
	}
	if !r.From.Before(r.To) {
		return types.TimeRange{}, &types.ConfigError{Field: "from", Reason: "must be before to"}
	}
	return r, nil
}
