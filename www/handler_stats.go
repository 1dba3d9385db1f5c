package www

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mhaase/strompreis-go/config"
	"github.com/mhaase/strompreis-go/service"
)

func NewHourlyStatsHandler(logger *slog.Logger, svc *service.Service, cnfg config.AppConfigStats) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		provider := r.URL.Query().Get("provider")
		if provider == "" {
			http.Error(w, "provider is required", http.StatusBadRequest)
			return
		}

		days := cnfg.GetLookbackDays()
		if raw := r.URL.Query().Get("days"); raw != "" {
			var err error
			days, err = strconv.Atoi(raw)
			if err != nil || days < 1 {
				http.Error(w, "invalid days", http.StatusBadRequest)
				return
			}
		}

		stats, err := svc.HourlyAverages(r.Context(), provider, days, time.Now())
		if err != nil {
			logger.Error("hourly stats query failed", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJson(logger, w, stats)
	})
}

func NewAlertsHandler(logger *slog.Logger, svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		since := time.Now().AddDate(0, 0, -7)
		if raw := r.URL.Query().Get("since"); raw != "" {
			var err error
			since, err = time.Parse(time.RFC3339, raw)
			if err != nil {
				http.Error(w, "invalid since", http.StatusBadRequest)
				return
			}
		}

		events, err := svc.RecentAlerts(r.Context(), since, 100)
		if err != nil {
			logger.Error("alerts query failed", slog.Any("error", err))
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJson(logger, w, events)
	})
}
