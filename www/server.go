// Package www is the HTTP surface: a small JSON API over the service
// facade and the websocket bridge onto the live fan-out.
package www

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mhaase/strompreis-go/config"
	"github.com/mhaase/strompreis-go/fanout"
	"github.com/mhaase/strompreis-go/service"
)

type Server struct {
	logger *slog.Logger
	config config.AppConfigApi
	mux    *http.ServeMux
}

func NewServer(svc *service.Service, hub *fanout.Hub, cnfg *config.AppConfig) *Server {
	logger := slog.Default().With("module", "www")

	s := &Server{
		logger: logger,
		config: cnfg.Api,
		mux:    http.NewServeMux(),
	}

	logReqMW := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.logger.Debug("http request",
				slog.String("method", r.Method),
				slog.String("url", r.URL.String()),
				slog.String("remoteAddr", r.RemoteAddr))
			next.ServeHTTP(w, r)
		})
	}

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.mux.Handle("GET /api/prices/current", logReqMW(NewCurrentPricesHandler(
		logger.With(slog.String("handler", "current_prices")), svc)))

	s.mux.Handle("GET /api/prices/series", logReqMW(NewSeriesHandler(
		logger.With(slog.String("handler", "series")), svc)))

	s.mux.Handle("GET /api/providers", logReqMW(NewProvidersHandler(
		logger.With(slog.String("handler", "providers")), svc)))

	s.mux.Handle("GET /api/providers/health", logReqMW(NewProviderHealthHandler(
		logger.With(slog.String("handler", "provider_health")), svc)))

	s.mux.Handle("POST /api/providers/{name}/reset", logReqMW(NewProviderResetHandler(
		logger.With(slog.String("handler", "provider_reset")), svc)))

	s.mux.Handle("GET /api/stats/hourly", logReqMW(NewHourlyStatsHandler(
		logger.With(slog.String("handler", "hourly_stats")), svc, cnfg.Stats)))

	s.mux.Handle("GET /api/alerts", logReqMW(NewAlertsHandler(
		logger.With(slog.String("handler", "alerts")), svc)))

	s.mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		name := r.RemoteAddr
		client, err := NewClient(logger, hub, w, r, name)
		if err != nil {
			s.logger.Error("new websocket client failed", slog.Any("error", err))
			return
		}
		go client.WritePump()
		go client.ReadPump()
	})

	return s
}

func (s *Server) Run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	s.logger.Info("starting server...", slog.String("addr", addr))

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvErrors := make(chan error, 1)
	go func() {
		srvErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvErrors:
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", slog.Any("error", err))
		}

	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server shutdown failed", slog.Any("error", err))
		}
	}
}
