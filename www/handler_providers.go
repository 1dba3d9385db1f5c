package www

import (
	"log/slog"
	"net/http"

	"github.com/mhaase/strompreis-go/service"
)

func NewProvidersHandler(logger *slog.Logger, svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJson(logger, w, svc.Providers())
	})
}

func NewProviderHealthHandler(logger *slog.Logger, svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJson(logger, w, svc.ProviderHealth())
	})
}

// NewProviderResetHandler re-enables a disabled provider. This is the
// manual reset; there is no automatic recovery from the disabled state.
func NewProviderResetHandler(logger *slog.Logger, svc *service.Service) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if err := svc.ResetProvider(name); err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.Info("provider reset requested", slog.String("provider", name))
		w.WriteHeader(http.StatusNoContent)
	})
}
