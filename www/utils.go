package www

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func writeJson(logger *slog.Logger, w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encoding failed", slog.Any("error", err))
	}
}
