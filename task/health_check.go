package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/mhaase/strompreis-go/database"
	"github.com/mhaase/strompreis-go/types"
)

// NewHealthCheckTask builds the hourly staleness check. A provider is
// stale when its last successful collection is older than four times
// its cadence, with a one hour floor so a tight cadence does not page
// on every upstream blip.
func NewHealthCheckTask(logger *slog.Logger, db *database.Database, scheduler *Scheduler, infos []types.ProviderInfo) func() {
	return func() {
		logger.Debug("running health check task...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		states := make(map[string]State, len(infos))
		for _, h := range scheduler.Health() {
			states[h.Provider] = h.State
		}

		now := time.Now()
		for _, info := range infos {
			if !info.Enabled {
				continue
			}

			if states[info.Name] == StateDisabled {
				logger.Warn("provider is disabled and needs a manual reset",
					slog.String("provider", info.Name))
				continue
			}

			last, err := db.LastSuccessfulFetch(ctx, info.Name)
			if err != nil {
				logger.Error("health check query failed",
					slog.String("provider", info.Name), slog.Any("error", err))
				continue
			}

			threshold := 4 * info.Cadence
			if threshold < time.Hour {
				threshold = time.Hour
			}

			switch {
			case last.IsZero():
				logger.Warn("provider has never collected successfully",
					slog.String("provider", info.Name))
			case now.Sub(last) > threshold:
				logger.Warn("provider data is stale",
					slog.String("provider", info.Name),
					slog.Time("lastSuccess", last),
					slog.Duration("staleFor", now.Sub(last)))
			}
		}
	}
}
