package task

import (
	"context"
	"log/slog"
	"time"

	"github.com/mhaase/strompreis-go/config"
	"github.com/mhaase/strompreis-go/database"
)

func NewMaintenanceTask(logger *slog.Logger, db *database.Database, cnfg *config.AppConfig) func() {
	return func() {
		logger.Debug("running maintenance task...")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		retention := cnfg.Database.GetRetentionDays()

		if err := db.PurgePricePoints(ctx, retention); err != nil {
			logger.Error("price_point maintenance error", slog.Any("error", err))
		}

		if err := db.PurgeFetchLog(ctx, retention); err != nil {
			logger.Error("fetch_log maintenance error", slog.Any("error", err))
		}

		if err := db.PurgeLog(ctx, cnfg.Logging.GetDbMaxEntries()); err != nil {
			logger.Error("log maintenance error", slog.Any("error", err))
		}

		if err := db.Backup(ctx); err != nil {
			logger.Error("backup error", slog.Any("error", err))
		}

		if err := db.PurgeBackups(ctx, cnfg.Database.GetBackupRetentionDays()); err != nil {
			logger.Error("backup purge error", slog.Any("error", err))
		}

		logger.Info("maintenance task done")
	}
}
