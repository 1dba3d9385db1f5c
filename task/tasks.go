package task

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/mhaase/strompreis-go/config"
	"github.com/mhaase/strompreis-go/database"
	"github.com/mhaase/strompreis-go/types"
)

// Tasks owns the cron-scheduled housekeeping next to the polling loop.
type Tasks struct {
	cron            *cron.Cron
	MaintenanceTask func()
	HealthCheckTask func()
}

func NewTasks(db *database.Database, scheduler *Scheduler, infos []types.ProviderInfo, cnfg *config.AppConfig) *Tasks {
	logger := slog.Default().With("module", "tasks")
	return &Tasks{
		cron:            cron.New(),
		MaintenanceTask: NewMaintenanceTask(logger.With(slog.String("task", "maintenance")), db, cnfg),
		HealthCheckTask: NewHealthCheckTask(logger.With(slog.String("task", "health_check")), db, scheduler, infos),
	}
}

func (t *Tasks) Run() {
	if _, err := t.cron.AddFunc("30 2 * * *", t.MaintenanceTask); err != nil {
		panic(err)
	}
	if _, err := t.cron.AddFunc("30 * * * *", t.HealthCheckTask); err != nil {
		panic(err)
	}
	t.cron.Start()
}

func (t *Tasks) Stop() context.Context {
	return t.cron.Stop()
}
