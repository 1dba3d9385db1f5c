package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/mhaase/strompreis-go/alert"
	"github.com/mhaase/strompreis-go/awattar"
	"github.com/mhaase/strompreis-go/cache"
	"github.com/mhaase/strompreis-go/calc"
	"github.com/mhaase/strompreis-go/config"
	"github.com/mhaase/strompreis-go/database"
	"github.com/mhaase/strompreis-go/entsoe"
	"github.com/mhaase/strompreis-go/fanout"
	"github.com/mhaase/strompreis-go/hours"
	"github.com/mhaase/strompreis-go/httpx"
	"github.com/mhaase/strompreis-go/logging"
	"github.com/mhaase/strompreis-go/mqttpub"
	"github.com/mhaase/strompreis-go/service"
	"github.com/mhaase/strompreis-go/task"
	"github.com/mhaase/strompreis-go/tibber"
	"github.com/mhaase/strompreis-go/types"
	"github.com/mhaase/strompreis-go/www"
)

var Version = "?.?.?"

func main() {
	defer func() {
		if err := recover(); err != nil {
			exitWithError(slog.Default(), fmt.Errorf("application panicked: %v", err))
		} else {
			slog.Default().Info("application is shutting down...")
		}
	}()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cnfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	if err := hours.SetStatsTimezone(cnfg.Stats.GetTimezone()); err != nil {
		panic(fmt.Sprintf("failed to set stats timezone: %v", err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consoleHandler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cnfg.Logging.GetConsoleLevel(),
		TimeFormat: time.RFC3339,
	})
	slog.New(consoleHandler).Debug("strompreis is starting...", slog.String("version", Version))

	db, err := database.New(ctx, cnfg.Database.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to connect to database: %v", err))
	}
	defer db.Close()

	logger := slog.New(logging.NewMultiHandler(
		consoleHandler,
		logging.NewSQLiteHandler(db, cnfg.Logging.GetDbLevel(), cnfg.Logging.GetDbAttrsFormat())))
	slog.SetDefault(logger)

	// Now we can use the logger to log database operations into the database itself
	db.SetLogger(logger.With("module", "database"))

	infos := cnfg.ProviderInfos()

	hub := fanout.NewHub(logger)
	priceCache := cache.NewCurrent(db.GetLatestPricePoint)
	evaluator := alert.NewEvaluator(logger, newMetricSource(db), cnfg.AlertRules())

	scheduler := task.NewScheduler(logger, db, priceCache, hub, evaluator, cnfg.Fetch)
	client := httpx.New(cnfg.Fetch.GetTimeout())
	for _, p := range cnfg.Providers {
		adapter, err := buildAdapter(p, client)
		if err != nil {
			panic(fmt.Sprintf("failed to build provider %q: %v", p.Name, err))
		}
		scheduler.AddProvider(p.Info(cnfg.Fetch.GetInterval()), adapter)
	}

	// Alert rules are hot-reloadable, everything else needs a restart.
	config.Watch(logger.With("module", "config"), func(newCnfg *config.AppConfig) {
		evaluator.SetRules(newCnfg.AlertRules())
		logger.Info("alert rules reloaded", slog.Int("rules", len(newCnfg.Alerts)))
	})

	tasks := task.NewTasks(db, scheduler, infos, cnfg)
	if isDevMode() {
		logger.Info("dev mode, skipping task scheduling")
	} else {
		go scheduler.Run(ctx)
		tasks.Run()
		defer tasks.Stop()
	}

	if cnfg.Mqtt.Enabled {
		publisher := mqttpub.New(hub, cnfg.Mqtt)
		if err := publisher.Connect(); err != nil {
			panic(fmt.Sprintf("mqtt connection error: %v", err))
		}
		go publisher.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-ctx.Done():
			logger.Info("main context done")
		case sig := <-sigCh:
			logger.Info("received signal", slog.Any("signal", sig))
			cancel()
		}
	}()

	svc := service.New(logger, db, priceCache, scheduler, infos)
	server := www.NewServer(svc, hub, cnfg)
	server.Run(ctx)
}

func buildAdapter(p config.AppConfigProvider, client *httpx.Client) (types.PriceProvider, error) {
	switch p.Kind {
	case config.ProviderKindAwattar:
		a := awattar.New(p.Name, client)
		if strings.EqualFold(p.Country, "AT") {
			a = a.WithBaseURL("https://api.awattar.at/v1")
		}
		return a, nil
	case config.ProviderKindEntsoe:
		if p.ApiKey == "" || p.Area == "" {
			return nil, fmt.Errorf("entsoe needs api_key and area")
		}
		return entsoe.New(p.Name, p.ApiKey, p.Area, client), nil
	case config.ProviderKindTibber:
		if p.ApiToken == "" || p.HomeId == "" {
			return nil, fmt.Errorf("tibber needs api_token and home_id")
		}
		return tibber.New(p.Name, p.ApiToken, p.HomeId, client), nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", p.Kind)
	}
}

// newMetricSource resolves alert rule metrics from the store: the
// rolling average over the rule's window, or the latest price when the
// rule has no window.
func newMetricSource(db *database.Database) alert.MetricSource {
	return func(ctx context.Context, rule types.AlertRule, provider string, asOf time.Time) (float64, bool, error) {
		if rule.TimeWindow <= 0 {
			p, err := db.GetLatestPricePoint(ctx, provider, asOf)
			if err != nil {
				if errors.Is(err, database.ErrNoPricePoint) {
					return 0, false, nil
				}
				return 0, false, err
			}
			return p.Price, true, nil
		}

		r := types.TimeRange{From: asOf.Add(-rule.TimeWindow), To: asOf.Add(time.Second)}
		points, err := db.GetPricePoints(ctx, []string{provider}, r)
		if err != nil {
			return 0, false, err
		}
		avg, ok := calc.RollingAverage(points, asOf, rule.TimeWindow)
		return avg, ok, nil
	}
}

func isDevMode() bool {
	return strings.EqualFold(os.Getenv("APP_ENV"), "development")
}

func exitWithError(logger *slog.Logger, err error) {
	if err != nil {
		logger.Error("application shutting down with error", slog.Any("error", err))
	}

	time.Sleep(2 * time.Second)
	os.Exit(1)
}
