// Package service is the read-side facade: current prices, historical
// series and aggregates, provider health. The HTTP layer and any other
// frontends call through here instead of reaching into the store.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mhaase/strompreis-go/cache"
	"github.com/mhaase/strompreis-go/calc"
	"github.com/mhaase/strompreis-go/database"
	"github.com/mhaase/strompreis-go/task"
	"github.com/mhaase/strompreis-go/types"
)

type Service struct {
	logger    *slog.Logger
	db        *database.Database
	cache     *cache.Current
	scheduler *task.Scheduler
	infos     []types.ProviderInfo
}

func New(logger *slog.Logger, db *database.Database, priceCache *cache.Current, scheduler *task.Scheduler, infos []types.ProviderInfo) *Service {
	return &Service{
		logger:    logger.With("module", "service"),
		db:        db,
		cache:     priceCache,
		scheduler: scheduler,
		infos:     infos,
	}
}

func (s *Service) Providers() []types.ProviderInfo {
	return s.infos
}

// CurrentPrice is one provider's price for the interval covering now.
// Known is false when the provider has no data for the current moment.
type CurrentPrice struct {
	Provider string           `json:"provider"`
	Known    bool             `json:"known"`
	Point    types.PricePoint `json:"point,omitzero"`
	Delta    calc.Delta       `json:"delta"`
}

// CurrentPrices resolves the price covering asOf for every enabled
// provider, served from the cache where possible.
func (s *Service) CurrentPrices(ctx context.Context, asOf time.Time) []CurrentPrice {
	out := make([]CurrentPrice, 0, len(s.infos))
	for _, info := range s.infos {
		if !info.Enabled {
			continue
		}

		cp := CurrentPrice{Provider: info.Name}
		p, err := s.cache.Get(ctx, info.Name, asOf)
		switch {
		case err == nil:
			cp.Known = true
			cp.Point = p
			if prev, err := s.db.GetPreviousPricePoint(ctx, info.Name, p.Start); err == nil {
				cp.Delta = calc.ComputeDelta(p, &prev)
			}
		case !errors.Is(err, database.ErrNoPricePoint):
			s.logger.Error("current price lookup failed",
				slog.String("provider", info.Name), slog.Any("error", err))
		}
		out = append(out, cp)
	}
	return out
}

// SeriesPage is one page of historical points in ascending interval
// order. Next is nil on the last page.
type SeriesPage struct {
	Points []types.PricePoint `json:"points"`
	Next   *database.Cursor   `json:"next,omitempty"`
}

func (s *Service) Series(ctx context.Context, providers []string, r types.TimeRange, after *database.Cursor, limit int) (SeriesPage, error) {
	points, next, err := s.db.GetPricePointsPage(ctx, providers, r, after, limit)
	if err != nil {
		return SeriesPage{}, err
	}
	return SeriesPage{Points: points, Next: next}, nil
}

// HourlyAverages aggregates a provider's points from the last lookback
// days into per-hour-of-day stats. Hours without data stay at Count 0.
func (s *Service) HourlyAverages(ctx context.Context, provider string, lookbackDays int, asOf time.Time) ([24]calc.Stats, error) {
	r := types.TimeRange{From: asOf.AddDate(0, 0, -lookbackDays), To: asOf}
	points, err := s.db.GetPricePoints(ctx, []string{provider}, r)
	if err != nil {
		return [24]calc.Stats{}, err
	}
	return calc.HourOfDay(points), nil
}

func (s *Service) ProviderHealth() []task.ProviderHealth {
	return s.scheduler.Health()
}

// ResetProvider clears a disabled provider's failure state and
// schedules an immediate collection.
func (s *Service) ResetProvider(name string) error {
	return s.scheduler.Reset(name)
}

func (s *Service) RecentAlerts(ctx context.Context, since time.Time, limit int) ([]types.AlertEvent, error) {
	return s.db.GetAlertEvents(ctx, since, limit)
}
