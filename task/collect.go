package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mhaase/strompreis-go/calc"
	"github.com/mhaase/strompreis-go/database"
	"github.com/mhaase/strompreis-go/normalize"
	"github.com/mhaase/strompreis-go/types"
)

// collect runs one full cycle for a provider: fetch, normalize, store,
// publish, evaluate alerts, log the outcome.
func (s *Scheduler) collect(ctx context.Context, r *runner) error {
	logger := s.logger.With(slog.String("provider", r.info.Name))

	r.mu.Lock()
	if r.state == StateDisabled {
		r.mu.Unlock()
		return nil
	}
	r.state = StateFetching
	r.mu.Unlock()

	started := s.now()
	window := s.fetch.GetWindow(started)

	fctx, cancel := context.WithTimeout(ctx, s.fetch.GetTimeout())
	raws, err := r.provider.Fetch(fctx, window)
	cancel()

	if err != nil {
		s.recordFailure(logger, r, started, err)
		return err
	}

	points, dropped := normalize.Batch(r.info, raws, started)
	for _, derr := range dropped {
		logger.Warn("dropping invalid price point", slog.Any("error", derr))
	}

	res, err := s.db.UpsertPricePoints(ctx, points)
	if err != nil {
		logger.Error("storing price points failed", slog.Any("error", err))
		s.recordFailure(logger, r, started, types.TransientFetchError(r.info.Name, err))
		return err
	}

	status := database.FetchStatusSuccess
	if len(dropped) > 0 {
		status = database.FetchStatusPartial
	}

	if res.Inserted > 0 || res.Updated > 0 {
		s.cache.Invalidate(r.info.Name)
		s.publishCurrent(ctx, logger, r.info.Name, started)
	}

	for _, ev := range s.evaluator.Evaluate(ctx, r.info.Name, started) {
		if err := s.db.SaveAlertEvent(ctx, ev); err != nil {
			logger.Error("saving alert event failed", slog.String("rule", ev.Rule), slog.Any("error", err))
		}
		s.hub.PublishAlert(ev)
	}

	s.recordSuccess(r, started)
	s.saveFetchLog(ctx, logger, database.FetchLogRow{
		Provider: r.info.Name,
		Status:   status,
		Records:  len(points),
		Duration: s.now().Sub(started),
		LoggedAt: started,
	})

	logger.Info("collection done",
		slog.Int("fetched", len(raws)),
		slog.Int("stored", res.Inserted+res.Updated),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("dropped", len(dropped)))
	return nil
}

// publishCurrent pushes the interval covering now to live subscribers,
// together with its change against the preceding interval.
func (s *Scheduler) publishCurrent(ctx context.Context, logger *slog.Logger, provider string, now time.Time) {
	curr, err := s.db.GetLatestPricePoint(ctx, provider, now)
	if err != nil {
		if !errors.Is(err, database.ErrNoPricePoint) {
			logger.Error("loading current price failed", slog.Any("error", err))
		}
		return
	}

	var prev *types.PricePoint
	if p, err := s.db.GetPreviousPricePoint(ctx, provider, curr.Start); err == nil {
		prev = &p
	} else if !errors.Is(err, database.ErrNoPricePoint) {
		logger.Error("loading previous price failed", slog.Any("error", err))
	}

	s.hub.PublishPrice(curr, calc.ComputeDelta(curr, prev))
}

func (s *Scheduler) recordSuccess(r *runner, started time.Time) {
	r.mu.Lock()
	r.state = StateIdle
	r.failures = 0
	r.lastError = ""
	r.lastSuccess = started
	r.nextRun = started.Add(r.info.Cadence)
	r.mu.Unlock()
}

func (s *Scheduler) recordFailure(logger *slog.Logger, r *runner, started time.Time, err error) {
	transient := types.IsTransientFetch(err)

	r.mu.Lock()
	r.lastError = err.Error()
	switch {
	case !transient:
		r.state = StateDisabled
		r.nextRun = time.Time{}
	default:
		r.failures++
		if r.failures >= s.fetch.GetMaxFailures() {
			r.state = StateDisabled
			r.nextRun = time.Time{}
		} else {
			r.state = StateBackoff
			r.nextRun = started.Add(s.backoff.Delay(r.failures - 1))
		}
	}
	state, failures, nextRun := r.state, r.failures, r.nextRun
	r.mu.Unlock()

	if state == StateDisabled {
		logger.Error("provider disabled until manual reset",
			slog.Bool("transient", transient),
			slog.Int("consecutiveFailures", failures),
			slog.Any("error", err))
	} else {
		logger.Warn("collection failed, backing off",
			slog.Int("consecutiveFailures", failures),
			slog.Time("nextRun", nextRun),
			slog.Any("error", err))
	}

	s.saveFetchLog(context.Background(), logger, database.FetchLogRow{
		Provider: r.info.Name,
		Status:   database.FetchStatusError,
		Error:    err.Error(),
		Duration: s.now().Sub(started),
		LoggedAt: started,
	})
}

func (s *Scheduler) saveFetchLog(ctx context.Context, logger *slog.Logger, row database.FetchLogRow) {
	if err := s.db.SaveFetchLog(ctx, row); err != nil {
		logger.Error("saving fetch log failed", slog.Any("error", err))
	}
}
