// Package task drives the collection cycles: one runner per provider,
// polling on its cadence, with backoff on transient failures and a
// hard stop after too many in a row. Housekeeping jobs run on cron
// schedules next to the polling loop.
package task

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mhaase/strompreis-go/alert"
	"github.com/mhaase/strompreis-go/cache"
	"github.com/mhaase/strompreis-go/config"
	"github.com/mhaase/strompreis-go/database"
	"github.com/mhaase/strompreis-go/fanout"
	"github.com/mhaase/strompreis-go/types"
)

type State string

const (
	StateIdle     State = "idle"
	StateFetching State = "fetching"
	StateBackoff  State = "backoff"
	StateDisabled State = "disabled"
)

// ProviderHealth is a point-in-time snapshot of one runner.
type ProviderHealth struct {
	Provider            string    `json:"provider"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	NextRun             time.Time `json:"next_run,omitzero"`
}

type runner struct {
	info     types.ProviderInfo
	provider types.PriceProvider

	mu          sync.Mutex
	state       State
	failures    int
	lastSuccess time.Time
	lastError   string
	nextRun     time.Time
}

func (r *runner) health() ProviderHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ProviderHealth{
		Provider:            r.info.Name,
		State:               r.state,
		ConsecutiveFailures: r.failures,
		LastSuccess:         r.lastSuccess,
		LastError:           r.lastError,
		NextRun:             r.nextRun,
	}
}

type Scheduler struct {
	logger    *slog.Logger
	db        *database.Database
	cache     *cache.Current
	hub       *fanout.Hub
	evaluator *alert.Evaluator
	fetch     config.AppConfigFetch
	backoff   Backoff

	group singleflight.Group
	now   func() time.Time
	tick  time.Duration

	mu      sync.Mutex
	runners map[string]*runner
	order   []string
}

func NewScheduler(
	logger *slog.Logger,
	db *database.Database,
	priceCache *cache.Current,
	hub *fanout.Hub,
	evaluator *alert.Evaluator,
	fetch config.AppConfigFetch,
) *Scheduler {
	return &Scheduler{
		logger:    logger.With("module", "scheduler"),
		db:        db,
		cache:     priceCache,
		hub:       hub,
		evaluator: evaluator,
		fetch:     fetch,
		backoff:   Backoff{Base: fetch.GetBackoffBase(), Cap: fetch.GetBackoffCap()},
		now:       time.Now,
		tick:      5 * time.Second,
		runners:   make(map[string]*runner),
	}
}

// AddProvider registers an adapter. Disabled providers are tracked for
// health queries but never polled.
func (s *Scheduler) AddProvider(info types.ProviderInfo, provider types.PriceProvider) {
	r := &runner{info: info, provider: provider, state: StateIdle}
	if !info.Enabled {
		r.state = StateDisabled
		r.lastError = "disabled in config"
	} else {
		// First collection right after startup, not a full cadence away.
		r.nextRun = s.now().Add(5 * time.Second)
	}

	s.mu.Lock()
	s.runners[info.Name] = r
	s.order = append(s.order, info.Name)
	s.mu.Unlock()
}

// Run polls until ctx is cancelled. Each due provider is collected on
// its own goroutine; a slow upstream never delays the others.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", slog.Int("providers", len(s.order)))

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			for _, name := range s.dueProviders() {
				wg.Add(1)
				go func(name string) {
					defer wg.Done()
					s.Collect(ctx, name)
				}(name)
			}
		}
	}
}

func (s *Scheduler) dueProviders() []string {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []string
	for _, name := range s.order {
		r := s.runners[name]
		r.mu.Lock()
		if r.state != StateDisabled && r.state != StateFetching && !r.nextRun.After(now) {
			due = append(due, name)
		}
		r.mu.Unlock()
	}
	return due
}

// Collect runs one collection cycle for the named provider. Concurrent
// calls for the same provider collapse into a single fetch.
func (s *Scheduler) Collect(ctx context.Context, name string) error {
	s.mu.Lock()
	r, ok := s.runners[name]
	s.mu.Unlock()
	if !ok {
		return &types.ConfigError{Field: "provider", Reason: "unknown provider " + name}
	}

	_, err, _ := s.group.Do(name, func() (any, error) {
		return nil, s.collect(ctx, r)
	})
	return err
}

// Reset clears a provider's failure streak and re-enables it. This is
// the only way back from the disabled state.
func (s *Scheduler) Reset(name string) error {
	s.mu.Lock()
	r, ok := s.runners[name]
	s.mu.Unlock()
	if !ok {
		return &types.ConfigError{Field: "provider", Reason: "unknown provider " + name}
	}

	r.mu.Lock()
	r.state = StateIdle
	r.failures = 0
	r.lastError = ""
	r.nextRun = s.now()
	r.mu.Unlock()

	s.logger.Info("provider reset", slog.String("provider", name))
	return nil
}

// Health reports all runners in registration order.
func (s *Scheduler) Health() []ProviderHealth {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ProviderHealth, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.runners[name].health())
	}
	return out
}
