// Package alert evaluates threshold rules against the price stream and
// emits edge-triggered events. A rule fires once when its condition has
// held for the configured minimum duration and stays silent until the
// condition clears and establishes again.
package alert

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mhaase/strompreis-go/types"
)

// MetricSource resolves the value a rule is evaluated against for one
// provider. For rules with a time window this is a rolling average,
// otherwise the latest price. ok is false when no data covers the rule
// right now; such cycles leave the rule's state untouched.
type MetricSource func(ctx context.Context, rule types.AlertRule, provider string, asOf time.Time) (value float64, ok bool, err error)

type ruleState struct {
	holdingSince time.Time // zero when the condition does not hold
	fired        bool
}

type Evaluator struct {
	logger *slog.Logger
	source MetricSource

	mu    sync.Mutex
	rules []types.AlertRule
	state map[string]*ruleState
}

func NewEvaluator(logger *slog.Logger, source MetricSource, rules []types.AlertRule) *Evaluator {
	return &Evaluator{
		logger: logger.With("module", "alert"),
		source: source,
		rules:  rules,
		state:  make(map[string]*ruleState),
	}
}

// SetRules swaps the active rule set. State for rules that keep their
// name survives the swap so a config reload does not re-fire alerts
// that are already in their held state.
func (e *Evaluator) SetRules(rules []types.AlertRule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	keep := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		keep[r.Name] = struct{}{}
	}
	for key := range e.state {
		name, _, _ := strings.Cut(key, "/")
		if _, ok := keep[name]; !ok {
			delete(e.state, key)
		}
	}
	e.rules = rules
}

// Evaluate runs one evaluation cycle for every active rule bound to the
// provider and returns the events that fired this cycle.
func (e *Evaluator) Evaluate(ctx context.Context, provider string, asOf time.Time) []types.AlertEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []types.AlertEvent
	for _, rule := range e.rules {
		if !rule.Active {
			continue
		}
		if rule.Provider != "" && rule.Provider != provider {
			continue
		}

		value, ok, err := e.source(ctx, rule, provider, asOf)
		if err != nil {
			e.logger.Warn("metric lookup failed", slog.String("rule", rule.Name), slog.Any("error", err))
			continue
		}
		if !ok {
			// No data, not a state transition.
			continue
		}

		// Provider-agnostic rules track an episode per provider.
		key := rule.Name + "/" + provider
		st := e.state[key]
		if st == nil {
			st = &ruleState{}
			e.state[key] = st
		}

		if !rule.Matches(value) {
			st.holdingSince = time.Time{}
			st.fired = false
			continue
		}

		if st.holdingSince.IsZero() {
			st.holdingSince = asOf
		}
		if st.fired || asOf.Sub(st.holdingSince) < rule.MinDuration {
			continue
		}

		st.fired = true
		events = append(events, types.AlertEvent{
			Rule:         rule.Name,
			Provider:     provider,
			TriggeredAt:  asOf,
			MatchedPrice: value,
			Window:       types.TimeRange{From: st.holdingSince, To: asOf},
		})
		e.logger.Info("alert fired",
			slog.String("rule", rule.Name),
			slog.String("provider", rule.Provider),
			slog.Float64("value", value))
	}
	return events
}
