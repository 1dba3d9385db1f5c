package types

import "time"

type Comparison string

const (
	ComparisonBelow Comparison = "below"
	ComparisonAbove Comparison = "above"
)

// AlertRule is a user-defined threshold rule. Provider may be empty,
// meaning the rule applies to every provider. Rules with TimeWindow > 0
// evaluate the rolling average over that horizon, rules without one
// evaluate the latest price. MinDuration is how long the condition must
// hold continuously before the rule fires.
type AlertRule struct {
	Name        string
	Provider    string
	Threshold   float64
	Comparison  Comparison
	TimeWindow  time.Duration
	MinDuration time.Duration
	Active      bool
}

// Matches reports whether price satisfies the rule's comparison.
func (r AlertRule) Matches(price float64) bool {
	if r.Comparison == ComparisonAbove {
		return price > r.Threshold
	}
	return price < r.Threshold
}

// AlertEvent is emitted once per false-to-true transition of a rule
// after its MinDuration has elapsed. Append-only, never deleted here.
type AlertEvent struct {
	Rule         string
	Provider     string
	TriggeredAt  time.Time
	MatchedPrice float64
	Window       TimeRange
}
