package types

import (
	"context"
	"time"
)

// PricePoint is one normalized price observation for a fixed interval.
// Price is always in cent/kWh, times are always UTC.
type PricePoint struct {
	Provider   string
	Start      time.Time
	End        time.Time
	Price      float64
	Currency   string
	CapturedAt time.Time
}

// RawPricePoint is what an adapter hands to the normalizer: interval and
// price exactly as the upstream reported them, unit conversion pending.
type RawPricePoint struct {
	Start time.Time
	End   time.Time
	Price float64
}

type TimeRange struct {
	From time.Time
	To   time.Time
}

func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.From) && t.Before(r.To)
}

func (r TimeRange) Duration() time.Duration {
	return r.To.Sub(r.From)
}

// PriceProvider is implemented by every adapter regardless of wire
// format. Adapters never touch the store, they only fetch and map.
type PriceProvider interface {
	Name() string
	Fetch(ctx context.Context, window TimeRange) ([]RawPricePoint, error)
}
