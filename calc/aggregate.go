// Package calc holds the aggregation math over stored price points.
package calc

import (
	"math"
	"time"

	"github.com/mhaase/strompreis-go/convert"
	"github.com/mhaase/strompreis-go/hours"
	"github.com/mhaase/strompreis-go/types"
)

// Stats summarizes a set of price points. Count is zero for an empty
// set; Min, Max and Avg are NaN in that case.
type Stats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

func Compute(points []types.PricePoint) Stats {
	if len(points) == 0 {
		return Stats{Min: math.NaN(), Max: math.NaN(), Avg: math.NaN()}
	}

	s := Stats{Count: len(points), Min: points[0].Price, Max: points[0].Price}
	sum := 0.0
	for _, p := range points {
		sum += p.Price
		if p.Price < s.Min {
			s.Min = p.Price
		}
		if p.Price > s.Max {
			s.Max = p.Price
		}
	}
	s.Avg = convert.RoundFloat64(sum/float64(s.Count), 4)
	return s
}

// Delta is the change from the preceding interval to the current one.
// Known is false when there is no preceding interval to compare with.
type Delta struct {
	Absolute float64 `json:"absolute"`
	Percent  float64 `json:"percent"`
	Known    bool    `json:"known"`
}

func ComputeDelta(current types.PricePoint, previous *types.PricePoint) Delta {
	if previous == nil {
		return Delta{}
	}
	d := Delta{Absolute: convert.RoundFloat64(current.Price-previous.Price, 4), Known: true}
	if previous.Price != 0 {
		d.Percent = convert.TwoDecimals(d.Absolute / math.Abs(previous.Price) * 100)
	}
	return d
}

// HourOfDay buckets points by their local hour of day and aggregates
// each bucket. Hours with no data keep Count zero so a gap in the
// series never drags the averages toward zero.
func HourOfDay(points []types.PricePoint) [24]Stats {
	buckets := make([][]types.PricePoint, 24)
	for _, p := range points {
		h := hours.LocalHour(p.Start)
		buckets[h] = append(buckets[h], p)
	}

	var out [24]Stats
	for h, bucket := range buckets {
		out[h] = Compute(bucket)
	}
	return out
}

// RollingAverage averages the points whose interval ends within
// (asOf-window, asOf]. It returns false when no point qualifies.
func RollingAverage(points []types.PricePoint, asOf time.Time, window time.Duration) (float64, bool) {
	from := asOf.Add(-window)
	var sum float64
	var n int
	for _, p := range points {
		if p.End.After(from) && !p.End.After(asOf) {
			sum += p.Price
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return convert.RoundFloat64(sum/float64(n), 4), true
}
