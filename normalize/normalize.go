// Package normalize turns raw adapter output into canonical price
// points: cent/kWh, UTC, intervals aligned to the provider's
// granularity. Everything here is pure; the same input always yields
// the same output.
package normalize

import (
	"fmt"
	"math"
	"time"

	"github.com/mhaase/strompreis-go/convert"
	"github.com/mhaase/strompreis-go/types"
)

// Point canonicalizes one raw point. It returns a *types.ValidationError
// when the point is out of policy; such points are dropped by the
// caller, never stored.
func Point(info types.ProviderInfo, raw types.RawPricePoint, capturedAt time.Time) (types.PricePoint, error) {
	if raw.Start.IsZero() || raw.End.IsZero() {
		return types.PricePoint{}, &types.ValidationError{Provider: info.Name, Reason: "missing interval bounds", Raw: raw}
	}
	if !raw.Start.Before(raw.End) {
		return types.PricePoint{}, &types.ValidationError{Provider: info.Name, Reason: "interval start not before end", Raw: raw}
	}
	if length := raw.End.Sub(raw.Start); length != info.Granularity {
		return types.PricePoint{}, &types.ValidationError{
			Provider: info.Name,
			Reason:   fmt.Sprintf("interval length %s does not match granularity %s", length, info.Granularity),
			Raw:      raw,
		}
	}
	if math.IsNaN(raw.Price) || math.IsInf(raw.Price, 0) {
		return types.PricePoint{}, &types.ValidationError{Provider: info.Name, Reason: "price is not finite", Raw: raw}
	}

	// Clock-skewed upstream timestamps snap onto the granularity grid.
	start := raw.Start.UTC().Truncate(info.Granularity)

	return types.PricePoint{
		Provider:   info.Name,
		Start:      start,
		End:        start.Add(info.Granularity),
		Price:      convert.RoundFloat64(raw.Price*info.UnitFactor, 4),
		Currency:   info.Currency,
		CapturedAt: capturedAt.UTC(),
	}, nil
}

// Batch canonicalizes a whole fetch result. Invalid points are
// collected as errors and do not abort the rest of the batch.
func Batch(info types.ProviderInfo, raws []types.RawPricePoint, capturedAt time.Time) ([]types.PricePoint, []error) {
	points := make([]types.PricePoint, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		p, err := Point(info, raw, capturedAt)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		points = append(points, p)
	}
	return points, errs
}
