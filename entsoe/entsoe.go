// Package entsoe fetches day-ahead prices from the ENTSO-E transparency
// platform. The API serves XML market documents and limits how much a
// single query may span, so the fetch window is walked in one-day
// chunks.
package entsoe

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/mhaase/strompreis-go/httpx"
	"github.com/mhaase/strompreis-go/types"
)

const (
	defaultBaseURL = "https://web-api.tp.entsoe.eu/api"
	documentType   = "A44" // day-ahead prices
	periodLayout   = "200601021504"
)

type point struct {
	Position int     `xml:"position"`
	Price    float64 `xml:"price.amount"`
}

type period struct {
	Start      string  `xml:"timeInterval>start"`
	Resolution string  `xml:"resolution"`
	Points     []point `xml:"Point"`
}

type timeSeries struct {
	Periods []period `xml:"Period"`
}

type marketDocument struct {
	XMLName xml.Name
	Reason  struct {
		Code int    `xml:"code"`
		Text string `xml:"text"`
	} `xml:"Reason"`
	Series []timeSeries `xml:"TimeSeries"`
}

type Entsoe struct {
	name    string
	baseURL string
	token   string
	area    string // EIC code, e.g. 10Y1001A1001A82H for DE-LU
	client  *httpx.Client
}

func New(name, token, area string, client *httpx.Client) *Entsoe {
	return &Entsoe{name: name, baseURL: defaultBaseURL, token: token, area: area, client: client}
}

func (e *Entsoe) WithBaseURL(baseURL string) *Entsoe {
	e.baseURL = baseURL
	return e
}

func (e *Entsoe) Name() string { return e.name }

func (e *Entsoe) Fetch(ctx context.Context, window types.TimeRange) ([]types.RawPricePoint, error) {
	var points []types.RawPricePoint
	for from := window.From.UTC(); from.Before(window.To); from = from.Add(24 * time.Hour) {
		to := from.Add(24 * time.Hour)
		if to.After(window.To) {
			to = window.To.UTC()
		}
		chunk, err := e.fetchChunk(ctx, from, to)
		if err != nil {
			return nil, err
		}
		points = append(points, chunk...)
	}
	return points, nil
}

func (e *Entsoe) fetchChunk(ctx context.Context, from, to time.Time) ([]types.RawPricePoint, error) {
	q := url.Values{}
	q.Set("securityToken", e.token)
	q.Set("documentType", documentType)
	q.Set("in_Domain", e.area)
	q.Set("out_Domain", e.area)
	q.Set("periodStart", from.Format(periodLayout))
	q.Set("periodEnd", to.Format(periodLayout))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, types.PermanentFetchError(e.name, fmt.Errorf("building request: %w", err))
	}

	resp, err := e.client.Do(ctx, req)
	if err != nil {
		return nil, types.TransientFetchError(e.name, fmt.Errorf("fetching day-ahead prices: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, types.PermanentFetchError(e.name, fmt.Errorf("security token rejected, status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, types.TransientFetchError(e.name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	default:
		return nil, types.PermanentFetchError(e.name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.TransientFetchError(e.name, fmt.Errorf("reading response: %w", err))
	}

	var doc marketDocument
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, types.TransientFetchError(e.name, fmt.Errorf("decoding market document: %w", err))
	}

	// The platform answers "no data" with a 200 acknowledgement
	// document. That is an empty chunk, not a failure.
	if doc.XMLName.Local == "Acknowledgement_MarketDocument" {
		if doc.Reason.Code == 999 {
			return nil, nil
		}
		return nil, types.PermanentFetchError(e.name,
			fmt.Errorf("request rejected: %s (code %d)", doc.Reason.Text, doc.Reason.Code))
	}

	var points []types.RawPricePoint
	for _, series := range doc.Series {
		for _, p := range series.Periods {
			expanded, err := expandPeriod(p)
			if err != nil {
				return nil, types.PermanentFetchError(e.name, err)
			}
			points = append(points, expanded...)
		}
	}
	return points, nil
}

// expandPeriod turns a period's positional points into absolute
// intervals. Position n covers [start+(n-1)*res, start+n*res).
func expandPeriod(p period) ([]types.RawPricePoint, error) {
	start, err := time.Parse(periodLayout, p.Start)
	if err != nil {
		// Some documents spell the interval with separators.
		start, err = time.Parse("2006-01-02T15:04Z", p.Start)
		if err != nil {
			return nil, fmt.Errorf("parsing period start %q: %w", p.Start, err)
		}
	}

	res, err := parseResolution(p.Resolution)
	if err != nil {
		return nil, err
	}

	points := make([]types.RawPricePoint, 0, len(p.Points))
	for _, pt := range p.Points {
		if pt.Position < 1 {
			return nil, fmt.Errorf("invalid point position %d", pt.Position)
		}
		s := start.Add(time.Duration(pt.Position-1) * res)
		points = append(points, types.RawPricePoint{
			Start: s.UTC(),
			End:   s.Add(res).UTC(),
			Price: pt.Price, // EUR/MWh
		})
	}
	return points, nil
}

func parseResolution(s string) (time.Duration, error) {
	switch s {
	case "PT60M":
		return time.Hour, nil
	case "PT30M":
		return 30 * time.Minute, nil
	case "PT15M":
		return 15 * time.Minute, nil
	default:
		return 0, fmt.Errorf("unsupported resolution %q", s)
	}
}
