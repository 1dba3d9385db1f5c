// Package awattar fetches day-ahead market prices from the aWATTar
// REST API. The upstream reports EUR/MWh over hourly intervals with
// millisecond epoch bounds.
package awattar

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mhaase/strompreis-go/httpx"
	"github.com/mhaase/strompreis-go/types"
)

const defaultBaseURL = "https://api.awattar.de/v1"

type rawEntry struct {
	StartTimestamp int64   `json:"start_timestamp"` // ms epoch
	EndTimestamp   int64   `json:"end_timestamp"`   // ms epoch
	MarketPrice    float64 `json:"marketprice"`     // EUR/MWh
	Unit           string  `json:"unit"`
}

type marketDataResponse struct {
	Data []rawEntry `json:"data"`
}

type Awattar struct {
	name    string
	baseURL string
	client  *httpx.Client
}

// New builds an adapter for the German market. For Austria pass the
// api.awattar.at base URL via WithBaseURL.
func New(name string, client *httpx.Client) *Awattar {
	return &Awattar{name: name, baseURL: defaultBaseURL, client: client}
}

func (a *Awattar) WithBaseURL(baseURL string) *Awattar {
	a.baseURL = baseURL
	return a
}

func (a *Awattar) Name() string { return a.name }

// Fetch returns every interval the upstream has inside the window. The
// API serves the whole horizon in one call, no paging.
func (a *Awattar) Fetch(ctx context.Context, window types.TimeRange) ([]types.RawPricePoint, error) {
	q := url.Values{}
	q.Set("start", strconv.FormatInt(window.From.UnixMilli(), 10))
	q.Set("end", strconv.FormatInt(window.To.UnixMilli(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/marketdata?"+q.Encode(), nil)
	if err != nil {
		return nil, types.PermanentFetchError(a.name, fmt.Errorf("building request: %w", err))
	}

	resp, err := a.client.Do(ctx, req)
	if err != nil {
		return nil, types.TransientFetchError(a.name, fmt.Errorf("fetching market data: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, types.PermanentFetchError(a.name, fmt.Errorf("rejected with status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, types.TransientFetchError(a.name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	default:
		return nil, types.PermanentFetchError(a.name, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var body marketDataResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		// Truncated or garbled payloads are usually upstream hiccups.
		return nil, types.TransientFetchError(a.name, fmt.Errorf("decoding response: %w", err))
	}

	points := make([]types.RawPricePoint, 0, len(body.Data))
	for _, e := range body.Data {
		points = append(points, types.RawPricePoint{
			Start: time.UnixMilli(e.StartTimestamp).UTC(),
			End:   time.UnixMilli(e.EndTimestamp).UTC(),
			Price: e.MarketPrice,
		})
	}
	return points, nil
}
