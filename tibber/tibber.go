// Package tibber fetches hourly energy prices for a Tibber home over
// the GraphQL API. The upstream reports EUR/kWh (energy component
// without tax) for today and, once published, tomorrow.
package tibber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mhaase/strompreis-go/httpx"
	"github.com/mhaase/strompreis-go/types"
)

const defaultBaseURL = "https://api.tibber.com/v1-beta/gql"

type queryRequest struct {
	Query string `json:"query"`
}

type queryResponse[T any] struct {
	Data struct {
		Viewer struct {
			Home T `json:"home"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

type priceEntry struct {
	StartsAt string  `json:"startsAt"`
	Energy   float64 `json:"energy"` // EUR/kWh
}

type priceInfoResponse struct {
	CurrentSubscription struct {
		PriceInfo struct {
			Today    []priceEntry `json:"today"`
			Tomorrow []priceEntry `json:"tomorrow"`
		} `json:"priceInfo"`
	} `json:"currentSubscription"`
}

type Tibber struct {
	name    string
	baseURL string
	token   string
	homeID  string
	client  *httpx.Client
}

func New(name, token, homeID string, client *httpx.Client) *Tibber {
	return &Tibber{name: name, baseURL: defaultBaseURL, token: token, homeID: homeID, client: client}
}

func (t *Tibber) WithBaseURL(baseURL string) *Tibber {
	t.baseURL = baseURL
	return t
}

func (t *Tibber) Name() string { return t.name }

// Fetch returns today's and tomorrow's hourly prices clipped to the
// window. Tibber has no arbitrary range query; the window only filters
// what the subscription exposes.
func (t *Tibber) Fetch(ctx context.Context, window types.TimeRange) ([]types.RawPricePoint, error) {
	body, err := doQuery[priceInfoResponse](ctx, t, `
		currentSubscription {
			priceInfo {
				today { startsAt energy }
				tomorrow { startsAt energy }
			}
		}`)
	if err != nil {
		return nil, err
	}

	info := body.Data.Viewer.Home.CurrentSubscription.PriceInfo
	entries := append(info.Today, info.Tomorrow...)

	points := make([]types.RawPricePoint, 0, len(entries))
	for _, e := range entries {
		startsAt, err := time.Parse(time.RFC3339, e.StartsAt)
		if err != nil {
			return nil, types.PermanentFetchError(t.name, fmt.Errorf("parsing startsAt %q: %w", e.StartsAt, err))
		}
		start := startsAt.UTC()
		if !window.Contains(start) {
			continue
		}
		points = append(points, types.RawPricePoint{
			Start: start,
			End:   start.Add(time.Hour),
			Price: e.Energy,
		})
	}
	return points, nil
}

func doQuery[T any](ctx context.Context, t *Tibber, innerQuery string) (*queryResponse[T], error) {
	query := fmt.Sprintf(`query {
		viewer {
			home(id:"%s") {
				%s
			}
		}
	}`, t.homeID, innerQuery)

	reqBody, err := json.Marshal(queryRequest{Query: query})
	if err != nil {
		return nil, types.PermanentFetchError(t.name, fmt.Errorf("encoding query: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, types.PermanentFetchError(t.name, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+t.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	res, err := t.client.Do(ctx, req)
	if err != nil {
		return nil, types.TransientFetchError(t.name, fmt.Errorf("querying api: %w", err))
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusOK:
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, types.PermanentFetchError(t.name, fmt.Errorf("token rejected, status %d", res.StatusCode))
	case res.StatusCode == http.StatusTooManyRequests || res.StatusCode >= 500:
		return nil, types.TransientFetchError(t.name, fmt.Errorf("unexpected status %d", res.StatusCode))
	default:
		return nil, types.PermanentFetchError(t.name, fmt.Errorf("unexpected status %d", res.StatusCode))
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, types.TransientFetchError(t.name, fmt.Errorf("reading response: %w", err))
	}

	resBody := new(queryResponse[T])
	if err := json.Unmarshal(raw, resBody); err != nil {
		return nil, types.TransientFetchError(t.name, fmt.Errorf("decoding response: %w", err))
	}

	if len(resBody.Errors) > 0 {
		messages := make([]string, len(resBody.Errors))
		for i, e := range resBody.Errors {
			messages[i] = e.Message
		}
		// GraphQL-level errors mean the query or home id is wrong,
		// retrying the same request cannot help.
		return nil, types.PermanentFetchError(t.name, fmt.Errorf("graphql error: %s", strings.Join(messages, "; ")))
	}

	return resBody, nil
}
