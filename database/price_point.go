package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mhaase/strompreis-go/convert"
	"github.com/mhaase/strompreis-go/types"
)

// UpsertResult reports what an upsert batch changed in the store.
type UpsertResult struct {
	Inserted  int
	Updated   int
	Unchanged int
}

type storedInterval struct {
	start    time.Time
	end      time.Time
	captured time.Time
	price    float64
}

// UpsertPricePoints merges a batch of normalized points into the store
// inside one write transaction. For identical intervals the point with
// the later captured_at wins. Partial overlaps are trimmed so the
// intervals of one provider never overlap; trimming favors the point
// with the newer captured_at. The whole batch is applied atomically or
// not at all.
func (d *Database) UpsertPricePoints(ctx context.Context, points []types.PricePoint) (UpsertResult, error) {
	var res UpsertResult
	if len(points) == 0 {
		return res, nil
	}

	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin price point upsert: %w", err)
	}

	providers := make(map[string]bool)
	for _, p := range points {
		if !p.Start.Before(p.End) {
			tx.Rollback()
			return UpsertResult{}, fmt.Errorf("price point for %s has an empty interval (%s)", p.Provider, p.Start)
		}
		providers[p.Provider] = true
		if err := d.upsertOne(ctx, tx, p, &res); err != nil {
			tx.Rollback()
			return UpsertResult{}, err
		}
	}

	for provider := range providers {
		if err := assertNoOverlap(ctx, tx, provider); err != nil {
			tx.Rollback()
			return UpsertResult{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return UpsertResult{}, fmt.Errorf("commit price point upsert: %w", err)
	}

	return res, nil
}

func (d *Database) upsertOne(ctx context.Context, tx *sql.Tx, p types.PricePoint, res *UpsertResult) error {
	overlaps, err := overlapping(ctx, tx, p)
	if err != nil {
		return err
	}

	price := convert.RoundFloat64(p.Price, 4)
	insert := true

	for _, s := range overlaps {
		switch {
		case s.start.Equal(p.Start) && s.end.Equal(p.End):
			insert = false
			if !p.CapturedAt.After(s.captured) {
				res.Unchanged++
				continue
			}
			_, err := tx.ExecContext(ctx, `
				UPDATE price_point SET price = ?, currency = ?, captured_at = ?
				WHERE provider = ? AND start_at = ?`,
				price, p.Currency, fmtTime(p.CapturedAt), p.Provider, fmtTime(p.Start))
			if err != nil {
				return fmt.Errorf("superseding price point: %w", err)
			}
			if s.price != price {
				res.Updated++
			} else {
				res.Unchanged++
			}

		case p.CapturedAt.Before(s.captured):
			// The stored point is newer, so trim the incoming one.
			if !insert || !s.start.Before(p.End) || !s.end.After(p.Start) {
				continue // no longer overlaps the (possibly trimmed) point
			}
			if !s.start.After(p.Start) && !s.end.Before(p.End) {
				insert = false
				res.Unchanged++
			} else if s.start.After(p.Start) {
				p.End = s.start
			} else {
				p.Start = s.end
			}
			if !p.Start.Before(p.End) {
				insert = false
				res.Unchanged++
			}

		default:
			// The incoming point is newer, trim or drop the stored one.
			if !s.start.Before(p.End) || !s.end.After(p.Start) {
				continue // no longer overlaps the (possibly trimmed) point
			}
			var err error
			if s.start.Before(p.Start) {
				_, err = tx.ExecContext(ctx,
					`UPDATE price_point SET end_at = ? WHERE provider = ? AND start_at = ?`,
					fmtTime(p.Start), p.Provider, fmtTime(s.start))
			} else if s.end.After(p.End) {
				_, err = tx.ExecContext(ctx,
					`UPDATE price_point SET start_at = ? WHERE provider = ? AND start_at = ?`,
					fmtTime(p.End), p.Provider, fmtTime(s.start))
			} else {
				_, err = tx.ExecContext(ctx,
					`DELETE FROM price_point WHERE provider = ? AND start_at = ?`,
					p.Provider, fmtTime(s.start))
			}
			if err != nil {
				return fmt.Errorf("trimming overlapping price point: %w", err)
			}
		}
	}

	if insert {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO price_point (provider, start_at, end_at, price, currency, captured_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.Provider, fmtTime(p.Start), fmtTime(p.End), price, p.Currency, fmtTime(p.CapturedAt))
		if err != nil {
			return fmt.Errorf("inserting price point: %w", err)
		}
		res.Inserted++
	}

	return nil
}

func overlapping(ctx context.Context, tx *sql.Tx, p types.PricePoint) ([]storedInterval, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT start_at, end_at, captured_at, price
		FROM price_point
		WHERE provider = ? AND start_at < ? AND end_at > ?
		ORDER BY start_at`,
		p.Provider, fmtTime(p.End), fmtTime(p.Start))
	if err != nil {
		return nil, fmt.Errorf("querying overlapping price points: %w", err)
	}
	defer rows.Close()

	var overlaps []storedInterval
	for rows.Next() {
		var startStr, endStr, capturedStr string
		var s storedInterval
		if err := rows.Scan(&startStr, &endStr, &capturedStr, &s.price); err != nil {
			return nil, fmt.Errorf("scanning overlapping price point: %w", err)
		}
		if s.start, err = parseTime(startStr); err != nil {
			return nil, err
		}
		if s.end, err = parseTime(endStr); err != nil {
			return nil, err
		}
		if s.captured, err = parseTime(capturedStr); err != nil {
			return nil, err
		}
		overlaps = append(overlaps, s)
	}
	return overlaps, rows.Err()
}

// assertNoOverlap enforces the store's core invariant after every
// batch: for one provider, stored intervals never overlap.
func assertNoOverlap(ctx context.Context, tx *sql.Tx, provider string) error {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM price_point a
		JOIN price_point b
		  ON a.provider = b.provider AND a.start_at < b.start_at AND a.end_at > b.start_at
		WHERE a.provider = ?`,
		provider).Scan(&n)
	if err != nil {
		return fmt.Errorf("checking interval invariant: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("interval invariant violated for provider %s: %d overlapping pairs", provider, n)
	}
	return nil
}

// ErrNoPricePoint is returned when a provider has no stored point yet.
var ErrNoPricePoint = errors.New("no price point")

// GetLatestPricePoint returns the most recent point whose interval has
// started as of asOf, i.e. the current price.
func (d *Database) GetLatestPricePoint(ctx context.Context, provider string, asOf time.Time) (types.PricePoint, error) {
	row := d.read.QueryRowContext(ctx, `
		SELECT provider, start_at, end_at, price, currency, captured_at
		FROM price_point
		WHERE provider = ? AND start_at <= ?
		ORDER BY start_at DESC
		LIMIT 1`,
		provider, fmtTime(asOf))

	p, err := scanPricePoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PricePoint{}, ErrNoPricePoint
	}
	return p, err
}

// GetPreviousPricePoint returns the point immediately preceding the one
// starting at before, used for trend deltas.
func (d *Database) GetPreviousPricePoint(ctx context.Context, provider string, before time.Time) (types.PricePoint, error) {
	row := d.read.QueryRowContext(ctx, `
		SELECT provider, start_at, end_at, price, currency, captured_at
		FROM price_point
		WHERE provider = ? AND start_at < ?
		ORDER BY start_at DESC
		LIMIT 1`,
		provider, fmtTime(before))

	p, err := scanPricePoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.PricePoint{}, ErrNoPricePoint
	}
	return p, err
}

// GetPricePoints returns every point with start in [r.From, r.To),
// ascending by start time. An empty providers slice selects all
// providers.
func (d *Database) GetPricePoints(ctx context.Context, providers []string, r types.TimeRange) ([]types.PricePoint, error) {
	query := `
		SELECT provider, start_at, end_at, price, currency, captured_at
		FROM price_point
		WHERE start_at >= ? AND start_at < ?`
	args := []any{fmtTime(r.From), fmtTime(r.To)}
	query, args = appendProviderFilter(query, args, providers)
	query += ` ORDER BY start_at ASC, provider ASC`

	return d.queryPricePoints(ctx, query, args)
}

// Cursor marks a position in a time-ordered series scan. Callers may
// save it and resume the scan later.
type Cursor struct {
	Start    time.Time
	Provider string
}

// GetPricePointsPage returns up to limit points from [r.From, r.To)
// after the given cursor, plus the cursor for the next page. A nil
// cursor starts from the beginning; a nil returned cursor means the
// scan is exhausted.
func (d *Database) GetPricePointsPage(ctx context.Context, providers []string, r types.TimeRange, after *Cursor, limit int) ([]types.PricePoint, *Cursor, error) {
	if limit < 1 {
		limit = 500
	}

	query := `
		SELECT provider, start_at, end_at, price, currency, captured_at
		FROM price_point
		WHERE start_at >= ? AND start_at < ?`
	args := []any{fmtTime(r.From), fmtTime(r.To)}
	if after != nil {
		query += ` AND (start_at > ? OR (start_at = ? AND provider > ?))`
		args = append(args, fmtTime(after.Start), fmtTime(after.Start), after.Provider)
	}
	query, args = appendProviderFilter(query, args, providers)
	query += ` ORDER BY start_at ASC, provider ASC LIMIT ?`
	args = append(args, limit)

	points, err := d.queryPricePoints(ctx, query, args)
	if err != nil {
		return nil, nil, err
	}
	if len(points) < limit {
		return points, nil, nil
	}
	last := points[len(points)-1]
	return points, &Cursor{Start: last.Start, Provider: last.Provider}, nil
}

func appendProviderFilter(query string, args []any, providers []string) (string, []any) {
	if len(providers) == 0 {
		return query, args
	}
	query += ` AND provider IN (`
	for i, p := range providers {
		if i > 0 {
			query += `, `
		}
		query += `?`
		args = append(args, p)
	}
	query += `)`
	return query, args
}

func (d *Database) queryPricePoints(ctx context.Context, query string, args []any) ([]types.PricePoint, error) {
	rows, err := d.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying price points: %w", err)
	}
	defer rows.Close()

	var points []types.PricePoint
	for rows.Next() {
		p, err := scanPricePoint(rows)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPricePoint(row rowScanner) (types.PricePoint, error) {
	var p types.PricePoint
	var startStr, endStr, capturedStr string
	if err := row.Scan(&p.Provider, &startStr, &endStr, &p.Price, &p.Currency, &capturedStr); err != nil {
		return types.PricePoint{}, err
	}
	var err error
	if p.Start, err = parseTime(startStr); err != nil {
		return types.PricePoint{}, err
	}
	if p.End, err = parseTime(endStr); err != nil {
		return types.PricePoint{}, err
	}
	if p.CapturedAt, err = parseTime(capturedStr); err != nil {
		return types.PricePoint{}, err
	}
	return p, nil
}

func (d *Database) PurgePricePoints(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	res, err := d.write.ExecContext(ctx,
		`DELETE FROM price_point WHERE end_at < ?`, fmtTime(cutoff))
	if err != nil {
		return fmt.Errorf("purging price points: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		d.logger.Debug(fmt.Sprintf("purged %d price points", n))
	}
	return nil
}
