package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	FetchStatusSuccess = "success"
	FetchStatusPartial = "partial"
	FetchStatusError   = "error"
)

// FetchLogRow records one collection cycle for one provider. It backs
// the provider health queries and the hourly health check.
type FetchLogRow struct {
	Provider string
	Status   string
	Records  int
	Error    string
	Duration time.Duration
	LoggedAt time.Time
}

func (d *Database) SaveFetchLog(ctx context.Context, r FetchLogRow) error {
	var errStr sql.NullString
	if r.Error != "" {
		errStr = sql.NullString{String: r.Error, Valid: true}
	}
	_, err := d.write.ExecContext(ctx, `
		INSERT INTO fetch_log (provider, status, records, error, duration_ms, logged_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.Provider, r.Status, r.Records, errStr, r.Duration.Milliseconds(), fmtTime(r.LoggedAt))
	if err != nil {
		return fmt.Errorf("saving fetch log: %w", err)
	}
	return nil
}

// LastSuccessfulFetch returns the time of the provider's most recent
// successful collection, or the zero time when there is none.
func (d *Database) LastSuccessfulFetch(ctx context.Context, provider string) (time.Time, error) {
	var loggedAt sql.NullString
	err := d.read.QueryRowContext(ctx, `
		SELECT MAX(logged_at) FROM fetch_log
		WHERE provider = ? AND status = ?`,
		provider, FetchStatusSuccess).Scan(&loggedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying last successful fetch: %w", err)
	}
	if !loggedAt.Valid {
		return time.Time{}, nil
	}
	return parseTime(loggedAt.String)
}

// LastFetches returns the most recent fetch log row per provider.
func (d *Database) LastFetches(ctx context.Context) (map[string]FetchLogRow, error) {
	rows, err := d.read.QueryContext(ctx, `
		SELECT provider, status, records, COALESCE(error, ''), duration_ms, logged_at
		FROM fetch_log
		WHERE id IN (SELECT MAX(id) FROM fetch_log GROUP BY provider)`)
	if err != nil {
		return nil, fmt.Errorf("querying last fetches: %w", err)
	}
	defer rows.Close()

	latest := make(map[string]FetchLogRow)
	for rows.Next() {
		var r FetchLogRow
		var durationMs int64
		var loggedAt string
		if err := rows.Scan(&r.Provider, &r.Status, &r.Records, &r.Error, &durationMs, &loggedAt); err != nil {
			return nil, fmt.Errorf("scanning fetch log row: %w", err)
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if r.LoggedAt, err = parseTime(loggedAt); err != nil {
			return nil, err
		}
		latest[r.Provider] = r
	}
	return latest, rows.Err()
}

func (d *Database) PurgeFetchLog(ctx context.Context, retentionDays int) error {
	cutoff := time.Now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	_, err := d.write.ExecContext(ctx,
		`DELETE FROM fetch_log WHERE logged_at < ?`, fmtTime(cutoff))
	if err != nil {
		return fmt.Errorf("purging fetch log: %w", err)
	}
	return nil
}
