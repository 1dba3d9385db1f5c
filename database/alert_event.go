package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mhaase/strompreis-go/types"
)

// SaveAlertEvent appends a triggered alert. Events are never deleted
// by this system; retention is an external concern.
func (d *Database) SaveAlertEvent(ctx context.Context, ev types.AlertEvent) error {
	_, err := d.write.ExecContext(ctx, `
		INSERT INTO alert_event (rule, provider, triggered_at, matched_price, window_start, window_end)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Rule, ev.Provider, fmtTime(ev.TriggeredAt), ev.MatchedPrice,
		fmtTime(ev.Window.From), fmtTime(ev.Window.To))
	if err != nil {
		return fmt.Errorf("saving alert event: %w", err)
	}
	return nil
}

func (d *Database) GetAlertEvents(ctx context.Context, since time.Time, limit int) ([]types.AlertEvent, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := d.read.QueryContext(ctx, `
		SELECT rule, COALESCE(provider, ''), triggered_at, matched_price, window_start, window_end
		FROM alert_event
		WHERE triggered_at >= ?
		ORDER BY triggered_at DESC
		LIMIT ?`,
		fmtTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("querying alert events: %w", err)
	}
	defer rows.Close()

	var events []types.AlertEvent
	for rows.Next() {
		var ev types.AlertEvent
		var triggered, windowStart, windowEnd string
		if err := rows.Scan(&ev.Rule, &ev.Provider, &triggered, &ev.MatchedPrice, &windowStart, &windowEnd); err != nil {
			return nil, fmt.Errorf("scanning alert event: %w", err)
		}
		if ev.TriggeredAt, err = parseTime(triggered); err != nil {
			return nil, err
		}
		if ev.Window.From, err = parseTime(windowStart); err != nil {
			return nil, err
		}
		if ev.Window.To, err = parseTime(windowEnd); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
