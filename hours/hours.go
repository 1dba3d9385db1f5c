// Package hours holds the timezone used for hour-of-day statistics.
// Storage and transport stay UTC; only grouping is local.
package hours

import (
	"fmt"
	"time"
)

var statsLocation *time.Location = time.UTC

func SetStatsTimezone(timezone string) error {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return fmt.Errorf("failed to load timezone %s: %v", timezone, err)
	}
	statsLocation = loc
	return nil
}

func StatsLocation() *time.Location {
	return statsLocation
}

// LocalHour returns the hour of day (0-23) of t in the stats timezone.
func LocalHour(t time.Time) int {
	return t.In(statsLocation).Hour()
}
