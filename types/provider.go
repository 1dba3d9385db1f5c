package types

import "time"

// ProviderInfo is the reference data for one price source. It comes
// from configuration and is read-only for the rest of the system.
type ProviderInfo struct {
	Name        string
	DisplayName string
	Country     string
	Currency    string
	Enabled     bool
	// UnitFactor converts the upstream price unit to cent/kWh,
	// e.g. 0.1 for EUR/MWh, 100 for EUR/kWh.
	UnitFactor float64
	// Granularity is the interval length the provider reports at.
	Granularity time.Duration
	// Cadence is how often the scheduler polls this provider.
	Cadence time.Duration
}
