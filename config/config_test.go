package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mhaase/strompreis-go/types"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

const validConfig = `
api:
  address: "127.0.0.1"
  port: 8080
database:
  path: "/tmp/strompreis.db"
  retention_days: 180
fetch:
  interval_minutes: 10
  max_failures: 3
providers:
  - name: awattar-de
    kind: awattar
    country: DE
  - name: tibber-home
    kind: tibber
    api_token: "secret"
    home_id: "home-1"
    cadence_minutes: 60
alerts:
  - name: cheap-night
    provider: awattar-de
    threshold: 10
    comparison: below
    time_window_hours: 3
    min_duration_minutes: 30
stats:
  lookback_days: 14
  timezone: "Europe/Berlin"
`

func TestLoad(t *testing.T) {
	c, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, int16(8080), c.Api.Port)
	assert.Equal(t, 180, c.Database.GetRetentionDays())
	assert.Equal(t, 90, c.Database.GetBackupRetentionDays())
	assert.Equal(t, 10*time.Minute, c.Fetch.GetInterval())
	assert.Equal(t, 3, c.Fetch.GetMaxFailures())
	assert.Equal(t, 30*time.Second, c.Fetch.GetTimeout())
	assert.Equal(t, 14, c.Stats.GetLookbackDays())
	assert.Equal(t, "Europe/Berlin", c.Stats.GetTimezone())

	infos := c.ProviderInfos()
	require.Len(t, infos, 2)

	// awattar defaults: EUR/MWh factor, hourly, global cadence.
	assert.Equal(t, 0.1, infos[0].UnitFactor)
	assert.Equal(t, time.Hour, infos[0].Granularity)
	assert.Equal(t, 10*time.Minute, infos[0].Cadence)
	assert.True(t, infos[0].Enabled)

	// tibber defaults: EUR/kWh factor, per-provider cadence override.
	assert.Equal(t, 100.0, infos[1].UnitFactor)
	assert.Equal(t, time.Hour, infos[1].Cadence)

	rules := c.AlertRules()
	require.Len(t, rules, 1)
	assert.Equal(t, types.ComparisonBelow, rules[0].Comparison)
	assert.Equal(t, 3*time.Hour, rules[0].TimeWindow)
	assert.Equal(t, 30*time.Minute, rules[0].MinDuration)
	assert.True(t, rules[0].Active)
}

func TestLoadFetchWindow(t *testing.T) {
	c, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	window := c.Fetch.GetWindow(now)
	assert.Equal(t, now.Add(-2*time.Hour), window.From)
	assert.Equal(t, now.Add(48*time.Hour), window.To)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	base := func() *AppConfig {
		return &AppConfig{Providers: []AppConfigProvider{{Name: "a", Kind: ProviderKindAwattar}}}
	}

	t.Run("no providers", func(t *testing.T) {
		c := &AppConfig{}
		assert.Error(t, c.Validate())
	})

	t.Run("duplicate provider names", func(t *testing.T) {
		c := base()
		c.Providers = append(c.Providers, AppConfigProvider{Name: "a", Kind: ProviderKindTibber})
		assert.Error(t, c.Validate())
	})

	t.Run("unknown kind", func(t *testing.T) {
		c := base()
		c.Providers[0].Kind = "nordpool"
		assert.Error(t, c.Validate())
	})

	t.Run("non-positive unit factor", func(t *testing.T) {
		c := base()
		factor := -1.0
		c.Providers[0].UnitFactor = &factor
		assert.Error(t, c.Validate())
	})

	t.Run("bad comparison", func(t *testing.T) {
		c := base()
		c.Alerts = []AppConfigAlertRule{{Name: "r", Threshold: 1, Comparison: "equals"}}
		assert.Error(t, c.Validate())
	})

	t.Run("rule references unknown provider", func(t *testing.T) {
		c := base()
		c.Alerts = []AppConfigAlertRule{{Name: "r", Provider: "nope", Threshold: 1, Comparison: "below"}}
		assert.Error(t, c.Validate())
	})

	t.Run("valid", func(t *testing.T) {
		c := base()
		c.Alerts = []AppConfigAlertRule{{Name: "r", Provider: "a", Threshold: 1, Comparison: "BELOW"}}
		assert.NoError(t, c.Validate())
	})
}
