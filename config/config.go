package config

import (
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mhaase/strompreis-go/logging"
	"github.com/mhaase/strompreis-go/types"
	"github.com/spf13/viper"
)

type AppConfigApi struct {
	Address string
	Port    int16
}

type AppConfigDatabase struct {
	Path string
	// How many days price data should be stored before it gets purged
	RetentionDays *int `mapstructure:"retention_days"`
	// How many days daily backup files should be stored before they get deleted
	BackupRetentionDays *int `mapstructure:"backup_retention_days"`
}

func (d AppConfigDatabase) GetRetentionDays() int {
	if d.RetentionDays == nil {
		return 365
	}
	return *d.RetentionDays
}

func (d AppConfigDatabase) GetBackupRetentionDays() int {
	if d.BackupRetentionDays == nil {
		return 90
	}
	return *d.BackupRetentionDays
}

type AppConfigFetch struct {
	// Default polling cadence in minutes, per provider override below
	IntervalMinutes *int `mapstructure:"interval_minutes"`
	// Hard timeout per fetch in seconds, independent of the cadence
	TimeoutSeconds *int `mapstructure:"timeout_seconds"`
	// Consecutive transient failures before a provider is disabled
	MaxFailures *int `mapstructure:"max_failures"`
	// Exponential backoff base in seconds and cap in minutes
	BackoffBaseSeconds *int `mapstructure:"backoff_base_seconds"`
	BackoffCapMinutes  *int `mapstructure:"backoff_cap_minutes"`
	// Fetch window relative to now: [now-past_hours, now+ahead_hours)
	PastHours  *int `mapstructure:"past_hours"`
	AheadHours *int `mapstructure:"ahead_hours"`
}

func (f AppConfigFetch) GetInterval() time.Duration {
	if f.IntervalMinutes == nil {
		return 15 * time.Minute
	}
	return time.Duration(*f.IntervalMinutes) * time.Minute
}

func (f AppConfigFetch) GetTimeout() time.Duration {
	if f.TimeoutSeconds == nil {
		return 30 * time.Second
	}
	return time.Duration(*f.TimeoutSeconds) * time.Second
}

func (f AppConfigFetch) GetMaxFailures() int {
	if f.MaxFailures == nil {
		return 5
	}
	return *f.MaxFailures
}

func (f AppConfigFetch) GetBackoffBase() time.Duration {
	if f.BackoffBaseSeconds == nil {
		return 30 * time.Second
	}
	return time.Duration(*f.BackoffBaseSeconds) * time.Second
}

func (f AppConfigFetch) GetBackoffCap() time.Duration {
	if f.BackoffCapMinutes == nil {
		return 30 * time.Minute
	}
	return time.Duration(*f.BackoffCapMinutes) * time.Minute
}

func (f AppConfigFetch) GetWindow(now time.Time) types.TimeRange {
	past, ahead := 2, 48
	if f.PastHours != nil {
		past = *f.PastHours
	}
	if f.AheadHours != nil {
		ahead = *f.AheadHours
	}
	return types.TimeRange{
		From: now.Add(-time.Duration(past) * time.Hour),
		To:   now.Add(time.Duration(ahead) * time.Hour),
	}
}

// ProviderKind selects the adapter variant.
const (
	ProviderKindAwattar = "awattar"
	ProviderKindEntsoe  = "entsoe"
	ProviderKindTibber  = "tibber"
)

type AppConfigProvider struct {
	Name        string
	DisplayName string `mapstructure:"display_name"`
	Kind        string
	Country     string
	Currency    string
	Enabled     *bool
	// Multiplier from the upstream price unit to cent/kWh. Defaults
	// per kind: awattar/entsoe report EUR/MWh (0.1), tibber EUR/kWh (100).
	UnitFactor *float64 `mapstructure:"unit_factor"`
	// Interval length the provider reports at, default 60
	GranularityMinutes *int `mapstructure:"granularity_minutes"`
	// Per-provider polling cadence override in minutes
	CadenceMinutes *int `mapstructure:"cadence_minutes"`

	// Credentials, depending on kind
	ApiKey   string `mapstructure:"api_key"`   // entsoe security token
	ApiToken string `mapstructure:"api_token"` // tibber bearer token
	HomeId   string `mapstructure:"home_id"`   // tibber home
	Area     string // entsoe bidding zone (EIC code)
}

func (p AppConfigProvider) IsEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

func (p AppConfigProvider) GetUnitFactor() float64 {
	if p.UnitFactor != nil {
		return *p.UnitFactor
	}
	if p.Kind == ProviderKindTibber {
		return 100.0 // EUR/kWh to ct/kWh
	}
	return 0.1 // EUR/MWh to ct/kWh
}

func (p AppConfigProvider) GetGranularity() time.Duration {
	if p.GranularityMinutes == nil {
		return time.Hour
	}
	return time.Duration(*p.GranularityMinutes) * time.Minute
}

func (p AppConfigProvider) Info(defaultCadence time.Duration) types.ProviderInfo {
	cadence := defaultCadence
	if p.CadenceMinutes != nil {
		cadence = time.Duration(*p.CadenceMinutes) * time.Minute
	}
	display := p.DisplayName
	if display == "" {
		display = p.Name
	}
	currency := p.Currency
	if currency == "" {
		currency = "EUR"
	}
	return types.ProviderInfo{
		Name:        p.Name,
		DisplayName: display,
		Country:     p.Country,
		Currency:    currency,
		Enabled:     p.IsEnabled(),
		UnitFactor:  p.GetUnitFactor(),
		Granularity: p.GetGranularity(),
		Cadence:     cadence,
	}
}

type AppConfigAlertRule struct {
	Name       string
	Provider   string
	Threshold  float64
	Comparison string
	// Evaluation horizon in hours; 0 means the latest price is compared
	TimeWindowHours *int `mapstructure:"time_window_hours"`
	// Continuous satisfaction required before the rule fires
	MinDurationMinutes *int `mapstructure:"min_duration_minutes"`
	Active             *bool
}

func (r AppConfigAlertRule) Rule() types.AlertRule {
	window := time.Duration(0)
	if r.TimeWindowHours != nil {
		window = time.Duration(*r.TimeWindowHours) * time.Hour
	}
	minDuration := 60 * time.Minute
	if r.MinDurationMinutes != nil {
		minDuration = time.Duration(*r.MinDurationMinutes) * time.Minute
	}
	active := true
	if r.Active != nil {
		active = *r.Active
	}
	return types.AlertRule{
		Name:        r.Name,
		Provider:    r.Provider,
		Threshold:   r.Threshold,
		Comparison:  types.Comparison(strings.ToLower(r.Comparison)),
		TimeWindow:  window,
		MinDuration: minDuration,
		Active:      active,
	}
}

type AppConfigStats struct {
	// Look-back window for hour-of-day averages, default 7
	LookbackDays *int `mapstructure:"lookback_days"`
	// Timezone for local hour-of-day grouping, default UTC
	Timezone *string
}

func (s AppConfigStats) GetLookbackDays() int {
	if s.LookbackDays == nil {
		return 7
	}
	return *s.LookbackDays
}

func (s AppConfigStats) GetTimezone() string {
	if s.Timezone == nil {
		return "UTC"
	}
	return *s.Timezone
}

type AppConfigMqtt struct {
	Enabled     bool
	Host        string
	Port        int16
	Username    string
	Password    string
	TopicPrefix *string `mapstructure:"topic_prefix"`
}

func (m AppConfigMqtt) GetTopicPrefix() string {
	if m.TopicPrefix == nil {
		return "strompreis"
	}
	return strings.TrimSuffix(*m.TopicPrefix, "/")
}

type AppConfigLogging struct {
	// Min log level for database: "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	DbLevel *string `mapstructure:"db_level"`
	// Log attributes format: "TEXT", "JSON", default: "JSON"
	DbAttrsFormat *string `mapstructure:"db_attrs_format"`
	// Maximum number of log entries in the database, default: 10000
	DbMaxEntries *int `mapstructure:"db_max_entries"`
	// Min log level for the console: "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	ConsoleLevel *string `mapstructure:"console_level"`
}

func (l AppConfigLogging) GetDbLevel() slog.Level {
	return logging.LevelFromString(l.DbLevel)
}

func (l AppConfigLogging) GetDbAttrsFormat() logging.LogAttrFormat {
	if l.DbAttrsFormat == nil {
		return "JSON"
	}
	if strings.EqualFold(*l.DbAttrsFormat, "text") {
		return "TEXT"
	}
	return "JSON"
}

func (l AppConfigLogging) GetDbMaxEntries() int {
	if l.DbMaxEntries == nil {
		return 10000
	}
	return *l.DbMaxEntries
}

func (l AppConfigLogging) GetConsoleLevel() slog.Level {
	return logging.LevelFromString(l.ConsoleLevel)
}

type AppConfig struct {
	Api       AppConfigApi
	Database  AppConfigDatabase
	Fetch     AppConfigFetch
	Providers []AppConfigProvider
	Alerts    []AppConfigAlertRule
	Stats     AppConfigStats
	Mqtt      AppConfigMqtt
	Logging   AppConfigLogging
}

// ProviderInfos returns reference data for all configured providers,
// enabled or not. The scheduler skips disabled ones but still reports
// them in health queries.
func (c *AppConfig) ProviderInfos() []types.ProviderInfo {
	infos := make([]types.ProviderInfo, 0, len(c.Providers))
	for _, p := range c.Providers {
		infos = append(infos, p.Info(c.Fetch.GetInterval()))
	}
	return infos
}

func (c *AppConfig) AlertRules() []types.AlertRule {
	rules := make([]types.AlertRule, 0, len(c.Alerts))
	for _, r := range c.Alerts {
		rules = append(rules, r.Rule())
	}
	return rules
}

var providerKinds = map[string]bool{
	ProviderKindAwattar: true,
	ProviderKindEntsoe:  true,
	ProviderKindTibber:  true,
}

// Validate rejects invalid provider and rule definitions before they
// can reach the pipeline.
func (c *AppConfig) Validate() error {
	if len(c.Providers) == 0 {
		return &types.ConfigError{Field: "providers", Reason: "at least one provider must be configured"}
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			return &types.ConfigError{Field: field + ".name", Reason: "must not be empty"}
		}
		if seen[p.Name] {
			return &types.ConfigError{Field: field + ".name", Reason: fmt.Sprintf("duplicate provider %q", p.Name)}
		}
		seen[p.Name] = true
		if !providerKinds[p.Kind] {
			return &types.ConfigError{Field: field + ".kind", Reason: fmt.Sprintf("unknown kind %q", p.Kind)}
		}
		if p.GetUnitFactor() <= 0 {
			return &types.ConfigError{Field: field + ".unit_factor", Reason: "must be positive"}
		}
		if p.GetGranularity() <= 0 {
			return &types.ConfigError{Field: field + ".granularity_minutes", Reason: "must be positive"}
		}
		if p.CadenceMinutes != nil && *p.CadenceMinutes <= 0 {
			return &types.ConfigError{Field: field + ".cadence_minutes", Reason: "must be positive"}
		}
	}

	for i, r := range c.Alerts {
		field := fmt.Sprintf("alerts[%d]", i)
		if r.Name == "" {
			return &types.ConfigError{Field: field + ".name", Reason: "must not be empty"}
		}
		cmp := types.Comparison(strings.ToLower(r.Comparison))
		if cmp != types.ComparisonBelow && cmp != types.ComparisonAbove {
			return &types.ConfigError{Field: field + ".comparison", Reason: fmt.Sprintf("must be %q or %q", types.ComparisonBelow, types.ComparisonAbove)}
		}
		if math.IsNaN(r.Threshold) || math.IsInf(r.Threshold, 0) {
			return &types.ConfigError{Field: field + ".threshold", Reason: "must be finite"}
		}
		if r.Provider != "" && !seen[r.Provider] {
			return &types.ConfigError{Field: field + ".provider", Reason: fmt.Sprintf("unknown provider %q", r.Provider)}
		}
		if r.TimeWindowHours != nil && *r.TimeWindowHours < 0 {
			return &types.ConfigError{Field: field + ".time_window_hours", Reason: "must not be negative"}
		}
		if r.MinDurationMinutes != nil && *r.MinDurationMinutes < 0 {
			return &types.ConfigError{Field: field + ".min_duration_minutes", Reason: "must not be negative"}
		}
	}

	return nil
}

func Load(path string) (*AppConfig, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath("config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	var c AppConfig

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("unable to read config file: %w", err)
	}

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to unmarshal config file: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

// Watch re-reads the config file on change and hands the re-validated
// result to onChange. Alert rules are the intended hot-reloadable part;
// provider and database changes still need a restart.
func Watch(logger *slog.Logger, onChange func(*AppConfig)) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("config file changed, reloading", slog.String("file", e.Name))
		var c AppConfig
		if err := viper.Unmarshal(&c); err != nil {
			logger.Error("config reload failed, keeping previous config", slog.Any("error", err))
			return
		}
		if err := c.Validate(); err != nil {
			logger.Error("config reload rejected, keeping previous config", slog.Any("error", err))
			return
		}
		onChange(&c)
	})
	viper.WatchConfig()
}
