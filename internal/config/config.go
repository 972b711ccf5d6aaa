// Package config provides configuration handling for the trading engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingMasterKey is returned when the vault master key is not configured.
	ErrMissingMasterKey = errors.New("config: ALPHA_MASTER_KEY environment variable not set")
)

// Config holds the application configuration. Secrets come from the
// environment; engine tuning comes from an optional YAML file.
type Config struct {
	// MasterKey is the credential vault encryption key.
	MasterKey string

	// DatabasePath is the SQLite database file.
	DatabasePath string

	// LogLevel is the minimum log level.
	LogLevel string

	// LogFile enables rotated file logging when non-empty.
	LogFile string

	// Engine holds the engine tuning knobs.
	Engine Engine
}

// Engine holds the tunable engine parameters loaded from YAML.
type Engine struct {
	// CycleInterval is the pause between worker evaluation cycles.
	CycleInterval time.Duration `yaml:"cycle_interval"`

	// StaleOrderAge is how long an open order may go unreported by the
	// broker before it is marked cancelled.
	StaleOrderAge time.Duration `yaml:"stale_order_age"`

	// DailyNotionalCapUSD bounds the total notional placed per account per
	// trading day. Zero disables the cap.
	DailyNotionalCapUSD decimal.Decimal `yaml:"daily_notional_cap_usd"`

	// MaxConsecutiveFailures triggers the failure cooldown once reached.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`

	// FailureCooldown is how long order placement stays paused after
	// repeated failures.
	FailureCooldown time.Duration `yaml:"failure_cooldown"`

	// RequestsPerSecond and Burst bound the outbound request rate.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`

	// QuotePollInterval is the REST quote cadence used while the realtime
	// feed is down.
	QuotePollInterval time.Duration `yaml:"quote_poll_interval"`

	// AllowPreMarket and AllowAfterHours extend tradeable hours beyond the
	// regular session.
	AllowPreMarket  bool `yaml:"allow_pre_market"`
	AllowAfterHours bool `yaml:"allow_after_hours"`

	// Holidays lists exchange holidays as YYYY-MM-DD.
	Holidays []string `yaml:"holidays"`
}

// UnmarshalYAML decodes the engine section, parsing duration fields from
// strings like "30s". Fields absent from the document keep their prior
// values, so defaults survive a partial file.
func (e *Engine) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		CycleInterval          string          `yaml:"cycle_interval"`
		StaleOrderAge          string          `yaml:"stale_order_age"`
		DailyNotionalCapUSD    decimal.Decimal `yaml:"daily_notional_cap_usd"`
		MaxConsecutiveFailures *int            `yaml:"max_consecutive_failures"`
		FailureCooldown        string          `yaml:"failure_cooldown"`
		RequestsPerSecond      *float64        `yaml:"requests_per_second"`
		Burst                  *int            `yaml:"burst"`
		QuotePollInterval      string          `yaml:"quote_poll_interval"`
		AllowPreMarket         *bool           `yaml:"allow_pre_market"`
		AllowAfterHours        *bool           `yaml:"allow_after_hours"`
		Holidays               []string        `yaml:"holidays"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	durations := []struct {
		src string
		dst *time.Duration
	}{
		{raw.CycleInterval, &e.CycleInterval},
		{raw.StaleOrderAge, &e.StaleOrderAge},
		{raw.FailureCooldown, &e.FailureCooldown},
		{raw.QuotePollInterval, &e.QuotePollInterval},
	}
	for _, d := range durations {
		if d.src == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("config: invalid duration %q: %w", d.src, err)
		}
		*d.dst = parsed
	}

	if !raw.DailyNotionalCapUSD.IsZero() {
		e.DailyNotionalCapUSD = raw.DailyNotionalCapUSD
	}
	if raw.MaxConsecutiveFailures != nil {
		e.MaxConsecutiveFailures = *raw.MaxConsecutiveFailures
	}
	if raw.RequestsPerSecond != nil {
		e.RequestsPerSecond = *raw.RequestsPerSecond
	}
	if raw.Burst != nil {
		e.Burst = *raw.Burst
	}
	if raw.AllowPreMarket != nil {
		e.AllowPreMarket = *raw.AllowPreMarket
	}
	if raw.AllowAfterHours != nil {
		e.AllowAfterHours = *raw.AllowAfterHours
	}
	if raw.Holidays != nil {
		e.Holidays = raw.Holidays
	}
	return nil
}

// DefaultEngine returns the engine defaults used when no YAML file overrides
// them.
func DefaultEngine() Engine {
	return Engine{
		CycleInterval:          10 * time.Second,
		StaleOrderAge:          15 * time.Minute,
		MaxConsecutiveFailures: 3,
		FailureCooldown:        5 * time.Minute,
		RequestsPerSecond:      15,
		Burst:                  5,
		QuotePollInterval:      30 * time.Second,
	}
}

// Load reads configuration from the environment and, when enginePath is
// non-empty, merges engine tuning from the YAML file.
func Load(enginePath string) (*Config, error) {
	cfg := &Config{
		MasterKey:    os.Getenv("ALPHA_MASTER_KEY"),
		DatabasePath: envDefault("ALPHA_DB_PATH", "alpha.db"),
		LogLevel:     envDefault("ALPHA_LOG_LEVEL", "info"),
		LogFile:      os.Getenv("ALPHA_LOG_FILE"),
		Engine:       DefaultEngine(),
	}

	if enginePath != "" {
		data, err := os.ReadFile(enginePath)
		if err != nil {
			return nil, fmt.Errorf("config: read engine file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg.Engine); err != nil {
			return nil, fmt.Errorf("config: parse engine file: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c *Config) Validate() error {
	if c.MasterKey == "" {
		return ErrMissingMasterKey
	}
	if c.DatabasePath == "" {
		return errors.New("config: database path must not be empty")
	}
	if c.Engine.CycleInterval <= 0 {
		return errors.New("config: cycle_interval must be positive")
	}
	if c.Engine.StaleOrderAge <= 0 {
		return errors.New("config: stale_order_age must be positive")
	}
	if c.Engine.RequestsPerSecond <= 0 {
		return errors.New("config: requests_per_second must be positive")
	}
	if c.Engine.DailyNotionalCapUSD.IsNegative() {
		return errors.New("config: daily_notional_cap_usd must not be negative")
	}
	for _, day := range c.Engine.Holidays {
		if _, err := time.Parse("2006-01-02", day); err != nil {
			return fmt.Errorf("config: invalid holiday %q: %w", day, err)
		}
	}
	return nil
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
