package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ALPHA_MASTER_KEY", "k")
	t.Setenv("ALPHA_DB_PATH", "")
	t.Setenv("ALPHA_LOG_LEVEL", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "alpha.db", cfg.DatabasePath)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.Engine.CycleInterval)
	assert.Equal(t, 3, cfg.Engine.MaxConsecutiveFailures)
	require.NoError(t, cfg.Validate())
}

func TestLoadEngineYAML(t *testing.T) {
	t.Setenv("ALPHA_MASTER_KEY", "k")

	path := filepath.Join(t.TempDir(), "engine.yaml")
	data := []byte(`
cycle_interval: 5s
stale_order_age: 30m
daily_notional_cap_usd: "25000.50"
max_consecutive_failures: 5
requests_per_second: 8
quote_poll_interval: 1m
allow_after_hours: true
holidays:
  - 2026-11-26
  - 2026-12-25
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 5*time.Second, cfg.Engine.CycleInterval)
	assert.Equal(t, 30*time.Minute, cfg.Engine.StaleOrderAge)
	assert.Equal(t, "25000.5", cfg.Engine.DailyNotionalCapUSD.String())
	assert.Equal(t, 5, cfg.Engine.MaxConsecutiveFailures)
	assert.True(t, cfg.Engine.AllowAfterHours)
	assert.False(t, cfg.Engine.AllowPreMarket)
	assert.Len(t, cfg.Engine.Holidays, 2)
}

func TestValidateMissingMasterKey(t *testing.T) {
	t.Setenv("ALPHA_MASTER_KEY", "")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, errors.Is(cfg.Validate(), ErrMissingMasterKey))
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("ALPHA_MASTER_KEY", "k")
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Engine.CycleInterval = 0
	assert.Error(t, cfg.Validate())

	cfg.Engine = DefaultEngine()
	cfg.Engine.Holidays = []string{"not-a-date"}
	assert.Error(t, cfg.Validate())
}

func TestLoadMissingEngineFile(t *testing.T) {
	t.Setenv("ALPHA_MASTER_KEY", "k")
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
