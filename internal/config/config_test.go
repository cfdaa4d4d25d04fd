package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoOverridesFile(t *testing.T) {
	cfg, err := Load("", "")
	require.NoError(t, err)
	require.Equal(t, 100.0, cfg.Risk.MaxDailyLossUSD)
	require.Equal(t, 200.0, cfg.Signal.MaxSLPoints)
	require.Equal(t, 30.0, cfg.Position.TimeExitMaxMinutes)
}

func TestLoad_AppliesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "overrides.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
risk:
  max_daily_loss_usd: 250
signal:
  rr_ratio: 2.0
position:
  early_exit_loss_points: 120
`), 0o644))

	cfg, err := Load("", path)
	require.NoError(t, err)
	require.Equal(t, 250.0, cfg.Risk.MaxDailyLossUSD)
	require.Equal(t, 2.0, cfg.Signal.RRRatio)
	require.Equal(t, 120.0, cfg.Position.EarlyExitLossPoints)
	// untouched fields keep their defaults
	require.Equal(t, 40, cfg.Risk.MaxDailyTrades)
}

func TestLoad_MissingOverridesFileIsNotAnError(t *testing.T) {
	cfg, err := Load("", "/nonexistent/overrides.yaml")
	require.NoError(t, err)
	require.Equal(t, 100.0, cfg.Risk.MaxDailyLossUSD)
}

func TestLoadEnv_FallsBackToDefaultsWhenUnset(t *testing.T) {
	os.Unsetenv("SCALPGUARD_HTTP_ADDR")
	env := loadEnv()
	require.Equal(t, ":8080", env.HTTPAddr)
	require.False(t, env.LogJSON)
}
