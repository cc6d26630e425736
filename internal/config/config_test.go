package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orb-grid-lab/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 100000.0, cfg.Account.Capital)
	assert.Equal(t, 1000.0, cfg.Account.MaxRiskPerTrade)
	assert.Equal(t, 14, cfg.Grid.ATRPeriod)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.False(t, cfg.HasFilter())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
stocks: [RELIANCE, TCS]
backtest:
  start_date: "2024-01-01"
  end_date: "2024-06-30"
  workers: 4
  store_trades: true
account:
  capital: 500000
grid:
  quick: true
  or_minutes: [15, 30]
  stop_loss_types: [fixed]
storage:
  backend: postgres
  postgres_dsn: "postgres://localhost/orb"
logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"RELIANCE", "TCS"}, cfg.Stocks)
	assert.Equal(t, "2024-01-01", cfg.Backtest.StartDate)
	assert.Equal(t, 4, cfg.Backtest.Workers)
	assert.True(t, cfg.Backtest.StoreTrades)
	assert.Equal(t, 500000.0, cfg.Account.Capital)
	// Unset fields keep their defaults.
	assert.Equal(t, 1000.0, cfg.Account.MaxRiskPerTrade)
	assert.True(t, cfg.Grid.Quick)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.True(t, cfg.HasFilter())
	f := cfg.GridFilter()
	assert.Equal(t, []int{15, 30}, f.ORMinutes)
	assert.Equal(t, []domain.StopLossType{domain.StopLossFixed}, f.StopLossTypes)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("ORB_POSTGRES_DSN", "postgres://env-host/orb")
	t.Setenv("ORB_STORAGE_BACKEND", "postgres")
	t.Setenv("ORB_WORKERS", "8")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://env-host/orb", cfg.Storage.PostgresDSN)
	assert.Equal(t, "postgres", cfg.Storage.Backend)
	assert.Equal(t, 8, cfg.Backtest.Workers)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestSimConfig(t *testing.T) {
	cfg := Default()
	cfg.Account.Capital = 250000
	cfg.Account.VolumeFactor = 2.0

	sim := cfg.SimConfig()
	assert.Equal(t, 250000.0, sim.Capital)
	assert.Equal(t, 2.0, sim.VolumeFactor)
	assert.Equal(t, 0.00025, sim.STTRate)
}

func TestSnapshot_IsValidJSON(t *testing.T) {
	snap := Default().Snapshot()
	assert.Contains(t, snap, `"Capital":100000`)
}
