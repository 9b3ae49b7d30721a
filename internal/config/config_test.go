package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
app:
  env: prod
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, "paper", cfg.Broker.Backend)
	assert.Equal(t, 30, cfg.Verifier.IntervalMinutes)
	assert.Equal(t, 24, cfg.EOD.StaleAfterHours)
	assert.Equal(t, 100.0, cfg.Trading.CapitalPerTrade)
	assert.Equal(t, "09:15", cfg.Calendar.SessionOpen)
	assert.Equal(t, "1h", cfg.Retry.Interval)
	assert.Equal(t, "data/journal.db", cfg.Store.JournalPath)
}

func TestValidateRejectsBadRetryInterval(t *testing.T) {
	_, err := Load(writeConfig(t, "retry:\n  interval: soon\n"))
	assert.Error(t, err)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
app:
  log_level: debug
  http_addr: ":8080"
store:
  path: /tmp/steward-test.db
broker:
  backend: binance
  api_key: k
  api_secret: s
  quote_asset: usdt
  timeout_seconds: 5
trading:
  capital_per_trade: 5000
  lot_step: 0.001
verifier:
  interval_minutes: 10
  grace_period_seconds: 60
eod:
  hour: 17
  minute: 30
  retention_days: 7
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "binance", cfg.Broker.Backend)
	assert.Equal(t, 5000.0, cfg.Trading.CapitalPerTrade)
	assert.Equal(t, 0.001, cfg.Trading.LotStep)
	assert.Equal(t, 10, cfg.Verifier.IntervalMinutes)
	assert.Equal(t, 17, cfg.EOD.Hour)
	assert.Equal(t, 30, cfg.EOD.Minute)
	assert.Equal(t, 7, cfg.EOD.RetentionDays)
}

func TestValidateRejectsBadBackend(t *testing.T) {
	_, err := Load(writeConfig(t, "broker:\n  backend: etrade\n"))
	assert.Error(t, err)
}

func TestValidateBinanceRequiresCredentials(t *testing.T) {
	_, err := Load(writeConfig(t, "broker:\n  backend: binance\n"))
	assert.Error(t, err)
}

func TestValidateTelegramRequiresToken(t *testing.T) {
	_, err := Load(writeConfig(t, "notify:\n  telegram:\n    enabled: true\n"))
	assert.Error(t, err)
}
