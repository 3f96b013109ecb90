package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-core/internal/sizing"
	"signal-core/internal/strategy"
)

const samplePipeline = `
symbols: [btcusdt, ETHUSDT, SOLUSDT, DOGEUSDT]
timeframes: [1h, 4h]
deny: [dogeusdt]
scan:
  concurrency: 8
  batch_delay: 250ms
rules:
  volume_multiplier: 1.8
  cooldown: 2h
  momentum:
    enabled: true
timeframe_rules:
  4h:
    volume_multiplier: 2.5
    direction_priority: [SHORT, LONG]
risk:
  mode: risk_percent
  risk_budget: 25
  leverage: 3
`

func TestParsePipelineOverridesDefaults(t *testing.T) {
	p, err := ParsePipeline([]byte(samplePipeline))
	require.NoError(t, err)

	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "DOGEUSDT"}, p.Symbols)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, p.ActiveSymbols())

	assert.Equal(t, 8, p.Scan.Concurrency)
	assert.Equal(t, 250*time.Millisecond, p.Scan.BatchDelay)
	assert.Equal(t, 10, p.Scan.BatchSize, "unset keys keep their defaults")

	assert.Equal(t, 1.8, p.Rules.VolumeMultiplier)
	assert.Equal(t, 2*time.Hour, p.Rules.Cooldown)
	assert.True(t, p.Rules.Momentum.Enabled)
	assert.Equal(t, 80.0, p.Rules.Momentum.Overbought)

	tf4h, ok := p.TimeframeRules["4h"]
	require.True(t, ok)
	assert.Equal(t, 2.5, tf4h.VolumeMultiplier)
	assert.Equal(t, 2*time.Hour, tf4h.Cooldown, "overrides start from the file's default rules")
	assert.True(t, tf4h.Momentum.Enabled)
	assert.Equal(t, []strategy.Direction{strategy.Short, strategy.Long}, tf4h.DirectionPriority)
	assert.Equal(t, []strategy.Direction{strategy.Long, strategy.Short}, p.Rules.DirectionPriority)

	assert.Equal(t, sizing.ModeRiskPercent, p.Risk.Mode)
	assert.Equal(t, 25.0, p.Risk.RiskBudget)
}

func TestParsePipelineRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad timeframe":       "timeframes: [7m]",
		"zero concurrency":    "scan: {concurrency: 0}",
		"bad hvp mode":        "rules: {hvp_mode: sometimes}",
		"slow before fast":    "rules: {indicators: {fast_period: 30, slow_period: 10}}",
		"leverage over max":   "risk: {leverage: 50, max_leverage: 20}",
		"override unknown tf": "timeframe_rules: {15m: {volume_multiplier: 2}}",
		"everything denied":   "symbols: [BTCUSDT]\ndeny: [BTCUSDT]",
		"bad override":        "timeframe_rules: {1h: {stop_loss_atr: -1}}",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePipeline([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadPipelineMissingFileUsesDefaults(t *testing.T) {
	p, found, err := LoadPipeline(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, DefaultPipeline().Symbols, p.Symbols)
	assert.Equal(t, strategy.DefaultRules().Cooldown, p.Rules.Cooldown)
}

func TestLoadPipelineFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(samplePipeline), 0o600))

	p, found, err := LoadPipeline(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, p.TimeframeRules, 1)
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DRY_RUN", "true")
	t.Setenv("SYMBOLS", "btcusdt, ethusdt")
	t.Setenv("COOLDOWN_BACKEND", "memory")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Symbols)
	assert.Equal(t, "memory", cfg.CooldownBackend)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadEnvRequiresCredentialsForLiveTrading(t *testing.T) {
	t.Setenv("DRY_RUN", "false")
	t.Setenv("BINANCE_API_KEY", "")
	t.Setenv("BINANCE_API_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadEnvInfluxRequiresToken(t *testing.T) {
	t.Setenv("DRY_RUN", "true")
	t.Setenv("INFLUX_URL", "http://localhost:8086")
	t.Setenv("INFLUX_TOKEN", "")

	_, err := Load()
	assert.Error(t, err)
}
