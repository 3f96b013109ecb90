package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds environment-driven process settings.
type Config struct {
	Port         string `validate:"required,numeric"`
	DBPath       string `validate:"required"`
	PipelinePath string `validate:"required"`

	// Logging
	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	// Binance USDT-M futures
	BinanceTestnet   bool
	BinanceAPIKey    string `validate:"required_unless=DryRun true"`
	BinanceAPISecret string `validate:"required_unless=DryRun true"`
	UseMockFeed      bool

	// SYMBOLS overrides the pipeline file's symbol list when set.
	Symbols []string

	// Execution
	DryRun            bool
	AutoExecute       bool
	DryRunSlippageBps float64 `validate:"gte=0"`

	// Scheduling (cron spec with seconds, empty disables)
	ScanSchedule      string
	ReconcileSchedule string

	// "memory" or "sqlite"
	CooldownBackend string `validate:"oneof=memory sqlite"`

	// InfluxDB sink, disabled when InfluxURL is empty
	InfluxURL    string `validate:"omitempty,url"`
	InfluxToken  string `validate:"required_with=InfluxURL"`
	InfluxOrg    string `validate:"required_with=InfluxURL"`
	InfluxBucket string `validate:"required_with=InfluxURL"`

	// HTTP API per-client rate limit
	APIRateLimit float64 `validate:"gt=0"`
	APIBurst     int     `validate:"gt=0"`
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/signals.db")
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DBPath:            dbPath,
		PipelinePath:      getEnv("RULES_PATH", "./config/pipeline.yaml"),
		LogLevel:          strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "json")),
		BinanceTestnet:    getEnvBool("BINANCE_TESTNET", false),
		BinanceAPIKey:     os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:  os.Getenv("BINANCE_API_SECRET"),
		UseMockFeed:       getEnvBool("USE_MOCK_FEED", false),
		Symbols:           splitAndTrim(getEnv("SYMBOLS", "")),
		DryRun:            getEnvBool("DRY_RUN", true),
		AutoExecute:       getEnvBool("AUTO_EXECUTE", false),
		DryRunSlippageBps: getEnvFloat("DRY_RUN_SLIPPAGE_BPS", 2),
		ScanSchedule:      getEnv("SCAN_SCHEDULE", "5 */15 * * * *"),
		ReconcileSchedule: getEnv("RECONCILE_SCHEDULE", "30 * * * * *"),
		CooldownBackend:   strings.ToLower(getEnv("COOLDOWN_BACKEND", "sqlite")),
		InfluxURL:         os.Getenv("INFLUX_URL"),
		InfluxToken:       os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:         os.Getenv("INFLUX_ORG"),
		InfluxBucket:      os.Getenv("INFLUX_BUCKET"),
		APIRateLimit:      getEnvFloat("API_RATE_LIMIT", 10),
		APIBurst:          getEnvInt("API_BURST", 20),
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment config: %w", err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, strings.ToUpper(t))
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
