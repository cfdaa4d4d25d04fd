// Package config loads ScalpGuard's process configuration: environment
// variables (.env via godotenv) for secrets and connection strings, plus a
// YAML override file for the risk/exit-geometry constants, mirroring the
// JSON/YAML dual-surface the carried-forward strategy store used for
// per-tactic configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"scalpguard/internal/position"
	"scalpguard/internal/risk"
	"scalpguard/internal/signal"
)

// Config is the fully resolved process configuration.
type Config struct {
	Env Env

	Risk     risk.Config
	Signal   signal.Config
	Position position.Config
}

// Env holds the connection/secret values sourced from the process
// environment (and .env in local development).
type Env struct {
	HTTPAddr      string
	StateStorePath string
	KVStorePath   string
	JWTSecret     string
	MT4BaseURL    string
	MT4APIKey     string
	OKXAPIKey     string
	OKXAPISecret  string
	OKXPassphrase string
	BinanceAPIKey string
	BinanceSecret string
	AIProviderURLs []string
	LogLevel      string
	LogJSON       bool
}

// Overrides is the YAML shape for tuning risk/signal/exit-geometry
// constants without a redeploy. Every field is optional; zero values leave
// the corresponding DefaultConfig() field untouched.
type Overrides struct {
	Risk struct {
		MaxDailyLossUSD    *float64 `yaml:"max_daily_loss_usd"`
		MaxConsecutiveLosses *int   `yaml:"max_consecutive_losses"`
		MaxRiskPerTradeUSD *float64 `yaml:"max_risk_per_trade_usd"`
	} `yaml:"risk"`
	Signal struct {
		MaxSLPoints *float64 `yaml:"max_sl_points"`
		RRRatio     *float64 `yaml:"rr_ratio"`
	} `yaml:"signal"`
	Position struct {
		TimeExitMaxMinutes *float64 `yaml:"time_exit_max_minutes"`
		EarlyExitLossPoints *float64 `yaml:"early_exit_loss_points"`
	} `yaml:"position"`
}

// Load reads .env (if present, missing is not an error), resolves Env from
// the process environment, and applies an optional YAML overrides file on
// top of each component's DefaultConfig().
func Load(envPath, overridesPath string) (Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config: load .env: %w", err)
		}
	}

	cfg := Config{
		Env:      loadEnv(),
		Risk:     risk.DefaultConfig(),
		Signal:   signal.DefaultConfig(),
		Position: position.DefaultConfig(),
	}

	if overridesPath == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(overridesPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("config: read overrides: %w", err)
	}
	var ov Overrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return Config{}, fmt.Errorf("config: parse overrides: %w", err)
	}
	applyOverrides(&cfg, ov)
	return cfg, nil
}

func applyOverrides(cfg *Config, ov Overrides) {
	if v := ov.Risk.MaxDailyLossUSD; v != nil {
		cfg.Risk.MaxDailyLossUSD = *v
	}
	if v := ov.Risk.MaxConsecutiveLosses; v != nil {
		cfg.Risk.MaxConsecutiveLosses = *v
	}
	if v := ov.Risk.MaxRiskPerTradeUSD; v != nil {
		cfg.Risk.MaxRiskPerTradeUSD = *v
	}
	if v := ov.Signal.MaxSLPoints; v != nil {
		cfg.Signal.MaxSLPoints = *v
	}
	if v := ov.Signal.RRRatio; v != nil {
		cfg.Signal.RRRatio = *v
	}
	if v := ov.Position.TimeExitMaxMinutes; v != nil {
		cfg.Position.TimeExitMaxMinutes = *v
	}
	if v := ov.Position.EarlyExitLossPoints; v != nil {
		cfg.Position.EarlyExitLossPoints = *v
	}
}

func loadEnv() Env {
	return Env{
		HTTPAddr:       getEnv("SCALPGUARD_HTTP_ADDR", ":8080"),
		StateStorePath: getEnv("SCALPGUARD_STATE_DB", "scalpguard.db"),
		KVStorePath:    getEnv("SCALPGUARD_KV_DB", "scalpguard-kv.db"),
		JWTSecret:      os.Getenv("SCALPGUARD_JWT_SECRET"),
		MT4BaseURL:     os.Getenv("SCALPGUARD_MT4_BASE_URL"),
		MT4APIKey:      os.Getenv("SCALPGUARD_MT4_API_KEY"),
		OKXAPIKey:      os.Getenv("SCALPGUARD_OKX_API_KEY"),
		OKXAPISecret:   os.Getenv("SCALPGUARD_OKX_API_SECRET"),
		OKXPassphrase:  os.Getenv("SCALPGUARD_OKX_PASSPHRASE"),
		BinanceAPIKey:  os.Getenv("SCALPGUARD_BINANCE_API_KEY"),
		BinanceSecret:  os.Getenv("SCALPGUARD_BINANCE_API_SECRET"),
		AIProviderURLs: getEnvList("SCALPGUARD_AI_PROVIDER_URLS"),
		LogLevel:       getEnv("SCALPGUARD_LOG_LEVEL", "info"),
		LogJSON:        getEnvBool("SCALPGUARD_LOG_JSON", false),
	}
}

// getEnvList splits a comma-separated env var into its trimmed, non-empty
// elements. An unset or empty var yields a nil slice (no providers configured).
func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// HTTPTimeout is the default timeout applied to outbound broker HTTP
// clients when no override is configured.
const HTTPTimeout = 10 * time.Second
