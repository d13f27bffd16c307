// Package config loads the scanner's configuration surface from
// environment variables (optionally backed by a .env file), following
// the same getEnvOrDefault/getEnvInt/getEnvFloat idiom the rest of
// this codebase's ancestry uses.
package config

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ProviderConfig configures the market-data REST provider.
type ProviderConfig struct {
	APIKey             string
	BaseURL            string
	MaxConcurrentReqs  int
	RequestTimeoutSecs int
	RetryAttempts      int
	RetryDelaySecs     int
	RateLimitPerSecond int
	CircuitFailureN    int
	CircuitWindowSecs  int
	CircuitCooldownSec int
}

// WatchlistConfig configures the input symbol set.
type WatchlistConfig struct {
	Mode         string // STATIC or ALL_MARKET
	Symbols      []string
	SkipTickers  []string
}

// StrategyConfig configures one scanner worker (one per strategy
// name, e.g. "GOLDEN", "SWEEPS", "BULLSEYE", "STRAT").
type StrategyConfig struct {
	Name             string
	Webhook          string
	IntervalSeconds  int
	MinPremium       float64
	MinVolume        float64
	MinDTE           int
	MaxDTE           int
	DeltaMin         float64
	DeltaMax         float64
	MinITMProbability float64
	MaxSpreadPct     float64
}

// Config is the full scanner configuration.
type Config struct {
	Provider    ProviderConfig
	Watchlist   WatchlistConfig
	Strategies  map[string]StrategyConfig
	DatabaseURL string
	Redis       RedisConfig
}

// RedisConfig configures the optional response-cache backend. When
// Host is empty the fetcher runs cache-local-only.
type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// LoadFromEnv loads configuration from environment variables,
// preferring a .env file in the working directory when present.
func LoadFromEnv() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Provider: ProviderConfig{
			APIKey:             os.Getenv("POLYGON_API_KEY"),
			BaseURL:            getEnvOrDefault("PROVIDER_BASE_URL", "https://api.polygon.io"),
			MaxConcurrentReqs:  getEnvInt("MAX_CONCURRENT_REQUESTS", 10),
			RequestTimeoutSecs: getEnvInt("REQUEST_TIMEOUT", 30),
			RetryAttempts:      getEnvInt("RETRY_ATTEMPTS", 3),
			RetryDelaySecs:     getEnvInt("RETRY_DELAY", 1),
			RateLimitPerSecond: getEnvInt("RATE_LIMIT_PER_SECOND", 5),
			CircuitFailureN:    getEnvInt("CIRCUIT_FAILURE_THRESHOLD", 5),
			CircuitWindowSecs:  getEnvInt("CIRCUIT_WINDOW_SECONDS", 30),
			CircuitCooldownSec: getEnvInt("CIRCUIT_COOLDOWN_SECONDS", 60),
		},
		Watchlist: WatchlistConfig{
			Mode:        getEnvOrDefault("WATCHLIST_MODE", "STATIC"),
			Symbols:     splitCSV(getEnvOrDefault("WATCHLIST", "AAPL,SPY,QQQ,TSLA,NVDA")),
			SkipTickers: splitCSV(getEnvOrDefault("SKIP_TICKERS", "")),
		},
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Redis: RedisConfig{
			Host:     os.Getenv("REDIS_HOST"),
			Port:     getEnvOrDefault("REDIS_PORT", "6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
		},
	}

	cfg.Strategies = map[string]StrategyConfig{
		"GOLDEN": {
			Name:            "GOLDEN",
			Webhook:         os.Getenv("GOLDEN_WEBHOOK"),
			IntervalSeconds: getEnvInt("GOLDEN_INTERVAL", 30),
			MinPremium:      getEnvFloat("GOLDEN_MIN_PREMIUM", 1_000_000),
			MinDTE:          1,
			MaxDTE:          180,
		},
		"SWEEPS": {
			Name:            "SWEEPS",
			Webhook:         os.Getenv("SWEEPS_WEBHOOK"),
			IntervalSeconds: getEnvInt("SWEEPS_INTERVAL", 20),
			MinPremium:      getEnvFloat("SWEEPS_MIN_PREMIUM", 500_000),
			MinDTE:          1,
			MaxDTE:          5,
		},
		"BULLSEYE": {
			Name:              "BULLSEYE",
			Webhook:           os.Getenv("BULLSEYE_WEBHOOK"),
			IntervalSeconds:   getEnvInt("BULLSEYE_INTERVAL", 30),
			MinPremium:        getEnvFloat("BULLSEYE_MIN_PREMIUM", 500_000),
			MinDTE:            getEnvInt("BULLSEYE_MIN_DTE", 1),
			MaxDTE:            getEnvInt("BULLSEYE_MAX_DTE", 5),
			DeltaMin:          getEnvFloat("BULLSEYE_DELTA_MIN", 0.35),
			DeltaMax:          getEnvFloat("BULLSEYE_DELTA_MAX", 0.65),
			MinITMProbability: getEnvFloat("BULLSEYE_MIN_ITM_PROBABILITY", 0.35),
			MaxSpreadPct:      getEnvFloat("BULLSEYE_MAX_SPREAD_PCT", 0.05),
		},
		"SCALP": {
			Name:            "SCALP",
			Webhook:         os.Getenv("SCALP_WEBHOOK"),
			IntervalSeconds: getEnvInt("SCALP_INTERVAL", 15),
			MinPremium:      getEnvFloat("SCALP_MIN_PREMIUM", 2_000),
			MinDTE:          0,
			MaxDTE:          7,
		},
		"FLOW": {
			Name:            "FLOW",
			Webhook:         os.Getenv("FLOW_WEBHOOK"),
			IntervalSeconds: getEnvInt("FLOW_INTERVAL", 30),
			MinPremium:      getEnvFloat("MIN_PREMIUM", 10_000),
			MinVolume:       getEnvFloat("MIN_VOLUME", 0),
			MinDTE:          1,
			MaxDTE:          45,
		},
		"STRAT": {
			Name:            "STRAT",
			Webhook:         os.Getenv("STRAT_WEBHOOK"),
			IntervalSeconds: getEnvInt("STRAT_INTERVAL", 300),
		},
	}

	return cfg
}

// splitCSV uppercases, trims, and removes duplicates while keeping
// first-seen order; the watchlist is an ordered set of symbols.
func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var intValue int
	if _, err := fmt.Sscanf(value, "%d", &intValue); err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var floatValue float64
	if _, err := fmt.Sscanf(value, "%f", &floatValue); err != nil {
		return defaultValue
	}
	return floatValue
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
