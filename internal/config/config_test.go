package config

import (
	"testing"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("POLYGON_API_KEY", "k")

	cfg := LoadFromEnv()

	if cfg.Provider.RateLimitPerSecond != 5 {
		t.Errorf("expected default rate limit 5/s, got %d", cfg.Provider.RateLimitPerSecond)
	}
	if cfg.Provider.RetryAttempts != 3 {
		t.Errorf("expected default 3 retries, got %d", cfg.Provider.RetryAttempts)
	}
	if len(cfg.Watchlist.Symbols) == 0 {
		t.Error("expected a default watchlist")
	}

	golden, ok := cfg.Strategies["GOLDEN"]
	if !ok {
		t.Fatal("expected a GOLDEN strategy")
	}
	if golden.MinPremium != 1_000_000 {
		t.Errorf("expected GOLDEN default min premium $1M, got %.0f", golden.MinPremium)
	}

	bullseye := cfg.Strategies["BULLSEYE"]
	if bullseye.DeltaMin != 0.35 || bullseye.DeltaMax != 0.65 {
		t.Errorf("unexpected BULLSEYE delta band [%.2f, %.2f]", bullseye.DeltaMin, bullseye.DeltaMax)
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("POLYGON_API_KEY", "k")
	t.Setenv("WATCHLIST", "spy, aapl,SPY,  tsla")
	t.Setenv("SKIP_TICKERS", "TSLA")
	t.Setenv("GOLDEN_MIN_PREMIUM", "750000")
	t.Setenv("GOLDEN_INTERVAL", "45")
	t.Setenv("RATE_LIMIT_PER_SECOND", "2")

	cfg := LoadFromEnv()

	// Uppercased, trimmed, de-duplicated, order kept.
	want := []string{"SPY", "AAPL", "TSLA"}
	if len(cfg.Watchlist.Symbols) != len(want) {
		t.Fatalf("expected %v, got %v", want, cfg.Watchlist.Symbols)
	}
	for i := range want {
		if cfg.Watchlist.Symbols[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, cfg.Watchlist.Symbols)
		}
	}
	if len(cfg.Watchlist.SkipTickers) != 1 || cfg.Watchlist.SkipTickers[0] != "TSLA" {
		t.Errorf("unexpected skip tickers %v", cfg.Watchlist.SkipTickers)
	}

	if cfg.Strategies["GOLDEN"].MinPremium != 750_000 {
		t.Errorf("expected overridden min premium, got %.0f", cfg.Strategies["GOLDEN"].MinPremium)
	}
	if cfg.Strategies["GOLDEN"].IntervalSeconds != 45 {
		t.Errorf("expected overridden interval, got %d", cfg.Strategies["GOLDEN"].IntervalSeconds)
	}
	if cfg.Provider.RateLimitPerSecond != 2 {
		t.Errorf("expected overridden rate limit, got %d", cfg.Provider.RateLimitPerSecond)
	}
}

func TestGetEnvHelpersIgnoreMalformedValues(t *testing.T) {
	t.Setenv("RETRY_ATTEMPTS", "not-a-number")
	t.Setenv("GOLDEN_MIN_PREMIUM", "lots")

	cfg := LoadFromEnv()
	if cfg.Provider.RetryAttempts != 3 {
		t.Errorf("malformed int should fall back to default, got %d", cfg.Provider.RetryAttempts)
	}
	if cfg.Strategies["GOLDEN"].MinPremium != 1_000_000 {
		t.Errorf("malformed float should fall back to default, got %.0f", cfg.Strategies["GOLDEN"].MinPremium)
	}
}
