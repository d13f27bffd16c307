package main

import (
	"context"
	"log"

	"optionflow-scanner/internal/config"
	"optionflow-scanner/internal/dedup"
	"optionflow-scanner/internal/errs"
	"optionflow-scanner/internal/flow"
	"optionflow-scanner/internal/provider"
	"optionflow-scanner/internal/scoring"
	"optionflow-scanner/internal/store"
	"optionflow-scanner/internal/supervisor"
	"optionflow-scanner/internal/webhook"
	"optionflow-scanner/internal/worker"
)

func main() {
	cfg := config.LoadFromEnv()

	// Only fatal configuration exits the process; every other failure
	// mode is absorbed inside the workers.
	if err := run(cfg); err != nil {
		log.Fatal(err)
	}
}

func run(cfg *config.Config) error {
	if cfg.Provider.APIKey == "" {
		return errs.NewFatalConfig("POLYGON_API_KEY", "missing provider credential")
	}

	symbols := watchlist(cfg)
	if len(symbols) == 0 {
		return errs.NewFatalConfig("WATCHLIST", "empty after applying SKIP_TICKERS")
	}
	log.Printf("📊 watchlist: %d symbols", len(symbols))

	persist, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		log.Printf("⚠️  persisted store unavailable, dedup falls back to in-memory: %v", err)
		persist = nil
	}

	fetcher := provider.New(cfg.Provider, cfg.Redis)
	deltaCache := flow.NewDeltaCache()
	detector := flow.NewDetector(fetcher, deltaCache)
	sink := webhook.NewSink()
	dedupStore := dedup.New(persist, dedup.DefaultCooldownTTL)
	locks := worker.NewUnderlyingLocks()
	concurrency := cfg.Provider.MaxConcurrentReqs

	cascades := map[string]func(config.StrategyConfig) scoring.Cascade{
		"GOLDEN":   scoring.NewGoldenSweepCascade,
		"SWEEPS":   scoring.NewGeneralFlowCascade,
		"BULLSEYE": scoring.NewInstitutionalSwingCascade,
		"SCALP":    scoring.NewScalpCascade,
		"FLOW":     scoring.NewGeneralFlowCascade,
	}

	var workers []*worker.Scanner
	for name, sc := range cfg.Strategies {
		if sc.Webhook == "" {
			log.Printf("⚠️  [%s] no webhook configured, strategy disabled", name)
			continue
		}
		if name == "STRAT" {
			workers = append(workers, worker.NewStratWorker(sc, symbols, fetcher, dedupStore, sink, persist, concurrency))
			continue
		}
		build, ok := cascades[name]
		if !ok {
			log.Printf("⚠️  [%s] unknown strategy, skipped", name)
			continue
		}
		workers = append(workers, worker.NewFlowWorker(sc, symbols, detector, build(sc), dedupStore, sink, locks, persist, concurrency))
	}

	if len(workers) == 0 {
		return errs.NewFatalConfig("strategies", "no strategy has a webhook configured")
	}

	sup := supervisor.New(fetcher, persist, workers...)
	return sup.Run(context.Background())
}

// watchlist applies SKIP_TICKERS to the configured symbol set,
// keeping order.
func watchlist(cfg *config.Config) []string {
	skip := make(map[string]struct{}, len(cfg.Watchlist.SkipTickers))
	for _, s := range cfg.Watchlist.SkipTickers {
		skip[s] = struct{}{}
	}
	out := make([]string, 0, len(cfg.Watchlist.Symbols))
	for _, s := range cfg.Watchlist.Symbols {
		if _, skipped := skip[s]; skipped {
			continue
		}
		out = append(out, s)
	}
	return out
}
