// Package supervisor starts the scanner workers
// with a startup stagger, aggregates their health, and tears the
// process down gracefully on SIGINT/SIGTERM with a bounded grace
// period.
package supervisor

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"optionflow-scanner/internal/provider"
	"optionflow-scanner/internal/store"
	"optionflow-scanner/internal/worker"
)

const (
	startupStagger = 5 * time.Second
	shutdownGrace  = 15 * time.Second
)

// Supervisor owns the worker pool and the process-wide resources the
// workers share (the fetcher's HTTP pool and the persisted store).
type Supervisor struct {
	workers []*worker.Scanner
	fetcher *provider.Fetcher
	persist *store.Store
}

func New(fetcher *provider.Fetcher, persist *store.Store, workers ...*worker.Scanner) *Supervisor {
	return &Supervisor{workers: workers, fetcher: fetcher, persist: persist}
}

// Health returns the current health state per worker strategy.
func (s *Supervisor) Health() map[string]worker.Health {
	out := make(map[string]worker.Health, len(s.workers))
	for _, w := range s.workers {
		out[w.Strategy] = w.Health()
	}
	return out
}

// Run starts every worker sequentially with a small stagger to smooth
// startup load, then blocks until a shutdown signal arrives and the
// teardown completes.
func (s *Supervisor) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for i, w := range s.workers {
		if i > 0 {
			select {
			case <-time.After(startupStagger):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		go w.Run(ctx)
		log.Printf("✅ supervisor: started %s worker (%d/%d)", w.Strategy, i+1, len(s.workers))
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	select {
	case <-interrupt:
		log.Println("🛑 shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
	}

	cancel()
	return s.shutdown()
}

// shutdown awaits every worker's scan-loop completion within the
// grace period, then closes the HTTP pool and flushes the persisted
// store.
func (s *Supervisor) shutdown() error {
	graceCtx, graceCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer graceCancel()

	done := make(chan struct{})
	go func() {
		for _, w := range s.workers {
			<-w.Done()
		}
		close(done)
	}()

	select {
	case <-done:
		log.Println("✅ all workers stopped")
	case <-graceCtx.Done():
		log.Println("⚠️  grace period expired with workers still stopping")
	}

	if s.fetcher != nil {
		if err := s.fetcher.Close(); err != nil {
			log.Printf("⚠️  fetcher close: %v", err)
		}
	}
	if err := s.persist.Close(); err != nil {
		log.Printf("⚠️  store close: %v", err)
		return err
	}
	log.Println("👋 supervisor shutdown complete")
	return nil
}
