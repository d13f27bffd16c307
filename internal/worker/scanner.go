// Package worker runs one scanner worker per strategy,
// each a long-lived loop that scans its watchlist on a schedule,
// runs its filter cascade, and posts surviving signals to a chat
// webhook. Workers never exit on their own; the supervisor stops
// them through context cancellation.
package worker

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"optionflow-scanner/internal/ring"
)

const (
	defaultConcurrency     = 10
	maxBackoff             = 5 * time.Minute
	unhealthyAfterFailures = 25
	idleSleepCap           = 300 * time.Second
)

// Health is the aggregated state the supervisor reports per worker.
type Health string

const (
	HealthStarting Health = "starting"
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthStopped  Health = "stopped"
)

// ScanFunc runs one full scan iteration over the worker's watchlist
// and returns the number of signals emitted. Per-symbol failures are
// the implementation's to isolate; an error return means the whole
// iteration failed (circuit open, config problem) and advances the
// consecutive-failure counter.
type ScanFunc func(ctx context.Context) (signals int, err error)

// IntervalFunc returns the sleep before the next iteration, letting a
// strategy tighten its schedule near known alert windows.
type IntervalFunc func(now time.Time) time.Duration

// ActiveFunc reports whether the worker is inside its active time
// window. Outside it, the worker sleeps without scanning.
type ActiveFunc func(now time.Time) bool

// Metrics is a worker's own bounded accounting.
type Metrics struct {
	Scans          atomic.Int64
	Signals        atomic.Int64
	Errors         atomic.Int64
	WebhookOK      atomic.Int64
	WebhookFailed  atomic.Int64
	ScanDurations  *ring.Buffer[time.Duration]
	SymbolFailures *ring.Buffer[ring.SkipRecord]
}

func newMetrics() *Metrics {
	return &Metrics{
		ScanDurations:  ring.New[time.Duration](100),
		SymbolFailures: ring.New[ring.SkipRecord](200),
	}
}

// Scanner is one strategy's worker loop.
type Scanner struct {
	Strategy string

	scan     ScanFunc
	interval IntervalFunc
	active   ActiveFunc

	metrics *Metrics

	mu                  sync.Mutex
	health              Health
	consecutiveFailures int

	done chan struct{}
}

// NewScanner builds a worker. interval and active may be nil: a nil
// interval means a fixed fallback of 30s, a nil active means
// always-on.
func NewScanner(strategy string, scan ScanFunc, interval IntervalFunc, active ActiveFunc) *Scanner {
	if interval == nil {
		interval = func(time.Time) time.Duration { return 30 * time.Second }
	}
	if active == nil {
		active = func(time.Time) bool { return true }
	}
	return &Scanner{
		Strategy: strategy,
		scan:     scan,
		interval: interval,
		active:   active,
		metrics:  newMetrics(),
		health:   HealthStarting,
		done:     make(chan struct{}),
	}
}

// Metrics exposes the worker's counters for the supervisor.
func (s *Scanner) Metrics() *Metrics { return s.metrics }

// Health returns the worker's current aggregated health state.
func (s *Scanner) Health() Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.health
}

func (s *Scanner) setHealth(h Health) {
	s.mu.Lock()
	s.health = h
	s.mu.Unlock()
}

// Done is closed when the scan loop has fully exited (the supervisor
// awaits this during its bounded-grace shutdown).
func (s *Scanner) Done() <-chan struct{} { return s.done }

// Run is the worker's loop. It returns only when ctx is
// cancelled; consecutive failures degrade health but never exit.
func (s *Scanner) Run(ctx context.Context) {
	defer close(s.done)
	defer s.setHealth(HealthStopped)

	log.Printf("📡 [%s] scanner started", s.Strategy)

	b := &backoff.Backoff{Min: time.Second, Max: maxBackoff, Factor: 2, Jitter: true}

	for {
		now := time.Now()
		if !s.active(now) {
			sleep := s.interval(now)
			if sleep > idleSleepCap {
				sleep = idleSleepCap
			}
			if !sleepCtx(ctx, sleep) {
				return
			}
			continue
		}

		started := time.Now()
		signals, err := s.scan(ctx)
		s.metrics.ScanDurations.Push(time.Since(started))
		s.metrics.Scans.Add(1)

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.metrics.Errors.Add(1)
			s.mu.Lock()
			s.consecutiveFailures++
			failures := s.consecutiveFailures
			s.mu.Unlock()

			if failures >= unhealthyAfterFailures {
				s.setHealth(HealthDegraded)
			}
			wait := b.Duration()
			log.Printf("⚠️  [%s] scan failed (%d consecutive): %v, backing off %s", s.Strategy, failures, err, wait.Round(time.Second))
			if !sleepCtx(ctx, wait) {
				return
			}
			continue
		}

		b.Reset()
		s.mu.Lock()
		s.consecutiveFailures = 0
		s.mu.Unlock()
		s.setHealth(HealthHealthy)
		s.metrics.Signals.Add(int64(signals))

		if !sleepCtx(ctx, s.interval(time.Now())) {
			return
		}
	}
}

// sleepCtx sleeps for d or until ctx is done; reports false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// scanDeadline computes the adaptive per-iteration deadline: at
// least 5 minutes, scaled to ceil(symbols/concurrency)*30s + 60s.
func scanDeadline(symbols, concurrency int) time.Duration {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	batches := (symbols + concurrency - 1) / concurrency
	d := time.Duration(batches)*30*time.Second + 60*time.Second
	if d < 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}

// forEachSymbol fans scanOne out over symbols with a bounded
// semaphore; per-symbol failures are recorded, counted, and
// isolated. Blocks until every in-flight symbol finishes.
func forEachSymbol(ctx context.Context, symbols []string, concurrency int, failures *ring.Buffer[ring.SkipRecord], scanOne func(ctx context.Context, symbol string) error) {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, symbol := range symbols {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := scanOne(ctx, sym); err != nil && ctx.Err() == nil {
				failures.Push(ring.SkipRecord{At: time.Now().Format(time.RFC3339), Symbol: sym, Reason: err.Error()})
			}
		}(symbol)
	}
	wg.Wait()
}
