package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"optionflow-scanner/internal/bar"
	"optionflow-scanner/internal/config"
	"optionflow-scanner/internal/dedup"
	"optionflow-scanner/internal/errs"
	"optionflow-scanner/internal/flow"
	"optionflow-scanner/internal/ring"
	"optionflow-scanner/internal/scoring"
	"optionflow-scanner/internal/store"
	"optionflow-scanner/internal/webhook"
)

// UnderlyingLocks serializes flow scans per underlying so the
// volume-delta cache's single-writer invariant holds even when
// several flow strategies share a symbol.
type UnderlyingLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewUnderlyingLocks() *UnderlyingLocks {
	return &UnderlyingLocks{locks: make(map[string]*sync.Mutex)}
}

func (u *UnderlyingLocks) For(underlying string) *sync.Mutex {
	u.mu.Lock()
	defer u.mu.Unlock()
	l, ok := u.locks[underlying]
	if !ok {
		l = &sync.Mutex{}
		u.locks[underlying] = l
	}
	return l
}

// Sender is the webhook sink seam used by both worker kinds.
type Sender interface {
	Send(ctx context.Context, url string, embed webhook.Embed) error
}

type flowWorker struct {
	cfg      config.StrategyConfig
	symbols  []string
	detector *flow.Detector
	cascade  scoring.Cascade
	dedup    *dedup.Store
	sink     Sender
	locks    *UnderlyingLocks
	persist  *store.Store

	metrics     *Metrics
	concurrency int

	repeatMu   sync.Mutex
	repeats    map[string]int
	repeatDate string
}

// NewFlowWorker wires one flow strategy into a Scanner. The cascade
// decides which of the four named policies this worker runs.
func NewFlowWorker(cfg config.StrategyConfig, symbols []string, detector *flow.Detector, cascade scoring.Cascade, dd *dedup.Store, sink Sender, locks *UnderlyingLocks, persist *store.Store, concurrency int) *Scanner {
	w := &flowWorker{
		cfg:         cfg,
		symbols:     symbols,
		detector:    detector,
		cascade:     cascade,
		dedup:       dd,
		sink:        sink,
		locks:       locks,
		persist:     persist,
		concurrency: concurrency,
		repeats:     make(map[string]int),
	}
	interval := func(time.Time) time.Duration {
		return time.Duration(cfg.IntervalSeconds) * time.Second
	}
	s := NewScanner(cfg.Name, w.scan, interval, nil)
	w.metrics = s.Metrics()
	return s
}

func (w *flowWorker) thresholds() flow.Thresholds {
	return flow.Thresholds{
		MinPremium:     w.cfg.MinPremium,
		MinVolumeDelta: w.cfg.MinVolume,
	}
}

func (w *flowWorker) scan(ctx context.Context) (int, error) {
	deadline := scanDeadline(len(w.symbols), w.concurrency)
	scanCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	runID, _ := w.persist.StartJobRun(w.cfg.Name)

	var emitted atomic.Int64
	var circuitOpen atomic.Bool

	forEachSymbol(scanCtx, w.symbols, w.concurrency, w.metrics.SymbolFailures, func(ctx context.Context, symbol string) error {
		if circuitOpen.Load() {
			return nil
		}
		n, err := w.scanSymbol(ctx, symbol)
		if err != nil {
			var open *errs.CircuitOpenError
			if errors.As(err, &open) {
				circuitOpen.Store(true)
			}
			var notFound *errs.NotFoundError
			if errors.As(err, &notFound) {
				// Sticky skip; not an operational failure.
				return nil
			}
			return err
		}
		emitted.Add(int64(n))
		return nil
	})

	status := "ok"
	var scanErr error
	if circuitOpen.Load() {
		// Short-circuit the cycle; the loop sleeps one interval and
		// retries.
		status = "circuit_open"
		scanErr = errs.NewCircuitOpen(time.Now().Format(time.RFC3339))
	}
	_ = w.persist.FinishJobRun(runID, len(w.symbols), 0, int(emitted.Load()), "", status)

	return int(emitted.Load()), scanErr
}

func (w *flowWorker) scanSymbol(ctx context.Context, symbol string) (int, error) {
	lock := w.locks.For(symbol)
	lock.Lock()
	defer lock.Unlock()

	events, err := w.detector.Scan(ctx, symbol, w.thresholds())
	if err != nil {
		return 0, err
	}

	sent := 0
	for _, e := range events {
		kept, reason, _ := w.cascade.Run(ctx, e)
		if !kept {
			w.metrics.SymbolFailures.Push(ring.SkipRecord{At: time.Now().Format(time.RFC3339), Symbol: e.ContractTicker, Reason: reason})
			continue
		}

		key := cooldownKey(e)
		if !w.dedup.AllowCooldown(w.cfg.Name + "|" + key) {
			continue
		}

		score := scoring.Score(e, w.bumpRepeat(e.ContractTicker), false)
		if err := w.post(ctx, e, score); err != nil {
			w.metrics.WebhookFailed.Add(1)
			log.Printf("⚠️  [%s] webhook failed for %s: %v", w.cfg.Name, e.ContractTicker, err)
			continue
		}
		w.metrics.WebhookOK.Add(1)
		sent++
	}
	return sent, nil
}

// bumpRepeat counts how many times a contract has alerted today,
// feeding the repeat-activity score tier. Resets at ET date rollover.
func (w *flowWorker) bumpRepeat(contract string) int {
	w.repeatMu.Lock()
	defer w.repeatMu.Unlock()
	today := time.Now().In(bar.ET).Format("2006-01-02")
	if today != w.repeatDate {
		w.repeats = make(map[string]int)
		w.repeatDate = today
	}
	count := w.repeats[contract]
	w.repeats[contract] = count + 1
	return count
}

func cooldownKey(e flow.Event) string {
	return fmt.Sprintf("%s|%s|%.2f|%s", e.Underlying, e.Kind, e.Strike, e.ExpirationDate.Format("2006-01-02"))
}

func (w *flowWorker) post(ctx context.Context, e flow.Event, score float64) error {
	title := fmt.Sprintf("%s %s $%s %s", e.Underlying, e.Kind, webhook.FormatFloat(e.Strike), e.ExpirationDate.Format("01/02/06"))
	if label := scoring.Label(e); label != "" {
		title = label + " 🐋 " + title
	}

	desc := fmt.Sprintf("%s flow on the %s side, premium $%s", strings.ToLower(string(e.Intensity)), e.ExecutionSide, webhook.FormatFloat(e.PremiumUSD))

	color := 0x2ECC71
	if e.Kind == "PUT" {
		color = 0xE74C3C
	}

	embed := webhook.Embed{
		Title:       title,
		Description: desc,
		Color:       color,
		Timestamp:   e.ObservedAt.Format(time.RFC3339),
		Fields: []webhook.Field{
			{Name: "Premium", Value: "$" + webhook.FormatFloat(e.PremiumUSD), Inline: true},
			{Name: "Volume Δ", Value: webhook.FormatFloat(e.VolumeDelta), Inline: true},
			{Name: "Vol/OI", Value: webhook.FormatFloat(e.VolOIRatio), Inline: true},
			{Name: "Last", Value: webhook.FormatFloat(e.LastPrice), Inline: true},
			{Name: "Spot", Value: webhook.FormatFloat(e.UnderlyingPrice), Inline: true},
			{Name: "IV", Value: webhook.FormatFloat(e.IV), Inline: true},
			{Name: "Delta", Value: webhook.FormatFloat(e.Delta), Inline: true},
			{Name: "DTE", Value: fmt.Sprintf("%d", e.DTE()), Inline: true},
			{Name: "Score", Value: webhook.FormatFloat(score), Inline: true},
		},
		Footer: &webhook.Footer{Text: w.cfg.Name + " scanner"},
	}
	return w.sink.Send(ctx, w.cfg.Webhook, embed)
}
