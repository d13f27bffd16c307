package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"optionflow-scanner/internal/bar"
	"optionflow-scanner/internal/config"
	"optionflow-scanner/internal/dedup"
	"optionflow-scanner/internal/errs"
	"optionflow-scanner/internal/provider"
	"optionflow-scanner/internal/store"
	"optionflow-scanner/internal/webhook"
)

// BarFetcher is the slice of the provider fetcher the STRAT worker
// needs; *provider.Fetcher satisfies it.
type BarFetcher interface {
	GetAggregates(ctx context.Context, symbol string, multiplier int, timespan string, from, to time.Time) ([]provider.Bar, error)
}

type stratWorker struct {
	cfg     config.StrategyConfig
	symbols []string
	fetcher BarFetcher
	dedup   *dedup.Store
	sink    Sender
	persist *store.Store

	metrics     *Metrics
	concurrency int
}

// NewStratWorker wires the STRAT pattern strategy into a Scanner.
// Its interval adapts to the pattern alert windows: 60s inside any
// window, 120s in the five minutes before one, 300s otherwise.
func NewStratWorker(cfg config.StrategyConfig, symbols []string, fetcher BarFetcher, dd *dedup.Store, sink Sender, persist *store.Store, concurrency int) *Scanner {
	w := &stratWorker{
		cfg:         cfg,
		symbols:     symbols,
		fetcher:     fetcher,
		dedup:       dd,
		sink:        sink,
		persist:     persist,
		concurrency: concurrency,
	}
	s := NewScanner(cfg.Name, w.scan, AdaptiveStratInterval, nil)
	w.metrics = s.Metrics()
	return s
}

// alertWindowStarts are the ET minutes-of-day at which a STRAT alert
// window opens: 04:00 and 08:00 (2-2), 10:01 (3-2-2), 08:00 and
// 20:00 (Miyagi).
var alertWindowStarts = []int{4 * 60, 8 * 60, 10*60 + 1, 20 * 60}

const alertWindowLen = 6 // minutes; every window is at most 6 minutes wide

// AdaptiveStratInterval tightens the cadence around alert windows.
func AdaptiveStratInterval(now time.Time) time.Duration {
	n := now.In(bar.ET)
	mins := n.Hour()*60 + n.Minute()
	for _, start := range alertWindowStarts {
		if mins >= start && mins < start+alertWindowLen {
			return 60 * time.Second
		}
		if mins >= start-5 && mins < start {
			return 120 * time.Second
		}
	}
	return 300 * time.Second
}

func (w *stratWorker) scan(ctx context.Context) (int, error) {
	deadline := scanDeadline(len(w.symbols), w.concurrency)
	scanCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	runID, _ := w.persist.StartJobRun(w.cfg.Name)

	var alerts, patterns atomic.Int64
	var circuitOpen atomic.Bool

	forEachSymbol(scanCtx, w.symbols, w.concurrency, w.metrics.SymbolFailures, func(ctx context.Context, symbol string) error {
		if circuitOpen.Load() {
			return nil
		}
		found, sent, err := w.scanSymbol(ctx, symbol)
		if err != nil {
			var open *errs.CircuitOpenError
			if errors.As(err, &open) {
				circuitOpen.Store(true)
			}
			var notFound *errs.NotFoundError
			if errors.As(err, &notFound) {
				return nil
			}
			return err
		}
		patterns.Add(int64(found))
		alerts.Add(int64(sent))
		return nil
	})

	status := "ok"
	var scanErr error
	if circuitOpen.Load() {
		status = "circuit_open"
		scanErr = errs.NewCircuitOpen(time.Now().Format(time.RFC3339))
	}
	_ = w.persist.FinishJobRun(runID, len(w.symbols), int(patterns.Load()), int(alerts.Load()), "", status)

	return int(alerts.Load()), scanErr
}

// detection pairs a record with the window gate that must admit it.
type detection struct {
	record   *bar.Record
	inWindow bool
}

func (w *stratWorker) scanSymbol(ctx context.Context, symbol string) (patterns, alerts int, err error) {
	now := time.Now()
	tradingDate := now.In(bar.ET)

	var detections []detection

	if bars, err := w.fetchBars(ctx, symbol, provider.Timeframe60m); err == nil {
		w.persistBars(symbol, provider.Timeframe60m, bars)
		if rec, ok := bar.Detect322Reversal(symbol, bars, tradingDate); ok {
			detections = append(detections, detection{rec, bar.AlertWindow322(now)})
		}
	} else if isHardFailure(err) {
		return 0, 0, err
	}

	if bars, err := w.fetchBars(ctx, symbol, provider.Timeframe4h); err == nil {
		w.persistBars(symbol, provider.Timeframe4h, bars)
		if rec, ok := bar.Detect22Reversal(symbol, bars, tradingDate); ok {
			detections = append(detections, detection{rec, bar.AlertWindow22HeadsUp(now) || bar.AlertWindow22Signal(now)})
		}
	} else if isHardFailure(err) {
		return 0, 0, err
	}

	if bars, err := w.fetchBars(ctx, symbol, provider.Timeframe12h); err == nil {
		w.persistBars(symbol, provider.Timeframe12h, bars)
		if rec, ok := bar.Detect131Miyagi(symbol, bars); ok {
			detections = append(detections, detection{rec, bar.AlertWindowMiyagiMorning(now) || bar.AlertWindowMiyagiEvening(now)})
		}
	} else if isHardFailure(err) {
		return 0, 0, err
	}

	tradingDateStr := tradingDate.Format("2006-01-02")
	for _, d := range detections {
		patterns++
		patternID := w.persistPattern(d.record)

		if !d.inWindow {
			continue
		}
		key := d.record.DedupKey(tradingDateStr)
		if !w.dedup.AllowPattern(key) {
			continue
		}
		if err := w.post(ctx, d.record, key, patternID); err != nil {
			w.metrics.WebhookFailed.Add(1)
			continue
		}
		w.metrics.WebhookOK.Add(1)
		alerts++
	}
	return patterns, alerts, nil
}

// fetchBars requests minute-bucket aggregates for the timeframe and
// rejects misaligned responses rather than silently assuming.
func (w *stratWorker) fetchBars(ctx context.Context, symbol string, tf provider.Timeframe) ([]provider.Bar, error) {
	lookback := map[provider.Timeframe]time.Duration{
		provider.Timeframe60m: 3 * 24 * time.Hour,
		provider.Timeframe4h:  5 * 24 * time.Hour,
		provider.Timeframe12h: 8 * 24 * time.Hour,
	}[tf]

	to := time.Now()
	multiplier := bar.AlignedMultiplier(tf)
	bars, err := w.fetcher.GetAggregates(ctx, symbol, multiplier, "minute", to.Add(-lookback), to)
	if err != nil {
		return nil, err
	}
	if !bar.ValidateAlignment(bars, tf) {
		return nil, errs.NewDataValidation("aggregates", fmt.Sprintf("%s bars for %s not on the %d-minute grid", tf, symbol, multiplier))
	}
	return bars, nil
}

// persistBars writes each fetched bar and its STRAT classification
// against the preceding bar. Write failures are logged, never fatal;
// a nil store makes the whole pass a no-op.
func (w *stratWorker) persistBars(symbol string, tf provider.Timeframe, bars []provider.Bar) {
	var prevID uint
	havePrev := false
	for i, b := range bars {
		id, err := w.persist.SaveBar(store.BarRecord{
			Symbol:    symbol,
			Timeframe: string(tf),
			StartUTC:  b.StartUTC,
			EndUTC:    b.EndUTC,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
		if err != nil {
			log.Printf("⚠️  [%s] failed to persist %s bar for %s: %v", w.cfg.Name, tf, symbol, err)
			havePrev = false
			continue
		}
		if id == 0 {
			return
		}
		if havePrev && i > 0 {
			prev := prevID
			cb := store.ClassifiedBar{
				BarID:         id,
				Type:          string(bar.Classify(b, bars[i-1])),
				PreviousBarID: &prev,
			}
			if err := w.persist.SaveClassifiedBar(cb); err != nil {
				log.Printf("⚠️  [%s] failed to persist classification for %s: %v", w.cfg.Name, symbol, err)
			}
		}
		prevID = id
		havePrev = true
	}
}

// isHardFailure separates failures that should abort the symbol scan
// (circuit open, sticky 404) from soft per-timeframe skips
// (validation failures keep scanning the other timeframes).
func isHardFailure(err error) bool {
	var open *errs.CircuitOpenError
	var notFound *errs.NotFoundError
	return errors.As(err, &open) || errors.As(err, &notFound)
}

func (w *stratWorker) persistPattern(r *bar.Record) uint {
	completion, _ := time.Parse(time.RFC3339, r.CompletionBarStartUTC)
	meta, _ := json.Marshal(r.Meta)
	id, err := w.persist.SavePattern(store.Pattern{
		Symbol:                r.Symbol,
		PatternType:           r.PatternName,
		Timeframe:             string(r.Timeframe),
		CompletionBarStartUTC: completion,
		Direction:             string(r.Direction),
		Entry:                 r.Entry,
		Stop:                  r.Stop,
		Target:                r.Target,
		Confidence:            r.Confidence,
		MetaJSON:              string(meta),
	})
	if err != nil {
		return 0
	}
	return id
}

func (w *stratWorker) post(ctx context.Context, r *bar.Record, dedupKey string, patternID uint) error {
	color := 0x2ECC71
	if r.Direction == bar.DirectionPut {
		color = 0xE74C3C
	}

	embed := webhook.Embed{
		Title:       fmt.Sprintf("%s %s (%s)", r.Symbol, r.PatternName, r.Timeframe),
		Description: fmt.Sprintf("%s setup, confidence %s", r.Direction, webhook.FormatFloat(r.Confidence)),
		Color:       color,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Fields: []webhook.Field{
			{Name: "Entry", Value: webhook.FormatFloat(r.Entry), Inline: true},
			{Name: "Stop", Value: webhook.FormatFloat(r.Stop), Inline: true},
			{Name: "Target", Value: webhook.FormatFloat(r.Target), Inline: true},
		},
		Footer: &webhook.Footer{Text: w.cfg.Name + " scanner"},
	}

	if err := w.sink.Send(ctx, w.cfg.Webhook, embed); err != nil {
		return err
	}

	payload, _ := json.Marshal(embed)
	var pid *uint
	if patternID != 0 {
		pid = &patternID
	}
	_ = w.persist.SaveAlert(store.AlertRecord{
		PatternID:   pid,
		Symbol:      r.Symbol,
		PatternType: r.PatternName,
		Timeframe:   string(r.Timeframe),
		AlertTSUTC:  time.Now().UTC(),
		PayloadJSON: string(payload),
		DedupKey:    dedupKey,
	})
	return nil
}
