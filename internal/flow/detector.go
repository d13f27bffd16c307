package flow

import (
	"context"
	"math"
	"sort"
	"time"

	"optionflow-scanner/internal/provider"
)

const bootstrapVolumeCap = 5000

// ChainFetcher is the slice of the provider fetcher the detector
// needs; the concrete *provider.Fetcher satisfies it.
type ChainFetcher interface {
	GetOptionChainSnapshot(ctx context.Context, underlying string, kind string) ([]provider.ContractSnapshot, error)
}

// Detector diffs chain snapshots into flow events. One Detector is
// shared across flow-scanning workers; it consults a process-wide
// DeltaCache it does not own the lifecycle of.
type Detector struct {
	fetcher ChainFetcher
	cache   *DeltaCache
}

func NewDetector(fetcher ChainFetcher, cache *DeltaCache) *Detector {
	return &Detector{fetcher: fetcher, cache: cache}
}

// Scan runs one flow pass: pull the current chain, diff it
// against the cached previous per-contract volumes, classify and
// filter, update the cache, and return events sorted by premium
// descending.
func (d *Detector) Scan(ctx context.Context, underlying string, th Thresholds) ([]Event, error) {
	snapshot, err := d.fetcher.GetOptionChainSnapshot(ctx, underlying, "")
	if err != nil {
		return nil, err
	}
	if len(snapshot) == 0 {
		return []Event{}, nil
	}

	previous := d.cache.Get(underlying)
	now := time.Now().UTC()

	events := make([]Event, 0, len(snapshot))
	currentVolumes := make(map[string]float64, len(snapshot))

	for _, c := range snapshot {
		currentVolumes[c.Ticker] = c.DayVolume

		lastPrice, ok := resolvePrice(c)
		if !ok {
			continue
		}

		volumeDelta, ok := resolveVolumeDelta(previous, c)
		if !ok {
			continue
		}
		if volumeDelta < th.MinVolumeDelta {
			continue
		}

		volOIRatio := 0.0
		if c.OpenInterest > 0 {
			volOIRatio = volumeDelta / c.OpenInterest
		}
		if th.MinVolOIRatio > 0 && volOIRatio < th.MinVolOIRatio {
			continue
		}

		premium := volumeDelta * lastPrice * 100
		if premium < th.MinPremium {
			continue
		}

		events = append(events, Event{
			ContractTicker:  c.Ticker,
			Underlying:      underlying,
			Kind:            normalizeKind(c),
			Strike:          c.Strike,
			ExpirationDate:  c.ExpirationDate,
			VolumeDelta:     volumeDelta,
			TotalVolume:     c.DayVolume,
			OpenInterest:    c.OpenInterest,
			VolOIRatio:      volOIRatio,
			LastPrice:       lastPrice,
			Bid:             c.Bid,
			Ask:             c.Ask,
			BidSize:         c.BidSize,
			AskSize:         c.AskSize,
			PremiumUSD:      premium,
			IV:              c.IV,
			Delta:           c.Delta,
			Gamma:           c.Gamma,
			Theta:           c.Theta,
			Vega:            c.Vega,
			UnderlyingPrice: c.UnderlyingPrice,
			ExecutionSide:   classifyExecutionSide(lastPrice, c.Bid, c.Ask),
			Intensity:       classifyIntensity(volOIRatio),
			ObservedAt:      now,
		})
	}

	// Cache update happens regardless of how many events survived
	// filtering, and even when the list is empty. An empty snapshot
	// short-circuits above without reaching here, so the cache is
	// never erased by a transient empty response.
	d.cache.Set(underlying, currentVolumes)

	sort.Slice(events, func(i, j int) bool { return events[i].PremiumUSD > events[j].PremiumUSD })
	return events, nil
}

// resolvePrice implements the robust price fallback chain:
// day.close -> last_trade.price -> quote.midpoint -> bid -> ask ->
// day.open/high/low.
func resolvePrice(c provider.ContractSnapshot) (float64, bool) {
	candidates := []float64{
		c.DayClose,
		c.LastTradePrice,
		c.QuoteMidpoint,
		c.Bid,
		c.Ask,
		c.DayOpen, c.DayHigh, c.DayLow,
	}
	for _, v := range candidates {
		if v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v, true
		}
	}
	return 0, false
}

// resolveVolumeDelta computes the per-contract delta, with a bootstrap/
// rollover guard: no previous entry, or a negative delta (day-volume
// counter reset), falls back to min(current_volume, 5000). A zero
// delta against a known previous entry means the chain is unchanged
// and produces no event; two successive scans of an unchanged chain
// must be idempotent.
func resolveVolumeDelta(previous map[string]float64, c provider.ContractSnapshot) (float64, bool) {
	prevVolume, hadPrevious := previous[c.Ticker]
	delta := c.DayVolume - prevVolume
	if !hadPrevious || delta < 0 {
		delta = math.Min(c.DayVolume, bootstrapVolumeCap)
	}
	if delta <= 0 {
		return 0, false
	}
	return delta, true
}

// classifyIntensity bands the vol/OI ratio.
func classifyIntensity(ratio float64) Intensity {
	switch {
	case ratio >= 0.50:
		return IntensityAggressive
	case ratio >= 0.20:
		return IntensityStrong
	case ratio >= 0.10:
		return IntensityModerate
	default:
		return IntensityNormal
	}
}

// classifyExecutionSide places the last price within the quoted
// spread.
func classifyExecutionSide(lastPrice, bid, ask float64) ExecutionSide {
	if bid <= 0 && ask <= 0 {
		return SideUnknown
	}
	if ask > 0 && lastPrice >= ask*0.995 {
		return SideAsk
	}
	if bid > 0 && lastPrice <= bid*1.005 {
		return SideBid
	}
	if bid > 0 && ask > 0 {
		mid := (bid + ask) / 2
		if mid > 0 && math.Abs(lastPrice-mid)/mid <= 0.02 {
			return SideMid
		}
		// Nearest side.
		if math.Abs(lastPrice-ask) < math.Abs(lastPrice-bid) {
			return SideAsk
		}
		return SideBid
	}
	return SideUnknown
}

// normalizeKind resolves the contract kind: an explicit CALL wins,
// then the ticker's own C/P marker, then PUT.
func normalizeKind(c provider.ContractSnapshot) provider.ContractKind {
	if c.Kind == provider.Call {
		return provider.Call
	}
	if k, ok := provider.KindFromTicker(c.Ticker); ok {
		return k
	}
	return provider.Put
}
