// Package scoring implements the per-strategy filter cascades and
// the institutional/confidence scoring applied to surviving signals.
package scoring

import (
	"context"
	"math"

	"optionflow-scanner/internal/config"
	"optionflow-scanner/internal/flow"
	"optionflow-scanner/internal/provider"
)

// Result is what a single filter in a cascade returns: either keep
// (optionally boosting/penalizing the running multiplier) or a
// structured skip reason; a cascade always fails closed.
type Result struct {
	Keep       bool
	Reason     string
	Multiplier float64 // 0 or 1 means "no adjustment"; applied only when Keep
}

func keep(multiplier float64) Result { return Result{Keep: true, Multiplier: multiplier} }
func skip(reason string) Result      { return Result{Keep: false, Reason: reason} }

// Filter is the per-bot filter-cascade unit.
type Filter interface {
	Name() string
	Evaluate(ctx context.Context, e flow.Event) Result
}

type predicateFilter struct {
	name string
	fn   func(ctx context.Context, e flow.Event) Result
}

func (p predicateFilter) Name() string { return p.name }
func (p predicateFilter) Evaluate(ctx context.Context, e flow.Event) Result {
	return p.fn(ctx, e)
}

// Cascade runs its filters in sequence; the first skip wins.
type Cascade struct {
	StrategyName string
	Filters      []Filter
}

// Run returns (keep, skip-reason, combined multiplier). Fails closed:
// any filter skip drops the event immediately.
func (c Cascade) Run(ctx context.Context, e flow.Event) (bool, string, float64) {
	multiplier := 1.0
	for _, f := range c.Filters {
		res := f.Evaluate(ctx, e)
		if !res.Keep {
			return false, f.Name() + ": " + res.Reason, 0
		}
		if res.Multiplier > 0 {
			multiplier *= res.Multiplier
		}
	}
	return true, "", multiplier
}

// sanitizeFilter rejects events carrying a NaN/Inf field anywhere a
// downstream cascade or the webhook sink would need to render it.
// Always the first filter in every cascade (fail-closed default).
func sanitizeFilter() Filter {
	return predicateFilter{name: "sanitize", fn: func(_ context.Context, e flow.Event) Result {
		fields := []float64{e.PremiumUSD, e.VolumeDelta, e.LastPrice, e.Strike, e.UnderlyingPrice, e.VolOIRatio, e.IV, e.Delta}
		for _, v := range fields {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return skip("non-finite field in event")
			}
		}
		return keep(1)
	}}
}

func dteInRange(min, max int) Filter {
	return predicateFilter{name: "dte_range", fn: func(_ context.Context, e flow.Event) Result {
		dte := e.DTE()
		if dte < min || dte > max {
			return skip("dte out of range")
		}
		return keep(1)
	}}
}

func minPremium(threshold float64) Filter {
	return predicateFilter{name: "min_premium", fn: func(_ context.Context, e flow.Event) Result {
		if e.PremiumUSD < threshold {
			return skip("premium below threshold")
		}
		return keep(1)
	}}
}

func strikeNearSpot(maxPct float64) Filter {
	return predicateFilter{name: "strike_near_spot", fn: func(_ context.Context, e flow.Event) Result {
		if e.UnderlyingPrice <= 0 {
			return skip("missing underlying price")
		}
		pct := math.Abs(e.Strike-e.UnderlyingPrice) / e.UnderlyingPrice
		if pct > maxPct {
			return skip("strike too far from spot")
		}
		return keep(1)
	}}
}

func executionSideIs(side flow.ExecutionSide) Filter {
	return predicateFilter{name: "execution_side", fn: func(_ context.Context, e flow.Event) Result {
		if e.ExecutionSide != side {
			return skip("execution side mismatch")
		}
		return keep(1.1)
	}}
}

func minOpenInterest(threshold float64) Filter {
	return predicateFilter{name: "min_open_interest", fn: func(_ context.Context, e flow.Event) Result {
		if e.OpenInterest < threshold {
			return skip("open interest below threshold")
		}
		return keep(1)
	}}
}

func maxSpreadPct(maxPct float64) Filter {
	return predicateFilter{name: "max_spread_pct", fn: func(_ context.Context, e flow.Event) Result {
		if e.Bid <= 0 || e.Ask <= 0 {
			return skip("missing quote for spread check")
		}
		mid := (e.Bid + e.Ask) / 2
		if mid <= 0 {
			return skip("non-positive midpoint")
		}
		if (e.Ask-e.Bid)/mid > maxPct {
			return skip("spread too wide")
		}
		return keep(1)
	}}
}

func absDeltaInRange(min, max float64) Filter {
	return predicateFilter{name: "delta_range", fn: func(_ context.Context, e flow.Event) Result {
		d := math.Abs(e.Delta)
		if d < min || d > max {
			return skip("delta outside range")
		}
		return keep(1)
	}}
}

func minVolumeDelta(threshold float64) Filter {
	return predicateFilter{name: "min_volume_delta", fn: func(_ context.Context, e flow.Event) Result {
		if e.VolumeDelta < threshold {
			return skip("volume delta below threshold")
		}
		return keep(1)
	}}
}

func minVolOIRatio(threshold float64) Filter {
	return predicateFilter{name: "min_vol_oi_ratio", fn: func(_ context.Context, e flow.Event) Result {
		if e.VolOIRatio < threshold {
			return skip("vol/oi ratio below threshold")
		}
		return keep(1)
	}}
}

func minITMProbability(threshold float64) Filter {
	return predicateFilter{name: "min_itm_probability", fn: func(_ context.Context, e flow.Event) Result {
		p := probabilityITM(e.UnderlyingPrice, e.Strike, e.IV, e.DTE(), e.Kind)
		if p < threshold {
			return skip("itm probability below threshold")
		}
		return keep(1)
	}}
}

// withinExpectedMove requires |strike - spot| to fall within the
// horizonDays expected move: spot * IV * sqrt(horizonDays/365).
func withinExpectedMove(horizonDays float64) Filter {
	return predicateFilter{name: "within_expected_move", fn: func(_ context.Context, e flow.Event) Result {
		if e.UnderlyingPrice <= 0 || e.IV <= 0 {
			return skip("missing spot or iv")
		}
		move := e.UnderlyingPrice * e.IV * math.Sqrt(horizonDays/365)
		if math.Abs(e.Strike-e.UnderlyingPrice) > move {
			return skip("strike outside expected move")
		}
		return keep(1)
	}}
}

// probabilityITM estimates P(finish ITM) from the Black-Scholes d2
// term (risk-free rate assumed 0, matching the coarse precision this
// domain operates at).
func probabilityITM(spot, strike, iv float64, dte int, kind provider.ContractKind) float64 {
	if spot <= 0 || strike <= 0 || iv <= 0 || dte <= 0 {
		return 0
	}
	t := float64(dte) / 365
	d2 := (math.Log(spot/strike) - 0.5*iv*iv*t) / (iv * math.Sqrt(t))
	if kind == provider.Call {
		return normCDF(d2)
	}
	return normCDF(-d2)
}

func normCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}

// NewGoldenSweepCascade: premium >= $1M, strike within 5% of spot,
// DTE in [1,180], execution_side = ASK.
func NewGoldenSweepCascade(cfg config.StrategyConfig) Cascade {
	return Cascade{StrategyName: cfg.Name, Filters: []Filter{
		sanitizeFilter(),
		minPremium(cfg.MinPremium),
		strikeNearSpot(0.05),
		dteInRange(cfg.MinDTE, cfg.MaxDTE),
		executionSideIs(flow.SideAsk),
	}}
}

// NewInstitutionalSwingCascade: premium >= $500K, OI >= 10,000,
// spread% <= 5%, |delta| in [0.35,0.65], DTE in [1,5], volume_delta >=
// 2,500, vol_oi_ratio >= 0.8, P(ITM) >= 0.35, strike within the 5-day
// expected move.
func NewInstitutionalSwingCascade(cfg config.StrategyConfig) Cascade {
	return Cascade{StrategyName: cfg.Name, Filters: []Filter{
		sanitizeFilter(),
		minPremium(cfg.MinPremium),
		minOpenInterest(10_000),
		maxSpreadPct(cfg.MaxSpreadPct),
		absDeltaInRange(cfg.DeltaMin, cfg.DeltaMax),
		dteInRange(cfg.MinDTE, cfg.MaxDTE),
		minVolumeDelta(2_500),
		minVolOIRatio(0.8),
		minITMProbability(cfg.MinITMProbability),
		withinExpectedMove(5),
	}}
}

// NewScalpCascade: DTE in [0,7], premium >= $2,000.
func NewScalpCascade(cfg config.StrategyConfig) Cascade {
	return Cascade{StrategyName: cfg.Name, Filters: []Filter{
		sanitizeFilter(),
		dteInRange(cfg.MinDTE, cfg.MaxDTE),
		minPremium(cfg.MinPremium),
	}}
}

// NewGeneralFlowCascade: premium >= $10,000, DTE in [1,45].
func NewGeneralFlowCascade(cfg config.StrategyConfig) Cascade {
	return Cascade{StrategyName: cfg.Name, Filters: []Filter{
		sanitizeFilter(),
		minPremium(cfg.MinPremium),
		dteInRange(cfg.MinDTE, cfg.MaxDTE),
	}}
}
