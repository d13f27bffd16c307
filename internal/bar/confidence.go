package bar

import (
	"math"

	"optionflow-scanner/internal/provider"
)

const (
	weightVolume    = 30.0
	weightTrend     = 30.0
	weightClarity   = 25.0
	weightVolRegime = 15.0

	clarityPenaltyPerBar = 0.15
	bodyToRangeThreshold = 0.5

	confidenceFloor = 0.40
	confidenceCeil  = 0.95
)

// confidenceInputs bundles what the dynamic confidence formula
// needs; history is the bar history up to and including the
// completion bar, oldest first.
type confidenceInputs struct {
	history       []provider.Bar
	referenceBars []provider.Bar
	direction     Direction
}

// dynamicConfidence is a 0-100 point additive model
// (volume 30, trend 30, clarity 25, volatility 15), summed and
// divided by 100, clamped to [0.40, 0.95].
func dynamicConfidence(in confidenceInputs) float64 {
	if len(in.history) == 0 {
		return confidenceFloor
	}
	current := in.history[len(in.history)-1]

	volumeFactor := 1.0
	recentVolumes := lastN(volumes(in.history[:len(in.history)-1]), 20)
	if m := median(recentVolumes); m > 0 {
		volumeFactor = math.Min(1, current.Volume/m)
	}

	ema20 := calculateEMA(closes(in.history), 20)
	if ema20 == 0 {
		ema20 = calculateSMA(closes(in.history), len(in.history))
	}
	trendFactor := 0.33
	if ema20 != 0 {
		agreesUp := in.direction == DirectionCall && current.Close > ema20
		agreesDown := in.direction == DirectionPut && current.Close < ema20
		if agreesUp || agreesDown {
			trendFactor = 1.0
		}
	}

	clarity := 1.0
	for _, b := range in.referenceBars {
		rng := b.High - b.Low
		if rng <= 0 {
			continue
		}
		if math.Abs(b.Close-b.Open)/rng < bodyToRangeThreshold {
			clarity -= clarityPenaltyPerBar
		}
	}
	if clarity < 0 {
		clarity = 0
	}

	volRegime := volatilityRegimeCredit(atrPercent(in.history, 14))

	points := volumeFactor*weightVolume + trendFactor*weightTrend + clarity*weightClarity + volRegime*weightVolRegime
	confidence := points / 100

	if confidence < confidenceFloor {
		confidence = confidenceFloor
	}
	if confidence > confidenceCeil {
		confidence = confidenceCeil
	}
	return confidence
}

// volatilityRegimeCredit gives full credit inside the [1%,3%] ATR%
// band, partial credit in the adjacent bands, none beyond them.
func volatilityRegimeCredit(atrPct float64) float64 {
	switch {
	case atrPct >= 1 && atrPct <= 3:
		return 1.0
	case (atrPct >= 0.5 && atrPct < 1) || (atrPct > 3 && atrPct <= 5):
		return 0.5
	default:
		return 0.0
	}
}

func lastN(values []float64, n int) []float64 {
	if len(values) <= n {
		return values
	}
	return values[len(values)-n:]
}
