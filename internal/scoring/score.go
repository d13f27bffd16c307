package scoring

import (
	"math"

	"optionflow-scanner/internal/flow"
)

const whaleThreshold = 5_000_000

// Score is the institutional_score additive model: premium
// tier (35), execution aggressiveness (25), volume/OI dynamics (20),
// catalyst (10), repeat activity (10), 0-100. repeatCount is how many
// times this contract has flowed already in the current session;
// hasCatalyst flags an external news/earnings catalyst when the
// caller has one.
func Score(e flow.Event, repeatCount int, hasCatalyst bool) float64 {
	premiumTier := math.Min(35, e.PremiumUSD/whaleThreshold*35)
	execTier := executionAggressiveness(e.ExecutionSide)
	volOITier := math.Min(20, e.VolOIRatio/0.5*20)
	catalystTier := 0.0
	if hasCatalyst {
		catalystTier = 10
	}
	repeatTier := math.Min(10, float64(repeatCount)*2)

	return premiumTier + execTier + volOITier + catalystTier + repeatTier
}

func executionAggressiveness(side flow.ExecutionSide) float64 {
	switch side {
	case flow.SideAsk:
		return 25
	case flow.SideMid:
		return 12
	case flow.SideBid:
		return 5
	default:
		return 0
	}
}

// Label tags a qualitative label for a scored event: WHALE at >= $5M
// premium, otherwise empty.
func Label(e flow.Event) string {
	if e.PremiumUSD >= whaleThreshold {
		return "WHALE"
	}
	return ""
}
