// Package flow turns two successive option-chain snapshots into a
// ranked list of flow events, keeping a volume-delta cache to
// reconstruct per-contract trade flow across scans.
package flow

import (
	"time"

	"optionflow-scanner/internal/provider"
)

// ExecutionSide classifies where within the bid/ask spread a trade
// likely executed.
type ExecutionSide string

const (
	SideAsk     ExecutionSide = "ASK"
	SideBid     ExecutionSide = "BID"
	SideMid     ExecutionSide = "MID"
	SideUnknown ExecutionSide = "UNKNOWN"
)

// Intensity classifies the volume-delta-to-open-interest ratio.
type Intensity string

const (
	IntensityNormal     Intensity = "NORMAL"
	IntensityModerate   Intensity = "MODERATE"
	IntensityStrong     Intensity = "STRONG"
	IntensityAggressive Intensity = "AGGRESSIVE"
)

// Event is one Flow Event. Produced fresh every scan; never
// persisted individually.
type Event struct {
	ContractTicker  string
	Underlying      string
	Kind            provider.ContractKind
	Strike          float64
	ExpirationDate  time.Time
	VolumeDelta     float64
	TotalVolume     float64
	OpenInterest    float64
	VolOIRatio      float64
	LastPrice       float64
	Bid             float64
	Ask             float64
	BidSize         float64
	AskSize         float64
	PremiumUSD      float64
	IV              float64
	Delta           float64
	Gamma           float64
	Theta           float64
	Vega            float64
	UnderlyingPrice float64
	ExecutionSide   ExecutionSide
	Intensity       Intensity
	ObservedAt      time.Time
}

// DTE returns whole days to expiration as of the event's observation
// time.
func (e Event) DTE() int {
	d := e.ExpirationDate.Sub(e.ObservedAt)
	days := int(d.Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Thresholds gates which contracts produce a Flow Event.
type Thresholds struct {
	MinPremium     float64
	MinVolumeDelta float64
	MinVolOIRatio  float64 // 0 disables the check
}
