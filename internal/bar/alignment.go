// Package bar implements boundary-aligned bar handling and the STRAT
// classifier and pattern engine.
package bar

import (
	"log"
	"math"
	"time"

	"optionflow-scanner/internal/provider"
)

// ET is the America/New_York location every boundary computation in
// this package is relative to. Loaded once at init; the IANA
// tzdata compiled into the Go runtime already resolves DST
// transitions (spring-forward missing hour, fall-back duplicated
// hour) correctly without an extra tzdata dependency.
var ET = mustLoadET()

func mustLoadET() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic("bar: failed to load America/New_York: " + err.Error())
	}
	return loc
}

// BarContaining returns the bar whose [start_ET, start_ET+T) interval
// contains target. If none contains it, logs a misalignment
// warning with the delta (in seconds) to the nearest bar start and
// returns ok=false.
func BarContaining(bars []provider.Bar, target time.Time) (provider.Bar, bool) {
	target = target.In(ET)
	var nearestDelta time.Duration
	haveNearest := false

	for _, b := range bars {
		startET := b.StartUTC.In(ET)
		endET := b.EndUTC.In(ET)
		if !target.Before(startET) && target.Before(endET) {
			return b, true
		}
		delta := target.Sub(startET)
		if delta < 0 {
			delta = -delta
		}
		if !haveNearest || delta < nearestDelta {
			nearestDelta = delta
			haveNearest = true
		}
	}

	if haveNearest {
		log.Printf("bar: misalignment, no bar contains %s (nearest bar start is %.0fs away)", target.Format(time.RFC3339), nearestDelta.Seconds())
	} else {
		log.Printf("bar: misalignment, no bar contains %s (bar set empty)", target.Format(time.RFC3339))
	}
	return provider.Bar{}, false
}

// BarsForHours is the batch form of BarContaining: for tradingDate
// (any time.Time carrying the ET calendar date) and a set of ET clock
// hours, returns the bar containing each hour that resolves.
func BarsForHours(bars []provider.Bar, tradingDate time.Time, hours []int) map[int]provider.Bar {
	tradingDate = tradingDate.In(ET)
	out := make(map[int]provider.Bar, len(hours))
	for _, h := range hours {
		target := time.Date(tradingDate.Year(), tradingDate.Month(), tradingDate.Day(), h, 0, 0, 0, ET)
		if b, ok := BarContaining(bars, target); ok {
			out[h] = b
		}
	}
	return out
}

// PreviousBar returns the bar in bars with the largest start_ET
// strictly before b's start_ET, regardless of clock hour, never by
// searching for a specific numeric hour.
func PreviousBar(bars []provider.Bar, b provider.Bar) (provider.Bar, bool) {
	var best provider.Bar
	found := false
	for _, candidate := range bars {
		if candidate.StartUTC.Before(b.StartUTC) {
			if !found || candidate.StartUTC.After(best.StartUTC) {
				best = candidate
				found = true
			}
		}
	}
	return best, found
}

// AlignedMultiplier returns the expected minute-bucket multiplier a
// provider aggregates response must have been requested with for the
// given timeframe. GetAggregates callers pass this; the result here
// lets the alignment utility reject a misaligned response rather than
// silently assume.
func AlignedMultiplier(t provider.Timeframe) int {
	return t.MinutesPerBar()
}

// ValidateAlignment reports whether consecutive bars are spaced by
// exactly the timeframe's duration. For the 60-minute timeframe only,
// DST's 45-minute (spring-forward) and 75-minute (fall-back) spacings
// are tolerated as the sole exceptions.
func ValidateAlignment(bars []provider.Bar, t provider.Timeframe) bool {
	want := time.Duration(t.MinutesPerBar()) * time.Minute
	for i := 1; i < len(bars); i++ {
		got := bars[i].StartUTC.Sub(bars[i-1].StartUTC)
		if got == want {
			continue
		}
		// The ±15-minute DST tolerance applies to the 60-minute
		// timeframe only; 4h and 12h bars must be spaced exactly 240
		// or 720 minutes apart.
		if t == provider.Timeframe60m {
			diff := math.Abs(float64(got - want))
			if diff == float64(15*time.Minute) {
				continue
			}
		}
		return false
	}
	return true
}
