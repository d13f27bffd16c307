package bar

import (
	"time"

	"optionflow-scanner/internal/provider"
)

// Detect322Reversal detects the 60-minute 3-2-2 Reversal.
// tradingDate carries the ET calendar date to
// resolve the 08:00/09:00/10:00 bars against.
func Detect322Reversal(symbol string, bars []provider.Bar, tradingDate time.Time) (*Record, bool) {
	hours := BarsForHours(bars, tradingDate, []int{8, 9, 10})
	bar8, ok8 := hours[8]
	bar9, ok9 := hours[9]
	bar10, ok10 := hours[10]
	if !ok8 || !ok9 || !ok10 {
		return nil, false
	}

	p, ok := PreviousBar(bars, bar8)
	if !ok {
		return nil, false
	}

	t8 := Classify(bar8, p)
	t9 := Classify(bar9, bar8)
	t10 := Classify(bar10, bar9)

	if t8 != TypeOutside {
		return nil, false
	}
	if (t9 != TypeUp && t9 != TypeDown) || (t10 != TypeUp && t10 != TypeDown) || t9 == t10 {
		return nil, false
	}

	rec := Record{
		Symbol:                symbol,
		PatternName:           "3-2-2 Reversal",
		Timeframe:             provider.Timeframe60m,
		CompletionBarStartUTC: bar10.StartUTC.Format(time.RFC3339),
	}

	switch t10 {
	case TypeUp:
		rec.Direction = DirectionCall
		rec.Entry = bar9.High
		rec.Target = bar8.High
		rec.Stop = bar10.Low
	case TypeDown:
		rec.Direction = DirectionPut
		rec.Entry = bar9.Low
		rec.Target = bar8.Low
		rec.Stop = bar10.High
	}

	rec.Confidence = dynamicConfidence(confidenceInputs{
		history:       bars,
		referenceBars: []provider.Bar{bar8, bar9, bar10},
		direction:     rec.Direction,
	})
	return &rec, true
}

// AlertWindow322 reports whether now (any timezone) falls in the
// 10:01-10:06 ET alert window for the 3-2-2 Reversal.
func AlertWindow322(now time.Time) bool {
	return inWindowET(now, 10, 1, 10, 6)
}

// Detect22Reversal detects the 4-hour 2-2 Reversal.
func Detect22Reversal(symbol string, bars []provider.Bar, tradingDate time.Time) (*Record, bool) {
	hours := BarsForHours(bars, tradingDate, []int{4, 8})
	bar4, ok4 := hours[4]
	bar8, ok8 := hours[8]
	if !ok4 || !ok8 {
		return nil, false
	}

	p, ok := PreviousBar(bars, bar4)
	if !ok {
		return nil, false
	}

	t4 := Classify(bar4, p)
	if t4 != TypeUp && t4 != TypeDown {
		return nil, false
	}
	if !(bar4.Low <= bar8.Open && bar8.Open <= bar4.High) {
		return nil, false
	}
	t8 := Classify(bar8, bar4)
	if (t8 != TypeUp && t8 != TypeDown) || t8 == t4 {
		return nil, false
	}

	rec := Record{
		Symbol:                symbol,
		PatternName:           "2-2 Reversal",
		Timeframe:             provider.Timeframe4h,
		CompletionBarStartUTC: bar8.StartUTC.Format(time.RFC3339),
	}

	switch {
	case t4 == TypeDown && t8 == TypeUp:
		rec.Direction = DirectionCall
		rec.Entry = bar4.High
		rec.Stop = bar4.Low
		rec.Target = rec.Entry * 1.02
	case t4 == TypeUp && t8 == TypeDown:
		rec.Direction = DirectionPut
		rec.Entry = bar4.Low
		rec.Stop = bar4.High
		rec.Target = rec.Entry * 0.98
	default:
		return nil, false
	}

	rec.Confidence = dynamicConfidence(confidenceInputs{
		history:       bars,
		referenceBars: []provider.Bar{bar4, bar8},
		direction:     rec.Direction,
	})
	return &rec, true
}

// AlertWindow22HeadsUp reports the 04:00-04:05 ET heads-up window.
func AlertWindow22HeadsUp(now time.Time) bool { return inWindowET(now, 4, 0, 4, 5) }

// AlertWindow22Signal reports the 08:00-08:05 ET signal window.
func AlertWindow22Signal(now time.Time) bool { return inWindowET(now, 8, 0, 8, 5) }

// Detect131Miyagi detects the 12-hour 1-3-1 Miyagi over the last 4
// bars in bars (ascending order).
func Detect131Miyagi(symbol string, bars []provider.Bar) (*Record, bool) {
	if len(bars) < 4 {
		return nil, false
	}
	last4 := bars[len(bars)-4:]
	c1, c2, c3, c4 := last4[0], last4[1], last4[2], last4[3]

	c0, ok := PreviousBar(bars, c1)
	if !ok {
		return nil, false
	}

	if Classify(c1, c0) != TypeInside {
		return nil, false
	}
	if Classify(c2, c1) != TypeOutside {
		return nil, false
	}
	if Classify(c3, c2) != TypeInside {
		return nil, false
	}
	t4 := Classify(c4, c3)
	if t4 != TypeUp && t4 != TypeDown {
		return nil, false
	}

	trigger := (c3.High + c3.Low) / 2

	rec := Record{
		Symbol:                symbol,
		PatternName:           "1-3-1 Miyagi",
		Timeframe:             provider.Timeframe12h,
		CompletionBarStartUTC: c4.StartUTC.Format(time.RFC3339),
		Entry:                 trigger,
	}

	switch {
	case t4 == TypeUp && c4.Close > trigger:
		rec.Direction = DirectionPut
		rec.Stop = c3.High
		rec.Target = rec.Entry - 2*absFloat(rec.Entry-rec.Stop)
	case t4 == TypeDown && c4.Close < trigger:
		rec.Direction = DirectionCall
		rec.Stop = c3.Low
		rec.Target = rec.Entry + 2*absFloat(rec.Entry-rec.Stop)
	default:
		return nil, false
	}

	rec.Confidence = dynamicConfidence(confidenceInputs{
		history:       bars,
		referenceBars: []provider.Bar{c1, c2, c3, c4},
		direction:     rec.Direction,
	})
	return &rec, true
}

// AlertWindowMiyagiMorning reports the 08:00-08:05 ET window.
func AlertWindowMiyagiMorning(now time.Time) bool { return inWindowET(now, 8, 0, 8, 5) }

// AlertWindowMiyagiEvening reports the 20:00-20:05 ET window.
func AlertWindowMiyagiEvening(now time.Time) bool { return inWindowET(now, 20, 0, 20, 5) }

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// inWindowET reports whether now, converted to ET, falls within
// [startH:startM, endH:endM] inclusive on the same calendar day.
func inWindowET(now time.Time, startH, startM, endH, endM int) bool {
	n := now.In(ET)
	mins := n.Hour()*60 + n.Minute()
	start := startH*60 + startM
	end := endH*60 + endM
	return mins >= start && mins <= end
}
