package bar

import (
	"testing"
	"time"

	"optionflow-scanner/internal/provider"
)

// mkHourBar builds a 60-minute bar starting at the given ET wall
// time.
func mkHourBar(year int, month time.Month, day, hour int, high, low float64) provider.Bar {
	start := time.Date(year, month, day, hour, 0, 0, 0, ET)
	return provider.Bar{
		StartUTC: start.UTC(),
		EndUTC:   start.Add(time.Hour).UTC(),
		Open:     (high + low) / 2,
		High:     high,
		Low:      low,
		Close:    (high + low) / 2,
		Volume:   1000,
	}
}

func TestBarContaining(t *testing.T) {
	bars := []provider.Bar{
		mkHourBar(2025, 10, 22, 8, 456, 448),
		mkHourBar(2025, 10, 22, 9, 450, 447),
		mkHourBar(2025, 10, 22, 10, 452, 449),
	}

	target := time.Date(2025, 10, 22, 9, 0, 0, 0, ET)
	b, ok := BarContaining(bars, target)
	if !ok {
		t.Fatal("expected a bar containing 09:00 ET")
	}
	if b.High != 450 {
		t.Errorf("wrong bar: high=%.0f", b.High)
	}

	// 12:00 has no bar.
	if _, ok := BarContaining(bars, time.Date(2025, 10, 22, 12, 0, 0, 0, ET)); ok {
		t.Error("expected no bar for 12:00 ET")
	}
}

func TestBarsForHours(t *testing.T) {
	bars := []provider.Bar{
		mkHourBar(2025, 10, 22, 8, 456, 448),
		mkHourBar(2025, 10, 22, 10, 452, 449),
	}
	tradingDate := time.Date(2025, 10, 22, 11, 30, 0, 0, ET)
	got := BarsForHours(bars, tradingDate, []int{8, 9, 10})
	if len(got) != 2 {
		t.Fatalf("expected 2 resolved hours, got %d", len(got))
	}
	if _, ok := got[9]; ok {
		t.Error("hour 9 has no bar and must not resolve")
	}
}

func TestPreviousBar(t *testing.T) {
	bars := []provider.Bar{
		mkHourBar(2025, 10, 22, 7, 455, 449),
		mkHourBar(2025, 10, 22, 8, 456, 448),
		mkHourBar(2025, 10, 22, 10, 452, 449),
	}

	prev, ok := PreviousBar(bars, bars[2])
	if !ok {
		t.Fatal("expected a previous bar")
	}
	// Sequential, not hour-arithmetic: the bar before 10:00 is 08:00
	// here because 09:00 is missing.
	if prev.StartUTC != bars[1].StartUTC {
		t.Errorf("expected the 08:00 bar, got start %s", prev.StartUTC)
	}

	if _, ok := PreviousBar(bars, bars[0]); ok {
		t.Error("first bar has no predecessor")
	}
}

// Spring forward 2025-03-09: 02:00 ET does not exist. previous_bar of
// the 03:00 bar must be the 01:00 bar, with no panic.
func TestPreviousBarSpringForward(t *testing.T) {
	bars := []provider.Bar{
		mkHourBar(2025, 3, 9, 0, 101, 99),
		mkHourBar(2025, 3, 9, 1, 102, 100),
		mkHourBar(2025, 3, 9, 3, 103, 101),
	}

	prev, ok := PreviousBar(bars, bars[2])
	if !ok {
		t.Fatal("expected a previous bar")
	}
	if prev.StartUTC.In(ET).Hour() != 1 {
		t.Errorf("expected the 01:00 ET bar, got %s", prev.StartUTC.In(ET))
	}
}

// Fall back 2025-11-02: the 01:00 ET wall hour occurs twice. Only one
// bar may resolve for a given lookup.
func TestBarContainingFallBack(t *testing.T) {
	firstOne := time.Date(2025, 11, 2, 1, 0, 0, 0, ET) // EDT occurrence
	secondOne := firstOne.Add(time.Hour)               // EST occurrence, same wall clock
	bars := []provider.Bar{
		{StartUTC: firstOne.UTC(), EndUTC: firstOne.Add(time.Hour).UTC(), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1},
		{StartUTC: secondOne.UTC(), EndUTC: secondOne.Add(time.Hour).UTC(), Open: 100, High: 102, Low: 98, Close: 100, Volume: 1},
	}

	b, ok := BarContaining(bars, firstOne)
	if !ok {
		t.Fatal("expected a bar for the duplicated hour")
	}
	if b.StartUTC != bars[0].StartUTC {
		t.Error("lookup must resolve exactly one of the duplicated-hour bars")
	}
}

func TestValidateAlignment(t *testing.T) {
	aligned := []provider.Bar{
		mkHourBar(2025, 10, 22, 8, 456, 448),
		mkHourBar(2025, 10, 22, 9, 450, 447),
	}
	if !ValidateAlignment(aligned, provider.Timeframe60m) {
		t.Error("hourly-spaced bars should validate")
	}

	// A 4-hour response on an hourly grid must be rejected, never
	// silently assumed.
	misaligned := []provider.Bar{
		mkHourBar(2025, 10, 22, 8, 456, 448),
		mkHourBar(2025, 10, 22, 9, 450, 447),
	}
	if ValidateAlignment(misaligned, provider.Timeframe4h) {
		t.Error("hourly-spaced bars must fail the 240-minute grid check")
	}
}
