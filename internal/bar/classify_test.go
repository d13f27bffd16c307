package bar

import (
	"testing"

	"optionflow-scanner/internal/provider"
)

func mkRange(high, low float64) provider.Bar {
	return provider.Bar{Open: (high + low) / 2, High: high, Low: low, Close: (high + low) / 2}
}

func TestClassify(t *testing.T) {
	prev := mkRange(110, 100)

	tests := []struct {
		name string
		cur  provider.Bar
		want Type
	}{
		{"outside", mkRange(112, 98), TypeOutside},
		{"inside", mkRange(108, 102), TypeInside},
		{"up", mkRange(115, 104), TypeUp},
		{"down", mkRange(108, 95), TypeDown},
		{"equal high equal low is inside", mkRange(110, 100), TypeInside},
		{"equal high lower low is down", mkRange(110, 98), TypeDown},
		{"equal low higher high is up", mkRange(113, 100), TypeUp},
		{"higher high equal low is up", mkRange(111, 100), TypeUp},
		{"lower high lower low is down", mkRange(109, 99), TypeDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.cur, prev); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

// A bar classified against itself is always inside.
func TestClassifySelfIsInside(t *testing.T) {
	b := mkRange(110, 100)
	if got := Classify(b, b); got != TypeInside {
		t.Errorf("expected 1, got %s", got)
	}
}

// Exactly one type classifies every combination of {>,=,<} on high
// and low.
func TestClassifyIsTotal(t *testing.T) {
	prev := mkRange(110, 100)
	highs := []float64{109, 110, 111}
	lows := []float64{99, 100, 101}
	for _, h := range highs {
		for _, l := range lows {
			got := Classify(mkRange(h, l), prev)
			if got != TypeInside && got != TypeUp && got != TypeDown && got != TypeOutside {
				t.Errorf("h=%.0f l=%.0f: unclassified bar: %q", h, l, got)
			}
		}
	}
}
