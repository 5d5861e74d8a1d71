package patterns

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"radar-trader/internal/models"
)

func candle(open, high, low, close float64) models.Candle {
	return models.Candle{Timestamp: time.Now(), Open: open, High: high, Low: low, Close: close, Volume: 1000}
}

func TestBullishEngulfing(t *testing.T) {
	d := NewCandlestickDetector()
	tests := []struct {
		name   string
		series models.Series
		want   bool
	}{
		{"engulfs", models.Series{candle(105, 106, 99, 100), candle(99, 108, 98, 107)}, true},
		{"equal bounds", models.Series{candle(105, 106, 99, 100), candle(100, 106, 99, 105)}, true},
		{"prev bullish", models.Series{candle(100, 106, 99, 105), candle(99, 108, 98, 107)}, false},
		{"last bearish", models.Series{candle(105, 106, 99, 100), candle(107, 108, 98, 99)}, false},
		{"does not contain", models.Series{candle(105, 106, 99, 100), candle(101, 108, 100, 104)}, false},
		{"single candle", models.Series{candle(99, 108, 98, 107)}, false},
		{"empty", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsBullishEngulfing(tt.series); got != tt.want {
				t.Errorf("IsBullishEngulfing() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHammer(t *testing.T) {
	d := NewCandlestickDetector()
	tests := []struct {
		name string
		c    models.Candle
		want bool
	}{
		{"classic", candle(100, 101.5, 94, 101), true},
		{"bearish body", candle(101, 101.5, 94, 100), true},
		{"short wick", candle(100, 101.5, 99, 101), false},
		{"upper wick equals body", candle(100, 102, 90, 101), false},
		{"doji", candle(100, 101, 94, 100), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.IsHammer(models.Series{tt.c}); got != tt.want {
				t.Errorf("IsHammer() = %v, want %v", got, tt.want)
			}
		})
	}
	if d.IsHammer(nil) {
		t.Error("empty series is not a hammer")
	}
}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		if _, ok := Lookup(name); !ok {
			t.Errorf("Lookup(%q) missing", name)
		}
	}
	if _, ok := Lookup("three_white_soldiers"); ok {
		t.Error("unknown pattern should not resolve")
	}
}

// TestProperty_PatternsUseOnlyTail verifies detection ignores everything
// before the last two candles.
func TestProperty_PatternsUseOnlyTail(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)
	d := NewCandlestickDetector()

	properties.Property("prefix does not change result", prop.ForAll(
		func(o1, c1, o2, c2, noise float64) bool {
			tail := models.Series{
				candle(o1, o1+c1+5, o1-c1-5, c1),
				candle(o2, o2+c2+5, o2-c2-5, c2),
			}
			prefix := models.Series{candle(noise, noise+3, noise-3, noise+1)}
			full := append(prefix, tail...)
			return d.IsBullishEngulfing(tail) == d.IsBullishEngulfing(full) &&
				d.IsHammer(tail) == d.IsHammer(full)
		},
		gen.Float64Range(50, 150),
		gen.Float64Range(50, 150),
		gen.Float64Range(50, 150),
		gen.Float64Range(50, 150),
		gen.Float64Range(50, 150),
	))

	properties.TestingRun(t)
}
