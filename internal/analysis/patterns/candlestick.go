// Package patterns provides candlestick and bar pattern detection on the tail of a series.
package patterns

import (
	"math"
	"sort"

	"radar-trader/internal/analysis"
	"radar-trader/internal/models"
)

// Pattern names.
const (
	BullishEngulfing = "bullish_engulfing"
	Hammer           = "hammer"
)

// Predicate reports whether a pattern is present on the latest candle(s).
type Predicate func(series models.Series) bool

// CandlestickDetector detects candlestick patterns in price data.
type CandlestickDetector struct {
	shadowThreshold float64 // Lower shadow as a multiple of body for hammer
}

// NewCandlestickDetector creates a new candlestick pattern detector.
func NewCandlestickDetector() *CandlestickDetector {
	return &CandlestickDetector{shadowThreshold: 2.0}
}

func (d *CandlestickDetector) Name() string {
	return "CandlestickDetector"
}

// Detect returns the patterns present on the latest candle.
func (d *CandlestickDetector) Detect(series models.Series) []analysis.Pattern {
	var found []analysis.Pattern
	last := len(series) - 1
	if d.IsBullishEngulfing(series) {
		found = append(found, analysis.Pattern{Name: BullishEngulfing, Direction: analysis.SignalBullish, Index: last})
	}
	if d.IsHammer(series) {
		found = append(found, analysis.Pattern{Name: Hammer, Direction: analysis.SignalBullish, Index: last})
	}
	if IsBullishPinBar(series) {
		found = append(found, analysis.Pattern{Name: BullishPinBar, Direction: analysis.SignalBullish, Index: last})
	}
	if IsBearishPinBar(series) {
		found = append(found, analysis.Pattern{Name: BearishPinBar, Direction: analysis.SignalBearish, Index: last})
	}
	if IsInsideBar(series) {
		found = append(found, analysis.Pattern{Name: InsideBar, Direction: analysis.SignalNeutral, Index: last})
	}
	if IsOutsideBar(series) {
		found = append(found, analysis.Pattern{Name: OutsideBar, Direction: outsideDirection(series), Index: last})
	}
	return found
}

// IsBullishEngulfing reports whether a bullish candle's body contains the
// previous bearish candle's body.
func (d *CandlestickDetector) IsBullishEngulfing(series models.Series) bool {
	if len(series) < 2 {
		return false
	}
	prev, last := series[len(series)-2], series[len(series)-1]
	return last.IsBullish() &&
		prev.IsBearish() &&
		last.Open <= prev.Close &&
		last.Close >= prev.Open
}

// IsHammer reports whether the latest candle has a non-zero body, a lower
// shadow at least twice the body and an upper shadow shorter than the body.
func (d *CandlestickDetector) IsHammer(series models.Series) bool {
	c, ok := series.Last()
	if !ok {
		return false
	}
	body := bodySize(c)
	if body <= 0 {
		return false
	}
	return lowerShadow(c) >= d.shadowThreshold*body && upperShadow(c) < body
}

func outsideDirection(series models.Series) analysis.Signal {
	c, _ := series.Last()
	switch {
	case c.IsBullish():
		return analysis.SignalBullish
	case c.IsBearish():
		return analysis.SignalBearish
	}
	return analysis.SignalNeutral
}

func bodySize(c models.Candle) float64 {
	return math.Abs(c.Close - c.Open)
}

func upperShadow(c models.Candle) float64 {
	return c.High - math.Max(c.Open, c.Close)
}

func lowerShadow(c models.Candle) float64 {
	return math.Min(c.Open, c.Close) - c.Low
}

var defaultDetector = NewCandlestickDetector()

var registry = map[string]Predicate{
	BullishEngulfing: defaultDetector.IsBullishEngulfing,
	Hammer:           defaultDetector.IsHammer,
	InsideBar:        IsInsideBar,
	OutsideBar:       IsOutsideBar,
	BullishPinBar:    IsBullishPinBar,
	BearishPinBar:    IsBearishPinBar,
}

// Lookup returns the named pattern predicate.
func Lookup(name string) (Predicate, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names returns the registered pattern names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
