package patterns

import (
	"math"

	"radar-trader/internal/models"
)

// Bar pattern names.
const (
	InsideBar     = "inside_bar"
	OutsideBar    = "outside_bar"
	BullishPinBar = "bullish_pin_bar"
	BearishPinBar = "bearish_pin_bar"
)

// pinBodyRatio is the largest body, as a share of the candle range, a pin bar may have.
const pinBodyRatio = 0.4

// IsInsideBar reports whether the latest candle's range sits strictly inside
// the previous candle's range.
func IsInsideBar(series models.Series) bool {
	if len(series) < 2 {
		return false
	}
	prev, last := series[len(series)-2], series[len(series)-1]
	return last.High < prev.High && last.Low > prev.Low
}

// IsOutsideBar reports whether the latest candle's range strictly engulfs
// the previous candle's range.
func IsOutsideBar(series models.Series) bool {
	if len(series) < 2 {
		return false
	}
	prev, last := series[len(series)-2], series[len(series)-1]
	return last.High > prev.High && last.Low < prev.Low
}

// IsBullishPinBar reports a long lower wick rejecting lower prices.
func IsBullishPinBar(series models.Series) bool {
	c, ok := series.Last()
	if !ok || !isPin(c) {
		return false
	}
	body := bodySize(c)
	return lowerShadow(c) >= 2*body && upperShadow(c) <= 0.5*body
}

// IsBearishPinBar reports a long upper wick rejecting higher prices.
func IsBearishPinBar(series models.Series) bool {
	c, ok := series.Last()
	if !ok || !isPin(c) {
		return false
	}
	body := bodySize(c)
	return upperShadow(c) >= 2*body && lowerShadow(c) <= 0.5*body
}

func isPin(c models.Candle) bool {
	rng := c.High - c.Low
	if rng <= 0 || math.IsNaN(rng) {
		return false
	}
	return bodySize(c)/rng < pinBodyRatio
}
