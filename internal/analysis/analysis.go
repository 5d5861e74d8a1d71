// Package analysis provides the types shared by indicator computation,
// pattern detection and rule scoring.
package analysis

import (
	"radar-trader/internal/models"
)

// Signal is the directional bias of a rule or pattern.
type Signal string

const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// PatternDetector defines the interface for pattern detection.
type PatternDetector interface {
	Name() string
	Detect(series models.Series) []Pattern
}

// Pattern represents a candlestick pattern found on the series tail.
type Pattern struct {
	Name      string `json:"name"`
	Direction Signal `json:"direction"`
	Index     int    `json:"index"`
}

// Trend is the broad market direction read from an index.
type Trend string

const (
	TrendUp      Trend = "UP"
	TrendDown    Trend = "DOWN"
	TrendNeutral Trend = "NEUTRAL"
)

// Volatility is the market volatility regime read from the VIX.
type Volatility string

const (
	VolatilityLow    Volatility = "LOW"
	VolatilityNormal Volatility = "NORMAL"
	VolatilityHigh   Volatility = "HIGH"
)

// MarketContext carries the market-wide inputs to rule scoring.
type MarketContext struct {
	Trend         Trend      `json:"trend"`
	Volatility    Volatility `json:"volatility"`
	VIX           *float64   `json:"vix"`
	StrongSectors []string   `json:"strong_sectors"`
}

// IsStrongSector reports whether sector is among the strong sectors.
func (c MarketContext) IsStrongSector(sector string) bool {
	if sector == "" {
		return false
	}
	for _, s := range c.StrongSectors {
		if s == sector {
			return true
		}
	}
	return false
}
