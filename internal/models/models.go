// Package models provides domain models for the signal and paper-trading pipeline.
package models

import (
	"sort"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// OrderSide represents the side of a trade.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// MarketStatus represents the current market status.
type MarketStatus string

const (
	MarketOpen    MarketStatus = "OPEN"
	MarketPreOpen MarketStatus = "PRE_OPEN"
	MarketClosed  MarketStatus = "CLOSED"
)

// HistoryLimit is the number of candles kept in a rolling history buffer.
const HistoryLimit = 200

// Candle represents OHLCV data for a time period.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// IsBullish reports whether the candle closed above its open.
func (c Candle) IsBullish() bool { return c.Close > c.Open }

// IsBearish reports whether the candle closed below its open.
func (c Candle) IsBearish() bool { return c.Close < c.Open }

// Tick is one live trade update for an instrument.
type Tick struct {
	InstrumentKey string    `json:"instrument_key"`
	LastPrice     float64   `json:"last_price"`
	DayVolume     int64     `json:"day_volume"` // cumulative volume traded today
	Timestamp     time.Time `json:"timestamp"`
}

// Series is an ordered, deduplicated sequence of candles for one instrument.
type Series []Candle

// NewSeries sorts candles by timestamp and collapses duplicate timestamps,
// keeping the last candle seen for each timestamp.
func NewSeries(candles []Candle) Series {
	if len(candles) == 0 {
		return Series{}
	}

	sorted := make([]Candle, len(candles))
	copy(sorted, candles)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := make(Series, 0, len(sorted))
	for _, c := range sorted {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(c.Timestamp) {
			out[n-1] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

// Append adds a candle, replacing the last candle when the timestamp matches
// and re-sorting when the candle arrives out of order.
func (s Series) Append(c Candle) Series {
	n := len(s)
	switch {
	case n == 0 || s[n-1].Timestamp.Before(c.Timestamp):
		return append(s, c)
	case s[n-1].Timestamp.Equal(c.Timestamp):
		out := make(Series, n)
		copy(out, s)
		out[n-1] = c
		return out
	default:
		merged := make([]Candle, 0, n+1)
		merged = append(merged, s...)
		merged = append(merged, c)
		return NewSeries(merged)
	}
}

// Bound returns the most recent n candles.
func (s Series) Bound(n int) Series {
	if n <= 0 || len(s) <= n {
		return s
	}
	out := make(Series, n)
	copy(out, s[len(s)-n:])
	return out
}

// Last returns the latest candle.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// Closes returns close prices in order.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Volumes returns volumes as floats in order.
func (s Series) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = float64(c.Volume)
	}
	return out
}

// Instrument represents a tradeable instrument tracked by the scanners.
type Instrument struct {
	Key       string   `json:"instrument_key"`
	Token     uint32   `json:"token"`
	Symbol    string   `json:"symbol"`
	Name      string   `json:"name"`
	Exchange  Exchange `json:"exchange"`
	Sector    string   `json:"sector,omitempty"`
	AvgVolume float64  `json:"avg_volume"`
	IsActive  bool     `json:"is_active"`
}
