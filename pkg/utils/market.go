package utils

import (
	"time"

	"radar-trader/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

const (
	preOpenMinutes     = 9 * 60       // 09:00
	marketOpenMinutes  = 9*60 + 15    // 09:15
	marketCloseMinutes = 15*60 + 30   // 15:30
)

// MarketStatusAt returns the market status at t.
func MarketStatusAt(t time.Time) models.MarketStatus {
	now := t.In(IndiaLocation)

	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return models.MarketClosed
	}

	minutes := now.Hour()*60 + now.Minute()
	switch {
	case minutes >= preOpenMinutes && minutes < marketOpenMinutes:
		return models.MarketPreOpen
	case minutes >= marketOpenMinutes && minutes < marketCloseMinutes:
		return models.MarketOpen
	default:
		return models.MarketClosed
	}
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() models.MarketStatus {
	return MarketStatusAt(time.Now())
}

// IsMarketOpenAt reports whether the market is open at t.
func IsMarketOpenAt(t time.Time) bool {
	return MarketStatusAt(t) == models.MarketOpen
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	return IsMarketOpenAt(time.Now())
}

// MarketOpenOn returns the 09:15 open on t's trading date.
func MarketOpenOn(t time.Time) time.Time {
	d := t.In(IndiaLocation)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 15, 0, 0, IndiaLocation)
}

// MarketCloseOn returns the 15:30 close on t's trading date.
func MarketCloseOn(t time.Time) time.Time {
	d := t.In(IndiaLocation)
	return time.Date(d.Year(), d.Month(), d.Day(), 15, 30, 0, 0, IndiaLocation)
}

// StartOfDay returns midnight IST on t's date.
func StartOfDay(t time.Time) time.Time {
	d := t.In(IndiaLocation)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, IndiaLocation)
}

// SinceOpen returns how long the market has been open at t, or zero.
func SinceOpen(t time.Time) time.Duration {
	if !IsMarketOpenAt(t) {
		return 0
	}
	return t.Sub(MarketOpenOn(t))
}

// NextMarketOpen returns the next market opening time after t.
func NextMarketOpen(t time.Time) time.Time {
	next := MarketOpenOn(t)
	if !t.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
