// Package scanner runs the premarket screening scan and the intraday opening
// range breakout scan, and keeps the rolling candle history they share.
package scanner

import (
	"context"
	"strings"
	"time"

	"radar-trader/internal/analysis"
	"radar-trader/internal/analysis/orb"
	"radar-trader/internal/config"
	"radar-trader/internal/models"
)

// MarketReader builds the market context for one scan cycle.
type MarketReader interface {
	Detect(ctx context.Context) analysis.MarketContext
}

// Config holds scanner settings.
type Config struct {
	Workers          int
	TopInstruments   int
	TopAlerts        int
	HistoryPeriods   int
	MinHistory       int // series at or below this many candles are skipped
	VolumeLookback   int // candles averaged into an instrument's avg_volume
	WatchlistLimit   int
	CycleTimeout     time.Duration
	DefaultWatchlist []string

	ORB             orb.Params
	ORBInterval     string
	ORBAlertTTL     time.Duration
	ORBPeriods      int
	MinSinceOpen    time.Duration // intraday scans wait this long after the open
	HistoryCapacity int
}

// DefaultConfig returns the scanner defaults.
func DefaultConfig() Config {
	return Config{
		Workers:          8,
		TopInstruments:   200,
		TopAlerts:        10,
		HistoryPeriods:   250,
		MinHistory:       50,
		VolumeLookback:   20,
		WatchlistLimit:   50,
		CycleTimeout:     5 * time.Minute,
		DefaultWatchlist: []string{"NSE:RELIANCE", "NSE:TCS", "NSE:HDFCBANK", "NSE:INFY", "NSE:ICICIBANK"},
		ORB:              orb.DefaultParams(),
		ORBInterval:      "5min",
		ORBAlertTTL:      45 * time.Minute,
		ORBPeriods:       75,
		MinSinceOpen:     5 * time.Minute,
		HistoryCapacity:  DefaultHistoryCapacity,
	}
}

// ConfigFromApp builds scanner settings from application configuration.
func ConfigFromApp(sc config.ScannerConfig, oc config.ORBConfig) Config {
	cfg := DefaultConfig()
	if sc.Workers > 0 {
		cfg.Workers = sc.Workers
	}
	if sc.TopInstruments > 0 {
		cfg.TopInstruments = sc.TopInstruments
	}
	if sc.TopAlerts > 0 {
		cfg.TopAlerts = sc.TopAlerts
	}
	if sc.HistoryPeriods > 0 {
		cfg.HistoryPeriods = sc.HistoryPeriods
	}
	if sc.MinHistory > 0 {
		cfg.MinHistory = sc.MinHistory
	}
	if sc.WatchlistLimit > 0 {
		cfg.WatchlistLimit = sc.WatchlistLimit
	}
	if sc.CycleTimeout > 0 {
		cfg.CycleTimeout = sc.CycleTimeout
	}
	if len(sc.DefaultWatchlist) > 0 {
		cfg.DefaultWatchlist = sc.DefaultWatchlist
	}
	if oc.OpeningCandles > 0 {
		cfg.ORB.OpeningCandles = oc.OpeningCandles
	}
	if oc.MinCandles > 0 {
		cfg.ORB.MinCandles = oc.MinCandles
	}
	if oc.VolumeFactor > 0 {
		cfg.ORB.VolumeFactor = oc.VolumeFactor
	}
	if oc.AlertTTL > 0 {
		cfg.ORBAlertTTL = oc.AlertTTL
	}
	if oc.Interval != "" {
		cfg.ORBInterval = oc.Interval
	}
	return cfg
}

// watchlistInstruments turns configured keys such as "NSE:TCS" into bare
// instruments.
func watchlistInstruments(keys []string) []models.Instrument {
	out := make([]models.Instrument, 0, len(keys))
	for _, key := range keys {
		out = append(out, instrumentFromKey(key))
	}
	return out
}

func instrumentFromKey(key string) models.Instrument {
	inst := models.Instrument{Key: key, Symbol: key, Exchange: models.NSE, IsActive: true}
	if i := strings.IndexByte(key, ':'); i >= 0 {
		inst.Exchange = models.Exchange(key[:i])
		inst.Symbol = key[i+1:]
	}
	return inst
}
