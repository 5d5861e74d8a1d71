package resilience

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"radar-trader/internal/analysis"
	"radar-trader/internal/analysis/indicators"
	"radar-trader/internal/config"
	"radar-trader/internal/models"
)

// SeriesFetcher returns OHLCV history for an instrument key.
type SeriesFetcher interface {
	Fetch(ctx context.Context, key, interval string, periods int) (models.Series, error)
}

// RegimeConfig holds configuration for regime detection.
type RegimeConfig struct {
	IndexInstrument   string
	VIXInstrument     string
	SectorIndices     []string
	Interval          string
	Periods           int
	TrendMinCandles   int     // trend is NEUTRAL at or below this many candles
	VIXHighThreshold  float64 // VIX above this is HIGH volatility
	VIXLowThreshold   float64 // VIX below this is LOW volatility
	SectorLookback    int     // candles of sector performance
	StrongSectorCount int
}

// DefaultRegimeConfig returns default regime detection configuration.
func DefaultRegimeConfig() RegimeConfig {
	return RegimeConfig{
		IndexInstrument: "NSE:NIFTY 50",
		VIXInstrument:   "NSE:INDIA VIX",
		SectorIndices: []string{
			"NSE:NIFTY BANK", "NSE:NIFTY IT", "NSE:NIFTY AUTO", "NSE:NIFTY PHARMA",
			"NSE:NIFTY FMCG", "NSE:NIFTY METAL", "NSE:NIFTY REALTY", "NSE:NIFTY ENERGY",
		},
		Interval:          "1day",
		Periods:           100,
		TrendMinCandles:   50,
		VIXHighThreshold:  20,
		VIXLowThreshold:   15,
		SectorLookback:    5,
		StrongSectorCount: 3,
	}
}

// RegimeConfigFromApp overlays the scanner section onto the defaults.
func RegimeConfigFromApp(sc config.ScannerConfig) RegimeConfig {
	cfg := DefaultRegimeConfig()
	if sc.IndexInstrument != "" {
		cfg.IndexInstrument = sc.IndexInstrument
	}
	if sc.VIXInstrument != "" {
		cfg.VIXInstrument = sc.VIXInstrument
	}
	if len(sc.SectorIndices) > 0 {
		cfg.SectorIndices = sc.SectorIndices
	}
	if sc.StrongSectorCount > 0 {
		cfg.StrongSectorCount = sc.StrongSectorCount
	}
	return cfg
}

// ClassifyTrend reads the index trend from close, EMA20 and EMA50: stacked
// upward is UP, stacked downward is DOWN, anything else is NEUTRAL.
func ClassifyTrend(series models.Series, minCandles int) analysis.Trend {
	if len(series) <= minCandles {
		return analysis.TrendNeutral
	}

	closes := series.Closes()
	ema20 := indicators.CalculateEMA(closes, 20)
	ema50 := indicators.CalculateEMA(closes, 50)
	if ema20 == nil || ema50 == nil {
		return analysis.TrendNeutral
	}

	last := len(closes) - 1
	price, fast, slow := closes[last], ema20[last], ema50[last]
	switch {
	case price > fast && fast > slow:
		return analysis.TrendUp
	case price < fast && fast < slow:
		return analysis.TrendDown
	default:
		return analysis.TrendNeutral
	}
}

// ClassifyVolatility maps the latest VIX close to a volatility regime.
// Unknown VIX is NORMAL.
func ClassifyVolatility(vix *float64, cfg RegimeConfig) analysis.Volatility {
	switch {
	case vix == nil:
		return analysis.VolatilityNormal
	case *vix > cfg.VIXHighThreshold:
		return analysis.VolatilityHigh
	case *vix < cfg.VIXLowThreshold:
		return analysis.VolatilityLow
	default:
		return analysis.VolatilityNormal
	}
}

// SectorPerformance returns the percentage change over the last lookback
// candles. It reports false when the series is too short.
func SectorPerformance(series models.Series, lookback int) (float64, bool) {
	if lookback <= 0 || len(series) <= lookback {
		return 0, false
	}
	base := series[len(series)-1-lookback].Close
	if base == 0 {
		return 0, false
	}
	return (series[len(series)-1].Close/base - 1) * 100, true
}

// RankSectors returns the n best performing sectors, best first. Ties
// are broken by name.
func RankSectors(performance map[string]float64, n int) []string {
	names := make([]string, 0, len(performance))
	for name := range performance {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := performance[names[i]], performance[names[j]]
		if pi != pj {
			return pi > pj
		}
		return names[i] < names[j]
	})
	if n >= 0 && len(names) > n {
		names = names[:n]
	}
	return names
}

// SectorName strips the exchange prefix from a sector index key, so
// "NSE:NIFTY IT" becomes "NIFTY IT", the form instruments carry.
func SectorName(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}

// RegimeDetector builds the market context for a scan cycle.
type RegimeDetector struct {
	cfg    RegimeConfig
	source SeriesFetcher
	logger zerolog.Logger
}

// NewRegimeDetector creates a detector reading series from source.
func NewRegimeDetector(cfg RegimeConfig, source SeriesFetcher, logger zerolog.Logger) *RegimeDetector {
	return &RegimeDetector{
		cfg:    cfg,
		source: source,
		logger: logger.With().Str("component", "regime").Logger(),
	}
}

// Detect fetches the index, VIX and sector series and classifies them.
// Failed fetches degrade to NEUTRAL trend, NORMAL volatility and no strong
// sectors rather than failing the scan.
func (d *RegimeDetector) Detect(ctx context.Context) analysis.MarketContext {
	mc := analysis.MarketContext{
		Trend:      analysis.TrendNeutral,
		Volatility: analysis.VolatilityNormal,
	}

	if index, err := d.source.Fetch(ctx, d.cfg.IndexInstrument, d.cfg.Interval, d.cfg.Periods); err != nil {
		d.logger.Warn().Err(err).Str("instrument", d.cfg.IndexInstrument).Msg("index series unavailable")
	} else {
		mc.Trend = ClassifyTrend(index, d.cfg.TrendMinCandles)
	}

	if vix, err := d.source.Fetch(ctx, d.cfg.VIXInstrument, d.cfg.Interval, 5); err != nil {
		d.logger.Warn().Err(err).Str("instrument", d.cfg.VIXInstrument).Msg("VIX series unavailable")
	} else if last, ok := vix.Last(); ok {
		v := last.Close
		mc.VIX = &v
	}
	mc.Volatility = ClassifyVolatility(mc.VIX, d.cfg)

	performance := make(map[string]float64, len(d.cfg.SectorIndices))
	for _, key := range d.cfg.SectorIndices {
		if ctx.Err() != nil {
			break
		}
		series, err := d.source.Fetch(ctx, key, d.cfg.Interval, d.cfg.SectorLookback+5)
		if err != nil {
			d.logger.Debug().Err(err).Str("sector", key).Msg("sector series unavailable")
			continue
		}
		if perf, ok := SectorPerformance(series, d.cfg.SectorLookback); ok {
			performance[SectorName(key)] = perf
		}
	}
	mc.StrongSectors = RankSectors(performance, d.cfg.StrongSectorCount)

	ev := d.logger.Info().
		Str("trend", string(mc.Trend)).
		Str("volatility", string(mc.Volatility)).
		Strs("strong_sectors", mc.StrongSectors)
	if mc.VIX != nil {
		ev = ev.Float64("vix", *mc.VIX)
	}
	ev.Msg("market context")

	return mc
}
