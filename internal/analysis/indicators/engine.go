// Package indicators computes the technical indicator set used by the rules
// engine and the scanners.
package indicators

import (
	"radar-trader/internal/models"
)

// Indicator defines the interface for single-value technical indicators.
type Indicator interface {
	Name() string
	Calculate(candles []models.Candle) ([]float64, error)
	Period() int
}

// MultiValueIndicator defines the interface for indicators that return multiple values.
type MultiValueIndicator interface {
	Name() string
	Calculate(candles []models.Candle) (map[string][]float64, error)
	Period() int
}

// Params configures the indicator windows.
type Params struct {
	RSIPeriod         int
	EMAShort          int
	EMAMedium         int
	EMALong           int
	MACDFast          int
	MACDSlow          int
	MACDSignal        int
	BBPeriod          int
	BBStdDev          float64
	VolumePeriod      int
	VolumeSpikeFactor float64
}

// DefaultParams returns RSI14, EMA 20/50/200, MACD(12,26,9), BB(20,2) and a
// 1.5x spike over a 10-period volume EMA.
func DefaultParams() Params {
	return Params{
		RSIPeriod:         14,
		EMAShort:          20,
		EMAMedium:         50,
		EMALong:           200,
		MACDFast:          12,
		MACDSlow:          26,
		MACDSignal:        9,
		BBPeriod:          20,
		BBStdDev:          2.0,
		VolumePeriod:      10,
		VolumeSpikeFactor: 1.5,
	}
}

// Engine computes IndicatorSets. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	params    Params
	rsi       Indicator
	emaShort  Indicator
	emaMedium Indicator
	emaLong   Indicator
	volume    Indicator
	macd      *MACD
	bands     MultiValueIndicator
}

// NewEngine creates an indicator engine.
func NewEngine(p Params) *Engine {
	return &Engine{
		params:    p,
		rsi:       NewRSI(p.RSIPeriod),
		emaShort:  NewEMA(p.EMAShort),
		emaMedium: NewEMA(p.EMAMedium),
		emaLong:   NewEMA(p.EMALong),
		volume:    NewVolumeEMA(p.VolumePeriod),
		macd:      NewMACD(p.MACDFast, p.MACDSlow, p.MACDSignal),
		bands:     NewBollingerBands(p.BBPeriod, p.BBStdDev),
	}
}

var defaultEngine = NewEngine(DefaultParams())

// Compute computes the indicator set with default parameters.
func Compute(series models.Series) models.IndicatorSet {
	return defaultEngine.Compute(series)
}

// Compute computes the indicator set for the latest candle of series. Fewer
// than two candles yields an empty set. Each indicator is gated by its own
// window and left nil when the series is too short.
func (e *Engine) Compute(series models.Series) models.IndicatorSet {
	set := models.IndicatorSet{
		Crossover:     models.CrossoverNone,
		MACDCrossover: models.MACDCrossoverNone,
	}
	n := len(series)
	if n < 2 {
		return set
	}

	candles := []models.Candle(series)
	last := n - 1
	latest := series[last]

	set.Close = models.Float(latest.Close)
	set.Low = models.Float(latest.Low)
	set.Volume = models.Float(float64(latest.Volume))

	set.RSI = e.latest(e.rsi, candles)
	set.EMA20 = e.latest(e.emaShort, candles)

	ema50 := e.series(e.emaMedium, candles)
	ema200 := e.series(e.emaLong, candles)
	set.EMA50 = at(ema50, last, e.params.EMAMedium)
	set.EMA200 = at(ema200, last, e.params.EMALong)
	set.Crossover = crossover(
		at(ema50, last-1, e.params.EMAMedium), at(ema200, last-1, e.params.EMALong),
		set.EMA50, set.EMA200,
	)

	if m, err := e.macd.Calculate(candles); err == nil {
		set.MACD = at(m["macd"], last, e.macd.LinePeriod())
		set.MACDSignal = at(m["signal"], last, e.macd.Period())
		set.MACDCrossover = macdCrossover(
			at(m["macd"], last-1, e.macd.LinePeriod()), at(m["signal"], last-1, e.macd.Period()),
			set.MACD, set.MACDSignal,
		)
	}

	if bb, err := e.bands.Calculate(candles); err == nil {
		set.BBUpper = at(bb["upper"], last, e.bands.Period())
		set.BBLower = at(bb["lower"], last, e.bands.Period())
		set.BBWidth = at(bb["width"], last, e.bands.Period())
	}

	avgVolume := e.latest(e.volume, candles)
	set.VolumeSpike = IsVolumeSpike(set.Volume, avgVolume, e.params.VolumeSpikeFactor)

	return set
}

func (e *Engine) series(ind Indicator, candles []models.Candle) []float64 {
	values, err := ind.Calculate(candles)
	if err != nil {
		return nil
	}
	return values
}

func (e *Engine) latest(ind Indicator, candles []models.Candle) *float64 {
	return at(e.series(ind, candles), len(candles)-1, ind.Period())
}

// crossover compares the fast/slow relationship on the previous and current
// candle.
func crossover(prevFast, prevSlow, fast, slow *float64) models.Crossover {
	switch flip(prevFast, prevSlow, fast, slow) {
	case 1:
		return models.CrossoverGolden
	case -1:
		return models.CrossoverDeath
	default:
		return models.CrossoverNone
	}
}

func macdCrossover(prevMACD, prevSignal, macd, signal *float64) models.MACDCrossover {
	switch flip(prevMACD, prevSignal, macd, signal) {
	case 1:
		return models.MACDCrossoverBullish
	case -1:
		return models.MACDCrossoverBearish
	default:
		return models.MACDCrossoverNone
	}
}

// flip returns 1 when a crosses above b, -1 when it crosses below and 0
// otherwise or when any value is missing.
func flip(prevA, prevB, a, b *float64) int {
	if prevA == nil || prevB == nil || a == nil || b == nil {
		return 0
	}
	switch {
	case *prevA <= *prevB && *a > *b:
		return 1
	case *prevA >= *prevB && *a < *b:
		return -1
	default:
		return 0
	}
}
