// Package orb detects intraday opening range breakouts.
package orb

import (
	"fmt"
	"math"
	"time"

	"radar-trader/internal/models"
)

// Direction of a breakout.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// Snapshot keys stored with ORB alerts.
const (
	KeyHigh               = "ORB_High"
	KeyLow                = "ORB_Low"
	KeyEntryPrice         = "Entry_Price"
	KeyStopLoss           = "Stop_Loss"
	KeyTarget             = "Target"
	KeyRiskReward         = "Risk_Reward"
	KeyVolumeConfirmation = "Volume_Confirmation"
	KeyDirection          = "Direction"
)

// Params configures the detector.
type Params struct {
	OpeningCandles int     // candles forming the opening range
	MinCandles     int     // candles required before any breakout check
	VolumeLookback int     // candles averaged for volume confirmation
	VolumeFactor   float64 // latest volume must exceed average by this factor
}

// DefaultParams returns a 30-minute range on 5-minute candles, checked once
// an hour of data exists, with 1.2x volume confirmation over the last 6.
func DefaultParams() Params {
	return Params{
		OpeningCandles: 6,
		MinCandles:     12,
		VolumeLookback: 6,
		VolumeFactor:   1.2,
	}
}

// Breakout describes a price move beyond the opening range.
type Breakout struct {
	Direction       Direction
	RangeHigh       float64
	RangeLow        float64
	Entry           float64
	StopLoss        float64
	Target          float64
	RiskReward      float64
	VolumeConfirmed bool
	LatestVolume    int64
	AverageVolume   float64
	CandleTime      time.Time
}

// Score is 2 for a volume-confirmed breakout and 1 otherwise.
func (b *Breakout) Score() int {
	if b.VolumeConfirmed {
		return 2
	}
	return 1
}

// Priority is HIGH for a volume-confirmed breakout and MEDIUM otherwise.
func (b *Breakout) Priority() models.AlertPriority {
	if b.VolumeConfirmed {
		return models.PriorityHigh
	}
	return models.PriorityMedium
}

// Reasons returns the human-readable alert reasons.
func (b *Breakout) Reasons(rangeMinutes int) []string {
	volume := "Normal"
	if b.VolumeConfirmed {
		volume = "High"
	}
	return []string{
		fmt.Sprintf("Opening range breakout: price broke %s the %d-min opening range", b.Direction, rangeMinutes),
		fmt.Sprintf("Entry: ₹%.2f, Stop: ₹%.2f, Target: ₹%.2f", b.Entry, b.StopLoss, b.Target),
		fmt.Sprintf("Risk-Reward: 1:%.2f", b.RiskReward),
		fmt.Sprintf("Volume: %s", volume),
	}
}

// Snapshot returns the JSON-safe indicator snapshot for the alert.
func (b *Breakout) Snapshot() models.Snapshot {
	return models.Sanitize(map[string]interface{}{
		KeyHigh:               b.RangeHigh,
		KeyLow:                b.RangeLow,
		KeyEntryPrice:         b.Entry,
		KeyStopLoss:           b.StopLoss,
		KeyTarget:             b.Target,
		KeyRiskReward:         b.RiskReward,
		KeyVolumeConfirmation: b.VolumeConfirmed,
		KeyDirection:          string(b.Direction),
		models.KeyClose:       b.Entry,
		models.KeyVolume:      b.LatestVolume,
	})
}

// Detector finds opening range breakouts. It is stateless.
type Detector struct {
	params Params
}

// NewDetector creates a detector.
func NewDetector(p Params) *Detector {
	if p.VolumeLookback <= 0 {
		p.VolumeLookback = p.OpeningCandles
	}
	return &Detector{params: p}
}

// Analyze checks the latest candle of an intraday series against the
// opening range formed by its first candles. It returns nil when the series
// is too short or price is inside the range.
func (d *Detector) Analyze(series models.Series) *Breakout {
	p := d.params
	if len(series) < p.MinCandles || len(series) < p.OpeningCandles {
		return nil
	}

	rangeHigh := series[0].High
	rangeLow := series[0].Low
	for _, c := range series[1:p.OpeningCandles] {
		rangeHigh = math.Max(rangeHigh, c.High)
		rangeLow = math.Min(rangeLow, c.Low)
	}

	last := series[len(series)-1]
	price := last.Close

	var b Breakout
	switch {
	case price > rangeHigh:
		b = Breakout{Direction: Up, StopLoss: rangeLow, Target: price + (price - rangeLow)}
	case price < rangeLow:
		b = Breakout{Direction: Down, StopLoss: rangeHigh, Target: price - (rangeHigh - price)}
	default:
		return nil
	}

	b.RangeHigh = rangeHigh
	b.RangeLow = rangeLow
	b.Entry = price
	b.CandleTime = last.Timestamp

	risk := math.Abs(price - b.StopLoss)
	reward := math.Abs(b.Target - price)
	if risk > 0 {
		b.RiskReward = reward / risk
	}

	lookback := p.VolumeLookback
	if lookback > len(series) {
		lookback = len(series)
	}
	tail := series.Volumes()[len(series)-lookback:]
	var total float64
	for _, v := range tail {
		total += v
	}
	b.AverageVolume = total / float64(len(tail))
	b.LatestVolume = last.Volume
	b.VolumeConfirmed = float64(last.Volume) > b.AverageVolume*p.VolumeFactor

	return &b
}

// NewAlert converts a breakout into an ENTRY alert for the instrument.
func (d *Detector) NewAlert(inst models.Instrument, b *Breakout, now time.Time, ttl time.Duration) *models.Alert {
	expires := now.Add(ttl)
	return &models.Alert{
		InstrumentKey: inst.Key,
		Symbol:        inst.Symbol,
		Strategy:      models.StrategyORB,
		Score:         b.Score(),
		Reasons:       b.Reasons(d.params.OpeningCandles * 5),
		Indicators:    b.Snapshot(),
		Status:        models.AlertActive,
		Priority:      b.Priority(),
		Type:          models.AlertTypeEntry,
		CreatedAt:     now,
		ExpiresAt:     &expires,
	}
}
