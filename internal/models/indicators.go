package models

import (
	"encoding/json"
	"fmt"
	"math"
)

// Crossover is the EMA50/EMA200 crossover signal on the latest candle.
type Crossover string

const (
	CrossoverNone   Crossover = "None"
	CrossoverGolden Crossover = "Golden"
	CrossoverDeath  Crossover = "Death"
)

// MACDCrossover is the MACD/signal-line crossover on the latest candle.
type MACDCrossover string

const (
	MACDCrossoverNone    MACDCrossover = "None"
	MACDCrossoverBullish MACDCrossover = "Bullish"
	MACDCrossoverBearish MACDCrossover = "Bearish"
)

// Indicator keys shared by IndicatorSet, rule definitions and alert snapshots.
const (
	KeyRSI           = "RSI"
	KeyEMA20         = "EMA20"
	KeyEMA50         = "EMA50"
	KeyEMA200        = "EMA200"
	KeyMACD          = "MACD"
	KeyMACDSignal    = "MACD_Signal"
	KeyBBUpper       = "BB_Upper"
	KeyBBLower       = "BB_Lower"
	KeyBBWidth       = "BB_Width"
	KeyClose         = "Close"
	KeyLow           = "Low"
	KeyVolume        = "Volume"
	KeyVolumeSpike   = "Volume_Spike"
	KeyCrossover     = "Crossover"
	KeyMACDCrossover = "MACD_Crossover"
)

// IndicatorSet holds the indicators computed from a series' tail.
// A nil field means the series was too short for that indicator.
type IndicatorSet struct {
	RSI           *float64      `json:"RSI"`
	EMA20         *float64      `json:"EMA20"`
	EMA50         *float64      `json:"EMA50"`
	EMA200        *float64      `json:"EMA200"`
	MACD          *float64      `json:"MACD"`
	MACDSignal    *float64      `json:"MACD_Signal"`
	BBUpper       *float64      `json:"BB_Upper"`
	BBLower       *float64      `json:"BB_Lower"`
	BBWidth       *float64      `json:"BB_Width"`
	Close         *float64      `json:"Close"`
	Low           *float64      `json:"Low"`
	Volume        *float64      `json:"Volume"`
	VolumeSpike   bool          `json:"Volume_Spike"`
	Crossover     Crossover     `json:"Crossover"`
	MACDCrossover MACDCrossover `json:"MACD_Crossover"`
}

// Float returns a pointer to v, or nil when v is NaN or infinite.
func Float(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// IsEmpty reports whether no indicator was computed.
func (s IndicatorSet) IsEmpty() bool {
	return s.Close == nil && s.Volume == nil && s.Low == nil
}

// Value looks up an indicator by key. The second return is false when the
// key is unknown or the indicator is missing.
func (s IndicatorSet) Value(key string) (interface{}, bool) {
	num := func(p *float64) (interface{}, bool) {
		if p == nil {
			return nil, false
		}
		return *p, true
	}

	switch key {
	case KeyRSI:
		return num(s.RSI)
	case KeyEMA20:
		return num(s.EMA20)
	case KeyEMA50:
		return num(s.EMA50)
	case KeyEMA200:
		return num(s.EMA200)
	case KeyMACD:
		return num(s.MACD)
	case KeyMACDSignal:
		return num(s.MACDSignal)
	case KeyBBUpper:
		return num(s.BBUpper)
	case KeyBBLower:
		return num(s.BBLower)
	case KeyBBWidth:
		return num(s.BBWidth)
	case KeyClose:
		return num(s.Close)
	case KeyLow:
		return num(s.Low)
	case KeyVolume:
		return num(s.Volume)
	case KeyVolumeSpike:
		return s.VolumeSpike, true
	case KeyCrossover:
		if s.Crossover == "" {
			return string(CrossoverNone), true
		}
		return string(s.Crossover), true
	case KeyMACDCrossover:
		if s.MACDCrossover == "" {
			return string(MACDCrossoverNone), true
		}
		return string(s.MACDCrossover), true
	}
	return nil, false
}

// Snapshot converts the set to a JSON-safe snapshot for storage.
func (s IndicatorSet) Snapshot() Snapshot {
	keys := []string{
		KeyRSI, KeyEMA20, KeyEMA50, KeyEMA200, KeyMACD, KeyMACDSignal,
		KeyBBUpper, KeyBBLower, KeyBBWidth, KeyClose, KeyLow, KeyVolume,
		KeyVolumeSpike, KeyCrossover, KeyMACDCrossover,
	}
	snap := make(Snapshot, len(keys))
	for _, k := range keys {
		v, _ := s.Value(k)
		snap[k] = v
	}
	return snap
}

// MarshalJSON writes NaN and infinite values as null.
func (s IndicatorSet) MarshalJSON() ([]byte, error) {
	type plain IndicatorSet
	clean := plain(s)
	for _, p := range []**float64{
		&clean.RSI, &clean.EMA20, &clean.EMA50, &clean.EMA200, &clean.MACD, &clean.MACDSignal,
		&clean.BBUpper, &clean.BBLower, &clean.BBWidth, &clean.Close, &clean.Low, &clean.Volume,
	} {
		if *p != nil {
			*p = Float(**p)
		}
	}
	if clean.Crossover == "" {
		clean.Crossover = CrossoverNone
	}
	if clean.MACDCrossover == "" {
		clean.MACDCrossover = MACDCrossoverNone
	}
	return json.Marshal(clean)
}

// Snapshot is a JSON-safe indicator map stored with an alert. Values are
// nil, bool, float64 or string.
type Snapshot map[string]interface{}

// Sanitize coerces arbitrary values into JSON-safe types: booleans and
// strings are preserved, numbers become float64, NaN and infinities become
// nil, and anything else is formatted as a string.
func Sanitize(values map[string]interface{}) Snapshot {
	out := make(Snapshot, len(values))
	for k, v := range values {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, string:
		return x
	case float64:
		if p := Float(x); p != nil {
			return *p
		}
		return nil
	case float32:
		return sanitizeValue(float64(x))
	case *float64:
		if x == nil {
			return nil
		}
		return sanitizeValue(*x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case int32:
		return float64(x)
	case uint32:
		return float64(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Float returns the numeric value stored under key.
func (s Snapshot) Float(key string) (float64, bool) {
	v, ok := s[key].(float64)
	return v, ok
}

// String returns the string value stored under key.
func (s Snapshot) String(key string) (string, bool) {
	v, ok := s[key].(string)
	return v, ok
}

// Bool returns the boolean value stored under key.
func (s Snapshot) Bool(key string) (bool, bool) {
	v, ok := s[key].(bool)
	return v, ok
}

// MarshalJSON sanitizes values before encoding.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}(Sanitize(s)))
}
