package indicators

import (
	"fmt"
	"math"

	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
)

var (
	// ErrInsufficientData is returned when there's not enough data for calculation.
	ErrInsufficientData = fmt.Errorf("indicator: %w", apperrors.ErrDataInsufficient)
	// ErrInvalidPeriod is returned when the period is invalid.
	ErrInvalidPeriod = fmt.Errorf("indicator: period must be positive: %w", apperrors.ErrConfigInvalid)
)

// sum calculates the sum of a slice of float64.
func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

// mean calculates the arithmetic mean of a slice of float64.
func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return sum(values) / float64(len(values))
}

// stdDev calculates the population standard deviation.
func stdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var variance float64
	for _, v := range values {
		diff := v - m
		variance += diff * diff
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

// closePrices extracts close prices from candles.
func closePrices(candles []models.Candle) []float64 {
	prices := make([]float64, len(candles))
	for i, c := range candles {
		prices[i] = c.Close
	}
	return prices
}

// volumes extracts volumes from candles as floats.
func volumes(candles []models.Candle) []float64 {
	vols := make([]float64, len(candles))
	for i, c := range candles {
		vols[i] = float64(c.Volume)
	}
	return vols
}

// at returns values[i] when the index was reached by a window of size
// need, nil otherwise.
func at(values []float64, i, need int) *float64 {
	if values == nil || i < 0 || i >= len(values) || i < need-1 {
		return nil
	}
	return models.Float(values[i])
}
