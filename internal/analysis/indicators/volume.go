package indicators

import (
	"fmt"

	"radar-trader/internal/models"
)

// VolumeEMA calculates an EMA over traded volume.
type VolumeEMA struct {
	period int
}

// NewVolumeEMA creates a new volume EMA indicator.
func NewVolumeEMA(period int) *VolumeEMA {
	return &VolumeEMA{period: period}
}

func (v *VolumeEMA) Name() string {
	return fmt.Sprintf("VOL_EMA_%d", v.period)
}

func (v *VolumeEMA) Period() int {
	return v.period
}

func (v *VolumeEMA) Calculate(candles []models.Candle) ([]float64, error) {
	if v.period <= 0 {
		return nil, ErrInvalidPeriod
	}
	if len(candles) < v.period {
		return nil, ErrInsufficientData
	}
	return CalculateEMA(volumes(candles), v.period), nil
}

// IsVolumeSpike reports whether volume exceeds avg by factor. Missing values
// never produce a spike.
func IsVolumeSpike(volume, avg *float64, factor float64) bool {
	if volume == nil || avg == nil {
		return false
	}
	return *volume > *avg*factor
}
