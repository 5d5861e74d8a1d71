package indicators

import (
	"math"
	"testing"
)

func TestBollingerWidthMissingWhenMiddleIsZero(t *testing.T) {
	series := closesSeries(make([]float64, 25))

	bands, err := NewBollingerBands(20, 2).Calculate(series)
	if err != nil {
		t.Fatal(err)
	}
	if w := bands["width"][len(series)-1]; !math.IsNaN(w) {
		t.Errorf("width over a zero middle band = %v, want NaN", w)
	}

	set := Compute(series)
	if set.BBWidth != nil {
		t.Errorf("BB_Width = %v, want nil", *set.BBWidth)
	}
	if set.BBUpper == nil || set.BBLower == nil {
		t.Error("bands should still be reported")
	}
}
