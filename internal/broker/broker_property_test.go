package broker

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
)

// Property: the fallback price of a key is stable and stays inside the
// documented range.
func TestProperty_MockPriceIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	lo, hi := decimal.NewFromInt(100), decimal.NewFromInt(1099)

	properties.Property("same key gives the same price in [100, 1099]", prop.ForAll(
		func(key string) bool {
			p1, p2 := MockPrice(key), MockPrice(key)
			return p1.Equal(p2) && p1.GreaterThanOrEqual(lo) && p1.LessThanOrEqual(hi)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// Property: for any tick sequence inside one bucket, the built candle keeps
// low <= open, close <= high and volume equal to the volume traded since the
// bucket opened.
func TestProperty_CandleBuilderBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	start := time.Date(2024, 1, 15, 9, 20, 0, 0, time.UTC)

	properties.Property("candle bounds every tick price", prop.ForAll(
		func(prices []float64) bool {
			if len(prices) == 0 {
				return true
			}
			b := NewCandleBuilder(5 * time.Minute)
			var (
				last    = prices[0]
				highest = prices[0]
				lowest  = prices[0]
				got     bool
			)
			for i, p := range prices {
				candle, ok := b.Update("NSE:TCS", p, int64(1000+i*10), start.Add(time.Duration(i)*time.Second))
				if !ok {
					return false
				}
				got = true
				last = p
				if p > highest {
					highest = p
				}
				if p < lowest {
					lowest = p
				}
				if candle.Low > candle.Open || candle.Open > candle.High ||
					candle.Low > candle.Close || candle.Close > candle.High {
					return false
				}
				if candle.High != highest || candle.Low != lowest || candle.Close != last {
					return false
				}
				if i > 0 && candle.Volume != int64(i*10) {
					return false
				}
			}
			return got
		},
		gen.SliceOfN(20, gen.Float64Range(100, 200)),
	))

	properties.TestingRun(t)
}
