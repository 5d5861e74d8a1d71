package trading

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"radar-trader/internal/models"
)

// Property: for any wallet, entry price and stop loss, PositionSize never
// returns a quantity whose cost exceeds the available balance, and returns
// at least one unit whenever one unit is affordable.
func TestProperty_PositionSizeWithinAvailable(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	cfg := DefaultConfig()

	properties.Property("quantity * entry <= available", prop.ForAll(
		func(balance, investedFrac, entry, stopOffset float64, hasStop bool) bool {
			b := decimal.NewFromFloat(balance).Round(2)
			wallet := &models.Wallet{
				Balance:       b,
				TotalInvested: b.Mul(decimal.NewFromFloat(investedFrac)).Round(2),
			}
			e := decimal.NewFromFloat(entry).Round(2)
			var stop decimal.NullDecimal
			if hasStop {
				stop = decimal.NewNullDecimal(e.Sub(decimal.NewFromFloat(stopOffset)).Round(2))
			}

			qty := PositionSize(cfg, wallet, e, stop)
			if qty < 0 {
				return false
			}
			available := wallet.AvailableBalance()
			if e.Mul(decimal.NewFromInt(qty)).GreaterThan(available) {
				return false
			}
			if qty == 0 {
				return available.LessThan(e)
			}
			return true
		},
		gen.Float64Range(1000, 5000000),
		gen.Float64Range(0, 1),
		gen.Float64Range(0.05, 50000),
		gen.Float64Range(-500, 500),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: a trade whose price has crossed its target or stop always exits
// at the level, never at the observed price, and a price strictly inside
// the bracket never exits before the time limit.
func TestProperty_BracketExitsFillAtLevel(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	entryTime := time.Date(2024, 1, 15, 4, 0, 0, 0, time.UTC)

	properties.Property("exit price is the crossed level", prop.ForAll(
		func(entry, move float64, sell bool) bool {
			side := models.OrderSideBuy
			if sell {
				side = models.OrderSideSell
			}
			e := decimal.NewFromFloat(entry).Round(2)
			target, stop := DefaultPercentBracket().Levels(nil, side, e)
			trade := &models.Trade{
				Side:        side,
				Quantity:    10,
				EntryPrice:  e,
				EntryTime:   entryTime,
				TargetPrice: decimal.NewNullDecimal(target),
				StopLoss:    decimal.NewNullDecimal(stop),
			}

			price := e.Mul(decimal.NewFromFloat(1 + move/100)).Round(2)
			decision, ok := EvaluateExit(trade, price, entryTime.Add(time.Hour), 24*time.Hour)

			crossedTarget := (side == models.OrderSideBuy && price.GreaterThanOrEqual(target)) ||
				(side == models.OrderSideSell && price.LessThanOrEqual(target))
			crossedStop := (side == models.OrderSideBuy && price.LessThanOrEqual(stop)) ||
				(side == models.OrderSideSell && price.GreaterThanOrEqual(stop))

			switch {
			case crossedTarget:
				return ok && decision.Reason == ExitTarget && decision.Price.Equal(target)
			case crossedStop:
				return ok && decision.Reason == ExitStopLoss && decision.Price.Equal(stop)
			default:
				return !ok
			}
		},
		gen.Float64Range(10, 10000),
		gen.Float64Range(-15, 15),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

// Property: the entry checks reject with the first failing rule in the
// fixed order: positions, balance, priority, existing position.
func TestProperty_EntryChecksFirstFailureWins(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	cfg := DefaultConfig()
	priorities := []models.AlertPriority{
		models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityCritical,
	}

	properties.Property("rejection names the first failing check", prop.ForAll(
		func(open int, available float64, priority int, hasPosition bool) bool {
			alert := &models.Alert{InstrumentKey: "NSE:INFY", Priority: priorities[priority]}
			state := EntryState{
				OpenPositions: open,
				Available:     decimal.NewFromFloat(available),
				HasPosition:   hasPosition,
			}

			want := ""
			switch {
			case open >= cfg.MaxOpenPositions:
				want = CheckMaxPositions
			case state.Available.LessThan(cfg.MinAvailableBalance):
				want = CheckMinAvailable
			case !alert.Priority.IsActionable():
				want = CheckPriority
			case hasPosition:
				want = CheckOpenPosition
			}

			got := CheckEntry(cfg, alert, state)
			if want == "" {
				return got.Allowed && got.Rejection == nil
			}
			return !got.Allowed && got.Rejection != nil && got.Rejection.Rule == want
		},
		gen.IntRange(0, 8),
		gen.Float64Range(0, 50000),
		gen.IntRange(0, 3),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
