// Package trading is the virtual trading engine. It turns actionable alerts
// into paper trades, marks open positions to market and closes them on
// target, stop or time limit.
package trading

import (
	"time"

	"github.com/shopspring/decimal"

	"radar-trader/internal/analysis/orb"
	"radar-trader/internal/config"
	"radar-trader/internal/models"
)

// Config holds the engine's risk rules and loop timing.
type Config struct {
	WalletID            string
	MaxOpenPositions    int
	MinAvailableBalance decimal.Decimal
	RiskPerTrade        decimal.Decimal // fraction of balance risked per trade
	MaxPositionFraction decimal.Decimal // fraction of balance per trade when no stop is known
	Bracket             BracketPolicy
	TimeLimit           time.Duration
	PollInterval        time.Duration
	ErrorBackoff        time.Duration
}

// DefaultConfig returns the engine defaults: five positions, a 10,000 floor,
// 2% risk, 10% position cap and a 6%/2% bracket with a 24 hour time limit.
func DefaultConfig() Config {
	return Config{
		MaxOpenPositions:    5,
		MinAvailableBalance: decimal.NewFromInt(10000),
		RiskPerTrade:        decimal.NewFromFloat(0.02),
		MaxPositionFraction: decimal.NewFromFloat(0.10),
		Bracket:             DefaultPercentBracket(),
		TimeLimit:           24 * time.Hour,
		PollInterval:        30 * time.Second,
		ErrorBackoff:        60 * time.Second,
	}
}

// ConfigFromApp converts the application config section.
func ConfigFromApp(cfg config.EngineConfig) Config {
	out := DefaultConfig()
	out.WalletID = cfg.WalletID
	if cfg.MaxOpenPositions > 0 {
		out.MaxOpenPositions = cfg.MaxOpenPositions
	}
	if cfg.MinAvailableBalance >= 0 {
		out.MinAvailableBalance = decimal.NewFromFloat(cfg.MinAvailableBalance)
	}
	if cfg.RiskPerTrade > 0 {
		out.RiskPerTrade = decimal.NewFromFloat(cfg.RiskPerTrade)
	}
	if cfg.MaxPositionFraction > 0 {
		out.MaxPositionFraction = decimal.NewFromFloat(cfg.MaxPositionFraction)
	}

	percent := DefaultPercentBracket()
	if cfg.TargetPercent > 0 {
		percent.TargetPercent = decimal.NewFromFloat(cfg.TargetPercent)
	}
	if cfg.StopPercent > 0 {
		percent.StopPercent = decimal.NewFromFloat(cfg.StopPercent)
	}
	out.Bracket = percent
	if cfg.Bracket == "orb" {
		out.Bracket = ORBBracket{Fallback: percent}
	}

	if cfg.TimeLimit > 0 {
		out.TimeLimit = cfg.TimeLimit
	}
	if cfg.PollInterval > 0 {
		out.PollInterval = cfg.PollInterval
	}
	if cfg.ErrorBackoff > 0 {
		out.ErrorBackoff = cfg.ErrorBackoff
	}
	return out
}

// SideFor returns the trade side for alerts produced by strategy.
func SideFor(strategy string) models.OrderSide {
	if models.IsBullishOrigin(strategy) {
		return models.OrderSideBuy
	}
	return models.OrderSideSell
}

// ============================================================================
// Brackets
// ============================================================================

// BracketPolicy places the target and stop loss around an entry price.
type BracketPolicy interface {
	Levels(alert *models.Alert, side models.OrderSide, entry decimal.Decimal) (target, stop decimal.Decimal)
}

// PercentBracket sets the target and stop a fixed percentage from entry,
// above and below for a BUY and mirrored for a SELL.
type PercentBracket struct {
	TargetPercent decimal.Decimal
	StopPercent   decimal.Decimal
}

// DefaultPercentBracket is the 6% target, 2% stop bracket.
func DefaultPercentBracket() PercentBracket {
	return PercentBracket{
		TargetPercent: decimal.NewFromInt(6),
		StopPercent:   decimal.NewFromInt(2),
	}
}

var hundred = decimal.NewFromInt(100)

// Levels implements BracketPolicy.
func (b PercentBracket) Levels(_ *models.Alert, side models.OrderSide, entry decimal.Decimal) (target, stop decimal.Decimal) {
	up := decimal.NewFromInt(1).Add(b.TargetPercent.Div(hundred))
	down := decimal.NewFromInt(1).Sub(b.StopPercent.Div(hundred))
	if side == models.OrderSideSell {
		up = decimal.NewFromInt(1).Sub(b.TargetPercent.Div(hundred))
		down = decimal.NewFromInt(1).Add(b.StopPercent.Div(hundred))
	}
	return entry.Mul(up).Round(2), entry.Mul(down).Round(2)
}

// ORBBracket uses the breakout projection stored on RealTime_ORB alerts
// when its levels bracket the entry on the trade's side, and the percent
// bracket otherwise.
type ORBBracket struct {
	Fallback PercentBracket
}

// Levels implements BracketPolicy.
func (b ORBBracket) Levels(alert *models.Alert, side models.OrderSide, entry decimal.Decimal) (target, stop decimal.Decimal) {
	if alert != nil && alert.Strategy == models.StrategyORB {
		t, okT := alert.Indicators.Float(orb.KeyTarget)
		s, okS := alert.Indicators.Float(orb.KeyStopLoss)
		if okT && okS {
			target, stop = decimal.NewFromFloat(t).Round(2), decimal.NewFromFloat(s).Round(2)
			if bracketsEntry(side, entry, target, stop) {
				return target, stop
			}
		}
	}
	return b.Fallback.Levels(alert, side, entry)
}

func bracketsEntry(side models.OrderSide, entry, target, stop decimal.Decimal) bool {
	if side == models.OrderSideSell {
		return target.LessThan(entry) && entry.LessThan(stop)
	}
	return target.GreaterThan(entry) && entry.GreaterThan(stop)
}
