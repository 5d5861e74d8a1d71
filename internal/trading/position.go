package trading

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"radar-trader/internal/broker"
	apperrors "radar-trader/internal/errors"
	"radar-trader/internal/models"
	"radar-trader/internal/store"
)

// PositionSize returns the quantity to buy at entry. With a stop loss the
// quantity risks RiskPerTrade of the balance between entry and stop;
// without one it commits MaxPositionFraction of the balance. The result is
// clamped to [1, available/entry] and is 0 when one unit is unaffordable,
// so quantity*entry never exceeds the available balance.
func PositionSize(cfg Config, wallet *models.Wallet, entry decimal.Decimal, stop decimal.NullDecimal) int64 {
	if !entry.IsPositive() {
		return 0
	}

	available := wallet.AvailableBalance()
	affordable := available.Div(entry).Floor().IntPart()
	for affordable > 0 && entry.Mul(decimal.NewFromInt(affordable)).GreaterThan(available) {
		affordable--
	}
	if affordable < 1 {
		return 0
	}

	var qty int64
	if stop.Valid && !stop.Decimal.Equal(entry) {
		risk := wallet.Balance.Mul(cfg.RiskPerTrade)
		qty = risk.Div(entry.Sub(stop.Decimal).Abs()).Floor().IntPart()
	} else {
		qty = wallet.Balance.Mul(cfg.MaxPositionFraction).Div(entry).Floor().IntPart()
	}

	if qty < 1 {
		qty = 1
	}
	if qty > affordable {
		qty = affordable
	}
	return qty
}

// quotes memoizes prices within one cycle so every position and trade of an
// instrument is judged at the same price.
type quotes map[string]decimal.Decimal

func (q quotes) get(ctx context.Context, feed broker.PriceFeed, key string) (decimal.Decimal, error) {
	if p, ok := q[key]; ok {
		return p, nil
	}
	p, err := feed.CurrentPrice(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if !p.IsPositive() {
		return decimal.Zero, apperrors.NewDataError("price", key, fmt.Sprintf("non-positive price %s", p), apperrors.ErrPriceUnavailable)
	}
	q[key] = p
	return p, nil
}

// RefreshPositions marks every open position of the wallet to the current
// price and stores the unrealized P&L. Instruments without a price are
// skipped.
func (e *Engine) RefreshPositions(ctx context.Context, walletID string) (*CycleReport, error) {
	report := &CycleReport{}
	return report, e.refresh(ctx, walletID, quotes{}, report)
}

func (e *Engine) refresh(ctx context.Context, walletID string, q quotes, report *CycleReport) error {
	positions, err := e.ledger.ListPositions(ctx, walletID)
	if err != nil {
		return fmt.Errorf("failed to list positions: %w", err)
	}

	for i := range positions {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		pos := &positions[i]
		price, err := q.get(ctx, e.prices, pos.InstrumentKey)
		if err != nil {
			report.record(err)
			e.logger.Debug().Err(err).Str("instrument", pos.InstrumentKey).Msg("no price for position")
			continue
		}

		pos.Revalue(price)
		if err := e.ledger.SavePositionPrice(ctx, pos); err != nil {
			report.record(err)
			e.logger.Error().Err(err).Str("instrument", pos.InstrumentKey).Msg("failed to save position price")
			continue
		}
		report.Updated++
		e.logger.Debug().
			Str("instrument", pos.InstrumentKey).
			Str("price", price.String()).
			Str("unrealized_pnl", pos.UnrealizedPnL.StringFixed(2)).
			Msg("position marked")
	}
	return nil
}

// UpdatePositions marks positions to market and then closes every open
// trade whose exit condition holds at the same prices.
func (e *Engine) UpdatePositions(ctx context.Context, walletID string) (*CycleReport, error) {
	report := &CycleReport{}
	q := quotes{}
	if err := e.refresh(ctx, walletID, q, report); err != nil {
		return report, err
	}
	return report, e.closeDue(ctx, walletID, q, report)
}

func (e *Engine) closeDue(ctx context.Context, walletID string, q quotes, report *CycleReport) error {
	trades, err := e.ledger.ListTrades(ctx, tradeFilterFor(walletID))
	if err != nil {
		return fmt.Errorf("failed to list open trades: %w", err)
	}

	now := e.now()
	for i := range trades {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		trade := &trades[i]
		price, err := q.get(ctx, e.prices, trade.InstrumentKey)
		if err != nil {
			report.record(err)
			continue
		}

		decision, ok := EvaluateExit(trade, price, now, e.cfg.TimeLimit)
		if !ok {
			continue
		}
		res, err := e.ClosePosition(ctx, trade, decision)
		if err != nil {
			report.record(err)
			e.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("failed to close trade")
			continue
		}
		if res.Closed {
			report.Closed++
		}
	}
	return nil
}

func tradeFilterFor(walletID string) store.TradeFilter {
	return store.TradeFilter{WalletID: walletID, Status: models.TradeExecuted}
}
