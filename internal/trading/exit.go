package trading

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"radar-trader/internal/logging"
	"radar-trader/internal/models"
	"radar-trader/internal/notify"
	"radar-trader/internal/store"
)

// ExitReason is the recorded reason for closing a trade.
type ExitReason string

const (
	ExitTarget    ExitReason = "Target hit"
	ExitStopLoss  ExitReason = "Stop loss hit"
	ExitTimeLimit ExitReason = "Time limit exceeded."
)

// ExitDecision is the close a trade is due for.
type ExitDecision struct {
	Reason ExitReason
	Price  decimal.Decimal
}

// EvaluateExit decides whether an open trade should close at price. Target
// is checked first, then stop loss, then the time limit. Target and stop
// closes fill at the level; a time limit close fills at price. It depends
// only on its arguments, so the engine loop and the monitor agree on every
// decision for the same price and instant.
func EvaluateExit(trade *models.Trade, price decimal.Decimal, now time.Time, timeLimit time.Duration) (ExitDecision, bool) {
	sell := trade.Side == models.OrderSideSell

	if trade.TargetPrice.Valid {
		target := trade.TargetPrice.Decimal
		if (!sell && price.GreaterThanOrEqual(target)) || (sell && price.LessThanOrEqual(target)) {
			return ExitDecision{Reason: ExitTarget, Price: target}, true
		}
	}

	if trade.StopLoss.Valid {
		stop := trade.StopLoss.Decimal
		if (!sell && price.LessThanOrEqual(stop)) || (sell && price.GreaterThanOrEqual(stop)) {
			return ExitDecision{Reason: ExitStopLoss, Price: stop}, true
		}
	}

	if timeLimit > 0 && now.Sub(trade.EntryTime) > timeLimit {
		return ExitDecision{Reason: ExitTimeLimit, Price: price}, true
	}

	return ExitDecision{}, false
}

// ClosePosition closes the trade at the decision's price under the
// wallet's lock. Closing a trade that is already closed is a no-op and
// reports Closed=false.
func (e *Engine) ClosePosition(ctx context.Context, trade *models.Trade, decision ExitDecision) (*store.CloseResult, error) {
	unlock := e.locks.Lock(trade.WalletID)
	defer unlock()

	res, err := e.ledger.CloseTrade(ctx, store.CloseRequest{
		TradeID:   trade.ID,
		ExitPrice: decision.Price,
		ExitTime:  e.now(),
		Reason:    string(decision.Reason),
	})
	if err != nil {
		return nil, err
	}

	if !res.Closed {
		e.logger.Debug().Str("trade_id", trade.ID).Msg("trade already closed")
		return res, nil
	}

	logging.LogClose(logging.WithWallet(e.logger, trade.WalletID), res.Trade.ID, res.Trade.Symbol,
		string(decision.Reason), decision.Price, res.Trade.PnL.Decimal)
	e.publisher.Publish(ctx, notify.TradeClosedEvent(res.Trade, string(decision.Reason)))
	e.publisher.Publish(ctx, notify.WalletUpdatedEvent(res.Wallet))

	return res, nil
}
