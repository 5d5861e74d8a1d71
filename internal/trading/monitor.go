package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"radar-trader/internal/broker"
	"radar-trader/internal/models"
	"radar-trader/internal/store"
)

// SweepOptions selects what a monitor sweep touches.
type SweepOptions struct {
	WalletID string // empty sweeps every wallet
	DryRun   bool
}

// Closure describes one trade closed, or due to close, by a sweep.
type Closure struct {
	TradeID       string           `json:"trade_id"`
	WalletID      string           `json:"wallet_id"`
	Symbol        string           `json:"symbol"`
	Side          models.OrderSide `json:"side"`
	Quantity      int64            `json:"quantity"`
	Reason        ExitReason       `json:"reason"`
	EntryPrice    decimal.Decimal  `json:"entry_price"`
	ExitPrice     decimal.Decimal  `json:"exit_price"`
	PnL           decimal.Decimal  `json:"pnl"`
	PnLPercentage decimal.Decimal  `json:"pnl_percentage"`
}

// SweepReport is the outcome of one sweep.
type SweepReport struct {
	DryRun     bool      `json:"dry_run"`
	Checked    int       `json:"checked"`
	Closed     []Closure `json:"closed"`
	WouldClose []Closure `json:"would_close"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Errors     []error   `json:"-"`
}

// Monitor closes due trades outside the engine's loop. It evaluates exits
// and closes trades through the engine, so both paths book identical
// results for the same price and instant.
type Monitor struct {
	engine *Engine
	prices broker.PriceFeed
	logger zerolog.Logger
}

// NewMonitor creates a monitor. A nil feed uses the engine's feed.
func NewMonitor(engine *Engine, prices broker.PriceFeed, logger zerolog.Logger) *Monitor {
	if prices == nil {
		prices = engine.prices
	}
	return &Monitor{
		engine: engine,
		prices: prices,
		logger: logger.With().Str("component", "monitor").Logger(),
	}
}

// Sweep checks every EXECUTED trade and closes the ones whose exit
// condition holds. In dry-run mode it reports the closes without making
// them. A failure on one trade is counted and the sweep moves on.
func (m *Monitor) Sweep(ctx context.Context, opts SweepOptions) (*SweepReport, error) {
	report := &SweepReport{DryRun: opts.DryRun}

	trades, err := m.engine.ledger.ListTrades(ctx, store.TradeFilter{
		WalletID: opts.WalletID,
		Status:   models.TradeExecuted,
	})
	if err != nil {
		return report, fmt.Errorf("failed to list open trades: %w", err)
	}

	q := quotes{}
	now := m.engine.now()
	for i := range trades {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		trade := &trades[i]
		report.Checked++

		price, err := q.get(ctx, m.prices, trade.InstrumentKey)
		if err != nil {
			report.Skipped++
			m.logger.Warn().Err(err).Str("trade_id", trade.ID).Str("symbol", trade.Symbol).Msg("no price for trade")
			continue
		}

		decision, ok := EvaluateExit(trade, price, now, m.engine.cfg.TimeLimit)
		if !ok {
			continue
		}

		if opts.DryRun {
			pnl, pct := trade.RealizedPnL(decision.Price)
			report.WouldClose = append(report.WouldClose, closureOf(trade, decision, pnl, pct))
			m.logger.Info().
				Str("trade_id", trade.ID).
				Str("symbol", trade.Symbol).
				Str("reason", string(decision.Reason)).
				Str("exit_price", decision.Price.StringFixed(2)).
				Msg("would close trade")
			continue
		}

		res, err := m.engine.ClosePosition(ctx, trade, decision)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, err)
			m.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("failed to close trade")
			continue
		}
		if res.Closed {
			report.Closed = append(report.Closed,
				closureOf(res.Trade, decision, res.Trade.PnL.Decimal, res.Trade.PnLPercentage.Decimal))
		}
	}

	m.logger.Info().
		Bool("dry_run", opts.DryRun).
		Int("checked", report.Checked).
		Int("closed", len(report.Closed)).
		Int("would_close", len(report.WouldClose)).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("monitor sweep complete")

	return report, nil
}

// Watch sweeps every interval until ctx is cancelled, passing each report
// to onReport when it is set.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, opts SweepOptions, onReport func(*SweepReport)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := m.Sweep(ctx, opts)
		if err != nil && ctx.Err() == nil {
			m.logger.Error().Err(err).Msg("monitor sweep failed")
		}
		if onReport != nil && err == nil {
			onReport(report)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func closureOf(trade *models.Trade, decision ExitDecision, pnl, pct decimal.Decimal) Closure {
	return Closure{
		TradeID:       trade.ID,
		WalletID:      trade.WalletID,
		Symbol:        trade.Symbol,
		Side:          trade.Side,
		Quantity:      trade.Quantity,
		Reason:        decision.Reason,
		EntryPrice:    trade.EntryPrice,
		ExitPrice:     decision.Price,
		PnL:           pnl,
		PnLPercentage: pct,
	}
}
