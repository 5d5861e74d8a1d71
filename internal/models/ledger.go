package models

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Wallet is a paper-trading account.
type Wallet struct {
	ID            string          `json:"id"`
	Owner         string          `json:"owner"`
	Balance       decimal.Decimal `json:"balance"`
	TotalInvested decimal.Decimal `json:"total_invested"`
	TotalPnL      decimal.Decimal `json:"total_pnl"`
	TotalTrades   int             `json:"total_trades"`
	WinningTrades int             `json:"winning_trades"`
	LosingTrades  int             `json:"losing_trades"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AvailableBalance is the cash not committed to open trades.
func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.Balance.Sub(w.TotalInvested)
}

// WinRate returns the percentage of closed trades that were profitable.
func (w *Wallet) WinRate() decimal.Decimal {
	closed := w.WinningTrades + w.LosingTrades
	if closed == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(w.WinningTrades)).Div(decimal.NewFromInt(int64(closed))).Mul(hundred)
}

// TradeStatus is the lifecycle state of a trade.
type TradeStatus string

const (
	TradePending   TradeStatus = "PENDING"
	TradeExecuted  TradeStatus = "EXECUTED"
	TradeClosed    TradeStatus = "CLOSED"
	TradeCancelled TradeStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is allowed.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeClosed || s == TradeCancelled
}

// Trade is a simulated trade opened from an alert.
type Trade struct {
	ID             string              `json:"id"`
	WalletID       string              `json:"wallet_id"`
	AlertID        int64               `json:"alert_id"`
	InstrumentKey  string              `json:"instrument_key"`
	Symbol         string              `json:"symbol"`
	Side           OrderSide           `json:"side"`
	Quantity       int64               `json:"quantity"`
	EntryPrice     decimal.Decimal     `json:"entry_price"`
	TargetPrice    decimal.NullDecimal `json:"target_price"`
	StopLoss       decimal.NullDecimal `json:"stop_loss"`
	Status         TradeStatus         `json:"status"`
	ExitPrice      decimal.NullDecimal `json:"exit_price"`
	PnL            decimal.NullDecimal `json:"pnl"`
	PnLPercentage  decimal.NullDecimal `json:"pnl_percentage"`
	EntryTime      time.Time           `json:"entry_time"`
	ExitTime       *time.Time          `json:"exit_time,omitempty"`
	RiskAmount     decimal.Decimal     `json:"risk_amount"`
	RiskPercentage decimal.Decimal     `json:"risk_percentage"`
	Notes          string              `json:"notes,omitempty"`
}

// Value is the capital committed at entry.
func (t *Trade) Value() decimal.Decimal {
	return t.EntryPrice.Mul(decimal.NewFromInt(t.Quantity))
}

// RealizedPnL computes the profit and percentage for closing at exit.
func (t *Trade) RealizedPnL(exit decimal.Decimal) (pnl, pct decimal.Decimal) {
	qty := decimal.NewFromInt(t.Quantity)
	if t.Side == OrderSideSell {
		pnl = t.EntryPrice.Sub(exit).Mul(qty)
	} else {
		pnl = exit.Sub(t.EntryPrice).Mul(qty)
	}
	if cost := t.Value(); !cost.IsZero() {
		pct = pnl.Div(cost).Mul(hundred)
	}
	return pnl, pct
}

// Position is the open exposure of a wallet in one instrument.
type Position struct {
	ID                      int64               `json:"id"`
	WalletID                string              `json:"wallet_id"`
	InstrumentKey           string              `json:"instrument_key"`
	Symbol                  string              `json:"symbol"`
	Side                    OrderSide           `json:"side"`
	Quantity                int64               `json:"quantity"`
	AvgEntryPrice           decimal.Decimal     `json:"avg_entry_price"`
	CurrentPrice            decimal.NullDecimal `json:"current_price"`
	UnrealizedPnL           decimal.Decimal     `json:"unrealized_pnl"`
	UnrealizedPnLPercentage decimal.Decimal     `json:"unrealized_pnl_percentage"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

// Add folds a new fill into the position using a weighted average entry.
func (p *Position) Add(price decimal.Decimal, qty int64) {
	oldQty := decimal.NewFromInt(p.Quantity)
	addQty := decimal.NewFromInt(qty)
	total := oldQty.Add(addQty)
	if total.IsZero() {
		return
	}
	p.AvgEntryPrice = p.AvgEntryPrice.Mul(oldQty).Add(price.Mul(addQty)).Div(total)
	p.Quantity += qty
}

// Revalue marks the position to price.
func (p *Position) Revalue(price decimal.Decimal) {
	qty := decimal.NewFromInt(p.Quantity)
	diff := price.Sub(p.AvgEntryPrice)
	if p.Side == OrderSideSell {
		diff = diff.Neg()
	}
	p.CurrentPrice = decimal.NewNullDecimal(price)
	p.UnrealizedPnL = diff.Mul(qty)
	if cost := p.AvgEntryPrice.Mul(qty); !cost.IsZero() {
		p.UnrealizedPnLPercentage = p.UnrealizedPnL.Div(cost).Mul(hundred)
	} else {
		p.UnrealizedPnLPercentage = decimal.Zero
	}
}
