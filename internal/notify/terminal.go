package notify

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"

	"radar-trader/pkg/utils"
)

// TerminalPublisher prints events as colored one-line summaries, for the
// foreground engine and monitor commands.
type TerminalPublisher struct {
	mu  sync.Mutex
	out io.Writer

	open   *color.Color
	profit *color.Color
	loss   *color.Color
	info   *color.Color
}

// NewTerminalPublisher writes to out. Colors follow color.NoColor.
func NewTerminalPublisher(out io.Writer) *TerminalPublisher {
	return &TerminalPublisher{
		out:    out,
		open:   color.New(color.FgCyan, color.Bold),
		profit: color.New(color.FgGreen, color.Bold),
		loss:   color.New(color.FgRed, color.Bold),
		info:   color.New(color.FgWhite),
	}
}

// Publish prints the event.
func (p *TerminalPublisher) Publish(_ context.Context, ev Event) {
	line := FormatEvent(ev)

	c := p.info
	switch ev.Type {
	case EventTradeOpened:
		c = p.open
	case EventTradeClosed:
		if ev.PnL.Valid && ev.PnL.Decimal.IsPositive() {
			c = p.profit
		} else {
			c = p.loss
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c.Fprintln(p.out, line)
}

// FormatEvent renders an event without color.
func FormatEvent(ev Event) string {
	ts := ev.Timestamp.In(utils.IndiaLocation).Format("15:04:05")

	switch ev.Type {
	case EventTradeOpened:
		return fmt.Sprintf("[%s] OPEN   %s %d x %s @ %s", ts, ev.Side, ev.Quantity, ev.Symbol, formatNull(ev.Price))
	case EventTradeClosed:
		return fmt.Sprintf("[%s] CLOSE  %s %d x %s @ %s | P&L %s | %s",
			ts, ev.Side, ev.Quantity, ev.Symbol, formatNull(ev.Price), formatPnL(ev), ev.Reason)
	case EventWalletUpdated:
		if ev.Wallet == nil {
			return fmt.Sprintf("[%s] WALLET %s", ts, ev.WalletID)
		}
		return fmt.Sprintf("[%s] WALLET %s | balance %s | available %s | P&L %s",
			ts, ev.WalletID,
			utils.FormatRupees(ev.Wallet.Balance),
			utils.FormatRupees(ev.Wallet.Available),
			utils.FormatPnL(ev.Wallet.TotalPnL))
	default:
		return fmt.Sprintf("[%s] %s %s", ts, ev.Type, ev.WalletID)
	}
}

func formatNull(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	return utils.FormatRupees(v.Decimal)
}

func formatPnL(ev Event) string {
	if !ev.PnL.Valid {
		return "-"
	}
	return utils.FormatPnL(ev.PnL.Decimal)
}
