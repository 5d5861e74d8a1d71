package trading

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"radar-trader/internal/models"
	"radar-trader/internal/store"
	"radar-trader/pkg/utils"
)

// WalletSummary is a wallet with its open exposure marked to the last
// recorded prices.
type WalletSummary struct {
	Wallet           models.Wallet     `json:"wallet"`
	AvailableBalance decimal.Decimal   `json:"available_balance"`
	UnrealizedPnL    decimal.Decimal   `json:"unrealized_pnl"`
	TotalValue       decimal.Decimal   `json:"total_value"`
	WinRate          decimal.Decimal   `json:"win_rate"`
	Positions        []models.Position `json:"positions"`
}

// Summarize loads the wallet and its positions. Total value is the balance
// plus unrealized P&L.
func Summarize(ctx context.Context, ledger store.LedgerStore, walletID string) (*WalletSummary, error) {
	w, err := ledger.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	positions, err := ledger.ListPositions(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to list positions: %w", err)
	}

	unrealized := decimal.Zero
	for _, p := range positions {
		unrealized = unrealized.Add(p.UnrealizedPnL)
	}

	return &WalletSummary{
		Wallet:           *w,
		AvailableBalance: w.AvailableBalance(),
		UnrealizedPnL:    unrealized,
		TotalValue:       w.Balance.Add(unrealized),
		WinRate:          w.WinRate().Round(2),
		Positions:        positions,
	}, nil
}

// StrategyCount is the number of alerts a strategy produced.
type StrategyCount struct {
	Strategy string `json:"strategy"`
	Count    int    `json:"count"`
}

// DayReport is the end-of-day summary for one wallet.
type DayReport struct {
	Date          string          `json:"date"`
	AlertsToday   int             `json:"alerts_today"`
	ByStrategy    []StrategyCount `json:"by_strategy"`
	OpenTrades    []models.Trade  `json:"open_trades"`
	ClosedToday   []models.Trade  `json:"closed_today"`
	RealizedToday decimal.Decimal `json:"realized_today"`
	Wallet        *WalletSummary  `json:"wallet"`
}

// BuildDayReport collects the alerts generated on now's trading date, the
// wallet's open trades and the trades it closed that day.
func BuildDayReport(ctx context.Context, alerts store.AlertStore, ledger store.LedgerStore, walletID string, now time.Time) (*DayReport, error) {
	start := utils.StartOfDay(now)
	report := &DayReport{
		Date:          start.Format("2006-01-02"),
		RealizedToday: decimal.Zero,
	}

	todays, err := alerts.ListAlerts(ctx, models.AlertFilter{Since: start})
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	report.AlertsToday = len(todays)
	report.ByStrategy = countByStrategy(todays)

	summary, err := Summarize(ctx, ledger, walletID)
	if err != nil {
		return nil, err
	}
	report.Wallet = summary

	report.OpenTrades, err = ledger.ListTrades(ctx, tradeFilterFor(walletID))
	if err != nil {
		return nil, fmt.Errorf("failed to list open trades: %w", err)
	}

	closed, err := ledger.ListTrades(ctx, store.TradeFilter{WalletID: walletID, Status: models.TradeClosed})
	if err != nil {
		return nil, fmt.Errorf("failed to list closed trades: %w", err)
	}
	for _, t := range closed {
		if t.ExitTime == nil || t.ExitTime.Before(start) {
			continue
		}
		report.ClosedToday = append(report.ClosedToday, t)
		if t.PnL.Valid {
			report.RealizedToday = report.RealizedToday.Add(t.PnL.Decimal)
		}
	}

	return report, nil
}

func countByStrategy(alerts []models.Alert) []StrategyCount {
	counts := make(map[string]int)
	for _, a := range alerts {
		counts[a.Strategy]++
	}
	out := make([]StrategyCount, 0, len(counts))
	for s, n := range counts {
		out = append(out, StrategyCount{Strategy: s, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Strategy < out[j].Strategy
	})
	return out
}
