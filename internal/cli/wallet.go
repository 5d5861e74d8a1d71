package cli

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"radar-trader/internal/models"
	"radar-trader/internal/trading"
	"radar-trader/pkg/utils"
)

// DefaultWalletBalance is the starting balance of a new paper wallet.
const DefaultWalletBalance = 1000000

func addWalletCommands(rootCmd *cobra.Command, app *App) {
	walletCmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage virtual wallets",
	}
	walletCmd.AddCommand(newWalletCreateCmd(app))
	walletCmd.AddCommand(newWalletListCmd(app))
	walletCmd.AddCommand(newWalletShowCmd(app))
	walletCmd.AddCommand(newWalletReportCmd(app))
	rootCmd.AddCommand(walletCmd)
}

func newWalletCreateCmd(app *App) *cobra.Command {
	var (
		id      string
		owner   string
		balance float64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a paper trading wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			if balance <= 0 {
				return fmt.Errorf("balance must be positive, got %.2f", balance)
			}
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			wallet := &models.Wallet{
				ID:            id,
				Owner:         owner,
				Balance:       decimal.NewFromFloat(balance).Round(2),
				TotalInvested: decimal.Zero,
				TotalPnL:      decimal.Zero,
			}
			if err := app.Ledger().CreateWallet(ctx, wallet); err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(wallet)
			}
			output.Success("Created wallet %s with %s", wallet.ID, utils.FormatRupees(wallet.Balance))
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "wallet ID (default: a new UUID)")
	cmd.Flags().StringVar(&owner, "owner", "paper", "wallet owner")
	cmd.Flags().Float64Var(&balance, "balance", DefaultWalletBalance, "starting balance in rupees")
	return cmd
}

func newWalletListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List wallets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			wallets, err := app.Ledger().ListWallets(ctx)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(wallets)
			}
			if len(wallets) == 0 {
				output.Dim("No wallets. Create one with 'radar wallet create'.")
				return nil
			}
			table := NewTable(output, "ID", "Owner", "Balance", "Available", "P&L", "Trades", "Active")
			for i := range wallets {
				w := &wallets[i]
				table.AddRow(
					w.ID,
					w.Owner,
					utils.FormatRupees(w.Balance),
					utils.FormatRupees(w.AvailableBalance()),
					output.FormatPnL(w.TotalPnL),
					fmt.Sprintf("%d", w.TotalTrades),
					fmt.Sprintf("%v", w.IsActive),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newWalletShowCmd(app *App) *cobra.Command {
	var walletID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a wallet with its open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			wallet, err := app.Engine(nil).ResolveWallet(ctx, walletID)
			if err != nil {
				return err
			}
			summary, err := trading.Summarize(ctx, app.Ledger(), wallet.ID)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(summary)
			}
			printWalletSummary(output, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet ID (default: engine.wallet_id or the first active wallet)")
	return cmd
}

func printWalletSummary(output *Output, s *trading.WalletSummary) {
	w := s.Wallet
	output.Box("Wallet "+w.ID, []string{
		fmt.Sprintf("Owner:          %s", w.Owner),
		fmt.Sprintf("Balance:        %s", utils.FormatRupees(w.Balance)),
		fmt.Sprintf("Invested:       %s", utils.FormatRupees(w.TotalInvested)),
		fmt.Sprintf("Available:      %s", utils.FormatRupees(s.AvailableBalance)),
		fmt.Sprintf("Unrealized P&L: %s", output.FormatPnL(s.UnrealizedPnL)),
		fmt.Sprintf("Total Value:    %s", utils.FormatRupees(s.TotalValue)),
		fmt.Sprintf("Realized P&L:   %s", output.FormatPnL(w.TotalPnL)),
		fmt.Sprintf("Trades:         %d (%d won, %d lost, win rate %s%%)",
			w.TotalTrades, w.WinningTrades, w.LosingTrades, s.WinRate.StringFixed(2)),
	})

	if len(s.Positions) == 0 {
		output.Dim("No open positions.")
		return
	}
	output.Println()
	printPositions(output, s.Positions)
}

func printPositions(output *Output, positions []models.Position) {
	table := NewTable(output, "Symbol", "Side", "Qty", "Avg Entry", "Last", "P&L", "%")
	for _, p := range positions {
		last := "-"
		if p.CurrentPrice.Valid {
			last = p.CurrentPrice.Decimal.StringFixed(2)
		}
		table.AddRow(
			p.Symbol,
			output.Side(p.Side),
			fmt.Sprintf("%d", p.Quantity),
			p.AvgEntryPrice.StringFixed(2),
			last,
			output.FormatPnL(p.UnrealizedPnL),
			output.FormatPercent(p.UnrealizedPnLPercentage),
		)
	}
	table.Render()
}

func newWalletReportCmd(app *App) *cobra.Command {
	var walletID string

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show the end-of-day report: today's alerts, trades and wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			report, err := dayReport(cmd, app, walletID)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(report)
			}
			printDayReport(output, report)
			return nil
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet ID (default: engine.wallet_id or the first active wallet)")
	return cmd
}

func dayReport(cmd *cobra.Command, app *App, walletID string) (*trading.DayReport, error) {
	ctx := cmd.Context()
	wallet, err := app.Engine(nil).ResolveWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return trading.BuildDayReport(ctx, app.Alerts(), app.Ledger(), wallet.ID, time.Now())
}

func printDayReport(output *Output, r *trading.DayReport) {
	output.Bold("Day report %s", r.Date)
	output.Printf("  Alerts today: %d\n", r.AlertsToday)
	for _, sc := range r.ByStrategy {
		output.Printf("    %-24s %d\n", sc.Strategy, sc.Count)
	}
	output.Printf("  Closed today: %d, realized %s\n", len(r.ClosedToday), output.FormatPnL(r.RealizedToday))
	output.Printf("  Open trades:  %d\n", len(r.OpenTrades))
	output.Println()

	if len(r.OpenTrades) > 0 {
		table := NewTable(output, "Trade", "Symbol", "Side", "Qty", "Entry", "Target", "Stop", "Opened")
		for _, t := range r.OpenTrades {
			table.AddRow(
				shortID(t.ID),
				t.Symbol,
				output.Side(t.Side),
				fmt.Sprintf("%d", t.Quantity),
				t.EntryPrice.StringFixed(2),
				nullPrice(t.TargetPrice),
				nullPrice(t.StopLoss),
				FormatTime(t.EntryTime),
			)
		}
		table.Render()
		output.Println()
	}

	if r.Wallet != nil {
		printWalletSummary(output, r.Wallet)
	}
}

func nullPrice(v decimal.NullDecimal) string {
	if !v.Valid {
		return "-"
	}
	return v.Decimal.StringFixed(2)
}
