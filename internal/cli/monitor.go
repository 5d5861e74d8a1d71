package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"radar-trader/internal/trading"
)

func addMonitorCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newMonitorCmd(app))
}

func newMonitorCmd(app *App) *cobra.Command {
	var (
		walletID string
		dryRun   bool
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Close open trades that hit their target, stop or time limit",
		Long: `Sweeps every EXECUTED trade, prices it, and closes the ones whose target,
stop loss or time limit has been reached. --dry-run reports the closes
without making them.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			output := NewOutput(cmd)
			monitor := app.Monitor(terminalFor(cmd, output))
			opts := trading.SweepOptions{WalletID: walletID, DryRun: dryRun}

			show := func(r *trading.SweepReport) {
				if output.IsJSON() {
					_ = output.JSON(r)
					return
				}
				printSweep(output, r)
			}

			if watch {
				if interval <= 0 {
					interval = app.Config.Monitor.Interval
				}
				if !output.IsJSON() {
					output.Info("Sweeping every %s. Ctrl-C to stop.", interval)
				}
				return monitor.Watch(ctx, interval, opts, show)
			}

			report, err := monitor.Sweep(ctx, opts)
			if err != nil {
				return err
			}
			show(report)
			if report.Failed > 0 {
				return fmt.Errorf("%d trades failed to close", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "only sweep this wallet")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report due closes without closing")
	cmd.Flags().BoolVar(&watch, "watch", false, "sweep repeatedly until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "time between sweeps with --watch (default: monitor.interval)")
	return cmd
}

func printSweep(output *Output, r *trading.SweepReport) {
	closures := r.Closed
	verb := "closed"
	if r.DryRun {
		closures = r.WouldClose
		verb = "would close"
	}

	output.Printf("%s  Checked %d trades, %s %d", FormatTime(time.Now()), r.Checked, verb, len(closures))
	if r.Skipped > 0 {
		output.Printf(", %s", output.Yellow(fmt.Sprintf("%d without a price", r.Skipped)))
	}
	if r.Failed > 0 {
		output.Printf(", %s", output.Red(fmt.Sprintf("%d failed", r.Failed)))
	}
	output.Println()
	if len(closures) == 0 {
		return
	}

	table := NewTable(output, "Trade", "Symbol", "Side", "Qty", "Reason", "Entry", "Exit", "P&L", "%")
	for _, c := range closures {
		table.AddRow(
			shortID(c.TradeID),
			c.Symbol,
			output.Side(c.Side),
			fmt.Sprintf("%d", c.Quantity),
			string(c.Reason),
			c.EntryPrice.StringFixed(2),
			c.ExitPrice.StringFixed(2),
			output.FormatPnL(c.PnL),
			output.FormatPercent(c.PnLPercentage),
		)
	}
	table.Render()
}
