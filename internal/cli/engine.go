package cli

import (
	"io"

	"github.com/spf13/cobra"

	"radar-trader/internal/trading"
	"radar-trader/pkg/utils"
)

func addEngineCommands(rootCmd *cobra.Command, app *App) {
	engineCmd := &cobra.Command{
		Use:   "engine",
		Short: "Paper trade active alerts against a virtual wallet",
	}
	engineCmd.PersistentFlags().String("wallet", "", "wallet ID (default: engine.wallet_id or the first active wallet)")
	engineCmd.AddCommand(newEngineRunCmd(app))
	engineCmd.AddCommand(newEngineOnceCmd(app))
	rootCmd.AddCommand(engineCmd)
}

// terminalFor returns where trade events are echoed: stdout in human mode,
// nowhere in JSON mode.
func terminalFor(cmd *cobra.Command, output *Output) io.Writer {
	if output.IsJSON() {
		return nil
	}
	return cmd.OutOrStdout()
}

func newEngineRunCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run engine cycles until interrupted",
		Long: `Opens trades for new ENTRY alerts and refreshes open positions every
engine.poll_interval. A failed cycle waits engine.error_backoff and the loop
continues.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			output := NewOutput(cmd)
			engine := app.Engine(terminalFor(cmd, output))
			walletID, _ := cmd.Flags().GetString("wallet")
			wallet, err := engine.ResolveWallet(ctx, walletID)
			if err != nil {
				return err
			}

			if !output.IsJSON() {
				output.Info("Engine running on wallet %s (%s available). Ctrl-C to stop.",
					shortID(wallet.ID), utils.FormatRupees(wallet.AvailableBalance()))
			}
			return engine.Run(ctx, wallet.ID)
		},
	}
}

func newEngineOnceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single engine cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			output := NewOutput(cmd)
			engine := app.Engine(terminalFor(cmd, output))
			walletID, _ := cmd.Flags().GetString("wallet")
			wallet, err := engine.ResolveWallet(ctx, walletID)
			if err != nil {
				return err
			}

			report, err := engine.RunCycle(ctx, wallet.ID)
			if report == nil {
				return err
			}
			view := cycleView(wallet.ID, report)
			if output.IsJSON() {
				if jerr := output.JSON(view); jerr != nil {
					return jerr
				}
				return err
			}
			printCycle(output, view)
			return err
		},
	}
}

type cycleResult struct {
	WalletID string   `json:"wallet_id"`
	Opened   int      `json:"opened"`
	Rejected int      `json:"rejected"`
	Updated  int      `json:"updated"`
	Closed   int      `json:"closed"`
	Skipped  int      `json:"skipped"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors,omitempty"`
}

func cycleView(walletID string, r *trading.CycleReport) cycleResult {
	v := cycleResult{
		WalletID: walletID,
		Opened:   r.Opened,
		Rejected: r.Rejected,
		Updated:  r.Updated,
		Closed:   r.Closed,
		Skipped:  r.Skipped,
		Failed:   r.Failed,
	}
	for _, err := range r.Errors {
		v.Errors = append(v.Errors, err.Error())
	}
	return v
}

func printCycle(output *Output, v cycleResult) {
	output.Bold("Engine cycle on wallet %s", shortID(v.WalletID))
	output.Printf("  Opened:   %d\n", v.Opened)
	output.Printf("  Rejected: %d\n", v.Rejected)
	output.Printf("  Updated:  %d\n", v.Updated)
	output.Printf("  Closed:   %d\n", v.Closed)
	if v.Skipped > 0 {
		output.Warning("  Skipped:  %d (price unavailable)", v.Skipped)
	}
	if v.Failed > 0 {
		output.Error("  Failed:   %d", v.Failed)
		for _, e := range v.Errors {
			output.Dim("    %s", e)
		}
	}
}
