package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"radar-trader/internal/models"
	"radar-trader/internal/scanner"
	"radar-trader/pkg/utils"
)

func addScanCommands(rootCmd *cobra.Command, app *App) {
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the premarket screen or the intraday ORB scan",
	}
	scanCmd.AddCommand(newScanPremarketCmd(app))
	scanCmd.AddCommand(newScanIntradayCmd(app))
	rootCmd.AddCommand(scanCmd)
}

func newScanPremarketCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "premarket",
		Short: "Screen the most liquid instruments and save the best setups",
		Long: `Detects the market regime, picks the matching strategy, scores the
instrument universe on daily candles and saves the top results as
SCREENING alerts that expire at today's close.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Premarket().Run(ctx)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(report)
			}
			printPremarketReport(output, report)
			return nil
		},
	}
}

func printPremarketReport(output *Output, r *scanner.PremarketReport) {
	output.Bold("Premarket scan: %s", r.Strategy)
	output.Printf("  Market:   %s trend, %s volatility", r.Market.Trend, r.Market.Volatility)
	if r.Market.VIX != nil {
		output.Printf(", VIX %.2f", *r.Market.VIX)
	}
	output.Println()
	if len(r.Market.StrongSectors) > 0 {
		output.Printf("  Sectors:  %s\n", strings.Join(r.Market.StrongSectors, ", "))
	}
	output.Printf("  Universe: %d (scanned %d, skipped %d, matched %d) in %s\n",
		r.Universe, r.Scanned, r.Skipped, r.Matched, FormatDuration(r.Duration))
	if r.Fallback {
		output.Warning("No instrument universe stored, scanned the default watchlist")
	}
	output.Println()

	if len(r.Alerts) == 0 {
		output.Dim("No instrument matched.")
		return
	}
	printAlertTable(output, r.Alerts)
}

func newScanIntradayCmd(app *App) *cobra.Command {
	var (
		watch  bool
		every  time.Duration
		stream bool
	)

	cmd := &cobra.Command{
		Use:   "intraday",
		Short: "Scan today's screened instruments for opening range breakouts",
		Long: `Loads the instruments with an active screening alert from today, or the
default watchlist, and saves an ENTRY alert for every confirmed opening
range breakout. Outside market hours the scan is skipped.

With --watch the scan repeats until interrupted. --stream feeds live Kite
ticks into the candle history between scans.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			output := NewOutput(cmd)
			intraday := app.Intraday()
			if stream {
				if err := startTickStream(ctx, app, intraday); err != nil {
					return err
				}
			}

			for {
				report, err := intraday.Run(ctx)
				if err != nil {
					if !watch || ctx.Err() != nil {
						return err
					}
					output.Error("Scan failed: %v", err)
				} else if output.IsJSON() {
					if err := output.JSON(report); err != nil {
						return err
					}
				} else {
					printIntradayReport(output, report)
				}

				if !watch {
					return nil
				}
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(every):
				}
			}
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "repeat the scan until interrupted")
	cmd.Flags().DurationVar(&every, "every", time.Minute, "time between scans with --watch")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream live ticks into the candle history")
	return cmd
}

// startTickStream streams live ticks for the scanner's watchlist into the
// shared candle history and the streamed price feed.
func startTickStream(ctx context.Context, app *App, intraday *scanner.IntradayScanner) error {
	watchlist, _, err := intraday.Watchlist(ctx, time.Now())
	if err != nil {
		return err
	}
	tokens := scanner.Tokens(watchlist)
	if len(tokens) == 0 {
		app.Logger.Warn().Msg("No watchlist instrument has a token, streaming disabled")
		return nil
	}
	started, err := app.StartStream(ctx, tokens)
	if err != nil {
		return err
	}
	if !started {
		app.Logger.Warn().Msg("No Kite session, streaming disabled")
	}
	return nil
}

func printIntradayReport(output *Output, r *scanner.IntradayReport) {
	stamp := FormatTime(time.Now())
	if r.SkippedReason != "" {
		output.Dim("%s  ORB scan skipped: %s (%s)", stamp, r.SkippedReason, output.MarketStatus(utils.GetMarketStatus()))
		return
	}

	summary := fmt.Sprintf("%s  ORB scan: %d watched, %d scanned, %d failed, %d breakouts in %s",
		stamp, r.Watchlist, r.Scanned, r.Failed, len(r.Alerts), FormatDuration(r.Duration))
	if r.TimedOut {
		output.Warning("%s (cycle budget exceeded)", summary)
	} else {
		output.Println(summary)
	}
	if r.Fallback {
		output.Dim("  No screening alerts today, watched the default list")
	}
	for _, a := range r.Alerts {
		output.Success("  %s %s score %d  %s", a.Symbol, a.Strategy, a.Score, strings.Join(a.Reasons, "; "))
	}
}

func printAlertTable(output *Output, alerts []models.Alert) {
	table := NewTable(output, "ID", "Symbol", "Strategy", "Score", "Priority", "Status", "Created", "Expires")
	for _, a := range alerts {
		expires := "-"
		if a.ExpiresAt != nil {
			expires = FormatDateTime(*a.ExpiresAt)
		}
		table.AddRow(
			fmt.Sprintf("%d", a.ID),
			a.Symbol,
			a.Strategy,
			fmt.Sprintf("%d", a.Score),
			output.Priority(a.Priority),
			string(a.Status),
			FormatDateTime(a.CreatedAt),
			expires,
		)
	}
	table.Render()
}
