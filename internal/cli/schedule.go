package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"radar-trader/internal/scheduler"
	"radar-trader/internal/store"
	"radar-trader/internal/trading"
)

func addScheduleCommands(rootCmd *cobra.Command, app *App) {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the whole pipeline on its cron schedule",
	}
	scheduleCmd.AddCommand(newScheduleRunCmd(app))
	scheduleCmd.AddCommand(newScheduleListCmd(app))
	rootCmd.AddCommand(scheduleCmd)
}

func newScheduleRunCmd(app *App) *cobra.Command {
	var (
		walletID string
		stream   bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run scans, engine cycles, sweeps, reports and cleanup until interrupted",
		Long: `Runs every job with a non-empty spec in the [schedule] config section.
Specs are cron expressions evaluated in IST. A tick that fires while the
previous run of the same job is still going is skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			output := NewOutput(cmd)
			tasks := pipelineTasks(app, output, walletID)
			intraday := app.Intraday()
			tasks.Intraday = func(ctx context.Context) error {
				_, err := intraday.Run(ctx)
				return err
			}
			if stream {
				if err := startTickStream(ctx, app, intraday); err != nil {
					return err
				}
			}

			sched := scheduler.New(app.Logger)
			for _, job := range scheduler.Jobs(app.Config.Schedule, tasks) {
				if err := sched.Add(job); err != nil {
					return err
				}
			}

			if !output.IsJSON() {
				output.Info("Scheduler running. Ctrl-C to stop.")
			}
			if err := sched.Run(ctx); err != nil {
				return err
			}

			stats := sched.Stats()
			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"jobs":  stats,
					"feeds": app.FeedStatus(),
				})
			}
			printJobStats(output, stats)
			return nil
		},
	}

	cmd.Flags().StringVar(&walletID, "wallet", "", "wallet ID (default: engine.wallet_id or the first active wallet)")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream live ticks into the ORB candle history")
	return cmd
}

// pipelineTasks builds the scheduled operations other than the intraday
// scan, which the caller owns so it can share a tick stream.
func pipelineTasks(app *App, output *Output, walletID string) scheduler.Tasks {
	premarket := app.Premarket()
	engine := app.Engine(nil)
	monitor := trading.NewMonitor(engine, nil, app.Logger)

	return scheduler.Tasks{
		Premarket: func(ctx context.Context) error {
			_, err := premarket.Run(ctx)
			return err
		},
		Engine: func(ctx context.Context) error {
			wallet, err := engine.ResolveWallet(ctx, walletID)
			if err != nil {
				return err
			}
			_, err = engine.RunCycle(ctx, wallet.ID)
			return err
		},
		Monitor: func(ctx context.Context) error {
			_, err := monitor.Sweep(ctx, trading.SweepOptions{WalletID: walletID})
			return err
		},
		EndOfDay: func(ctx context.Context) error {
			wallet, err := engine.ResolveWallet(ctx, walletID)
			if err != nil {
				return err
			}
			report, err := trading.BuildDayReport(ctx, app.Alerts(), app.Ledger(), wallet.ID, time.Now())
			if err != nil {
				return err
			}
			app.Logger.Info().
				Str("date", report.Date).
				Str("wallet_id", wallet.ID).
				Int("alerts", report.AlertsToday).
				Int("open_trades", len(report.OpenTrades)).
				Int("closed_today", len(report.ClosedToday)).
				Str("realized", report.RealizedToday.StringFixed(2)).
				Str("total_value", report.Wallet.TotalValue.StringFixed(2)).
				Msg("end of day report")
			if !output.IsJSON() {
				printDayReport(output, report)
			}
			return nil
		},
		Cleanup: func(ctx context.Context) error {
			report, err := store.CleanupAlerts(ctx, app.Alerts(), time.Now(), store.CleanupOptions{
				ExpireOld:     true,
				DeleteExpired: true,
			})
			if err != nil {
				return err
			}
			app.Logger.Info().Int64("expired", report.Expired).Int64("deleted", report.Deleted).Msg("alert cleanup complete")
			return nil
		},
	}
}

func printJobStats(output *Output, stats []scheduler.JobStats) {
	table := NewTable(output, "Job", "Spec", "Runs", "Failures", "Skipped", "Last Run", "Last Error")
	for _, st := range stats {
		lastRun := "-"
		if !st.LastRun.IsZero() {
			lastRun = FormatTime(st.LastRun)
		}
		lastErr := st.LastErr
		if lastErr != "" {
			lastErr = output.Red(TruncateString(lastErr, 60))
		}
		table.AddRow(
			st.Name,
			st.Spec,
			fmt.Sprintf("%d", st.Runs),
			fmt.Sprintf("%d", st.Failures),
			fmt.Sprintf("%d", st.Skipped),
			lastRun,
			lastErr,
		)
	}
	table.Render()
}

type jobSpec struct {
	Name string `json:"name"`
	Spec string `json:"spec"`
}

func newScheduleListCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured job schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := app.Config.Schedule
			jobs := []jobSpec{
				{Name: "premarket", Spec: s.Premarket},
				{Name: "intraday", Spec: s.Intraday},
				{Name: "engine", Spec: s.Engine},
				{Name: "monitor", Spec: s.Monitor},
				{Name: "end_of_day", Spec: s.EndOfDay},
				{Name: "cleanup", Spec: s.Cleanup},
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(jobs)
			}
			table := NewTable(output, "Job", "Spec")
			for _, j := range jobs {
				spec := j.Spec
				if spec == "" {
					spec = output.DimText("disabled")
				}
				table.AddRow(j.Name, spec)
			}
			table.Render()
			return nil
		},
	}
}
