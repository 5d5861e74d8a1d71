package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"radar-trader/internal/models"
	"radar-trader/internal/store"
	"radar-trader/pkg/utils"
)

func addAlertCommands(rootCmd *cobra.Command, app *App) {
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "List and clean up stored alerts",
	}
	alertsCmd.AddCommand(newAlertsListCmd(app))
	alertsCmd.AddCommand(newAlertsCleanupCmd(app))
	rootCmd.AddCommand(alertsCmd)
}

func newAlertsListCmd(app *App) *cobra.Command {
	var (
		status     string
		alertType  string
		strategies []string
		instrument string
		today      bool
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts, newest first",
		Example: `  radar alerts list --status active --today
  radar alerts list --strategy RealTime_ORB --limit 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			filter := models.AlertFilter{
				Status:        models.AlertStatus(strings.ToUpper(status)),
				Type:          models.AlertType(strings.ToUpper(alertType)),
				Strategies:    strategies,
				InstrumentKey: instrument,
				Limit:         limit,
			}
			if today {
				filter.Since = utils.StartOfDay(time.Now())
			}

			alerts, err := app.Alerts().ListAlerts(ctx, filter)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(alerts)
			}
			if len(alerts) == 0 {
				output.Dim("No alerts found.")
				return nil
			}
			printAlertTable(output, alerts)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "ACTIVE, EXPIRED, TRIGGERED or CANCELLED")
	cmd.Flags().StringVar(&alertType, "type", "", "SCREENING or ENTRY")
	cmd.Flags().StringSliceVar(&strategies, "strategy", nil, "only these strategies")
	cmd.Flags().StringVar(&instrument, "instrument", "", "only this instrument key, e.g. NSE:INFY")
	cmd.Flags().BoolVar(&today, "today", false, "only alerts created today")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum alerts to show")
	return cmd
}

func newAlertsCleanupCmd(app *App) *cobra.Command {
	var opts store.CleanupOptions

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Expire stale alerts and delete old expired ones",
		Long: `Marks ACTIVE alerts past their expiry as EXPIRED and deletes EXPIRED
alerts older than the retention window. Without --expire-old or
--delete-expired both steps run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := app.Open(ctx); err != nil {
				return err
			}
			defer app.Close()

			if !opts.ExpireOld && !opts.DeleteExpired {
				opts.ExpireOld, opts.DeleteExpired = true, true
			}
			report, err := store.CleanupAlerts(ctx, app.Alerts(), time.Now(), opts)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(report)
			}
			printCleanup(output, opts, report)
			return nil
		},
	}

	cmd.Flags().BoolVar(&opts.ExpireOld, "expire-old", false, "mark alerts past their expiry as EXPIRED")
	cmd.Flags().BoolVar(&opts.DeleteExpired, "delete-expired", false, "delete EXPIRED alerts older than --retention")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "count what would change without changing it")
	cmd.Flags().DurationVar(&opts.Retention, "retention", store.DefaultRetention, "how long EXPIRED alerts are kept")
	return cmd
}

func printCleanup(output *Output, opts store.CleanupOptions, r *store.CleanupReport) {
	prefix := ""
	if r.DryRun {
		output.Warning("Dry run, nothing changed")
		prefix = "would be "
	}
	if opts.ExpireOld {
		output.Success("%d alerts %sexpired", r.Expired, prefix)
	}
	if opts.DeleteExpired {
		output.Success("%d alerts %sdeleted", r.Deleted, prefix)
	}

	statuses := make([]string, 0, len(r.Counts))
	for s := range r.Counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)

	output.Println()
	table := NewTable(output, "Status", "Alerts")
	for _, s := range statuses {
		table.AddRow(s, fmt.Sprintf("%d", r.Counts[models.AlertStatus(s)]))
	}
	table.Render()
}
