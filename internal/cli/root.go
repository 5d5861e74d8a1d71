// Package cli provides the command-line interface for the radar pipeline.
package cli

import (
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"radar-trader/internal/config"
	"radar-trader/internal/logging"
	"radar-trader/internal/security"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2024-06-01"
)

// skipSetup marks commands that run without loading configuration.
const skipSetup = "skip-setup"

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "radar",
		Short: "Signal radar and paper trading for NSE equities",
		Long: `radar screens NSE equities before the open, watches the day's picks for
opening range breakouts, and paper trades the resulting alerts against
virtual wallets.

Use 'radar schedule run' to run the whole pipeline on its cron schedule, or
the individual commands to run one step.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipSetup] == "true" {
				return nil
			}
			configDir, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				cfg.Log.Level = "debug"
				logging.SetDebugLevel()
			}
			app.Config = cfg
			app.Logger = logging.NewLoggerWithConfig(logConfig(cfg.Log))
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/radar-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addScanCommands(rootCmd, app)
	addEngineCommands(rootCmd, app)
	addMonitorCommands(rootCmd, app)
	addAlertCommands(rootCmd, app)
	addWalletCommands(rootCmd, app)
	addScheduleCommands(rootCmd, app)

	return rootCmd
}

func logConfig(cfg config.LogConfig) logging.LogConfig {
	return logging.LogConfig{
		Level:      cfg.Level,
		Console:    cfg.Console,
		File:       cfg.File,
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
	}
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipSetup: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("radar v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View the configuration the pipeline runs with.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(app.Config)
			}
			showConfig(output, app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := filepath.Join(app.Config.ConfigDir, "config.toml")
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	e := cfg.Engine
	output.Bold("Engine")
	output.Printf("  Wallet:            %s\n", valueOr(e.WalletID, "first active"))
	output.Printf("  Max Positions:     %d\n", e.MaxOpenPositions)
	output.Printf("  Min Available:     %.2f\n", e.MinAvailableBalance)
	output.Printf("  Risk Per Trade:    %.1f%%\n", e.RiskPerTrade*100)
	output.Printf("  Bracket:           %s (+%.1f%% / -%.1f%%)\n", valueOr(e.Bracket, "percent"), e.TargetPercent, e.StopPercent)
	output.Printf("  Time Limit:        %s\n", e.TimeLimit)
	output.Printf("  Poll Interval:     %s\n", e.PollInterval)
	output.Println()

	output.Bold("Scanner")
	output.Printf("  Workers:           %d\n", cfg.Scanner.Workers)
	output.Printf("  Universe:          top %d by volume\n", cfg.Scanner.TopInstruments)
	output.Printf("  Alerts Kept:       %d\n", cfg.Scanner.TopAlerts)
	output.Printf("  ORB:               %d x %s opening candles, volume x%.1f\n", cfg.ORB.OpeningCandles, cfg.ORB.Interval, cfg.ORB.VolumeFactor)
	output.Println()

	output.Bold("Feeds")
	output.Printf("  Kite:              %v\n", cfg.Kite.HasCredentials())
	if cfg.Kite.APIKey != "" {
		output.Printf("  Kite API Key:      %s\n", security.MaskCredential(cfg.Kite.APIKey))
	}
	output.Printf("  Redis:             %v (%s)\n", cfg.Redis.Enabled, cfg.Redis.Addr)
	output.Printf("  Mock Fallback:     %v\n", cfg.Feed.FallbackEnabled)
	output.Printf("  Store:             %s\n", cfg.Store.SQLitePath)
	output.Printf("  Postgres Alerts:   %s\n", valueOr(security.RedactDSN(cfg.Store.PostgresDSN), "disabled"))
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
