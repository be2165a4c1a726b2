package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quicktrade/internal/config"
	"quicktrade/internal/logging"
)

// Version information
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// annotation marking commands that run without loading the app.
const skipApp = "skip-app"

// Options are the global flags that shape app construction.
type Options struct {
	ConfigDir string
	Debug     bool
}

// AppFactory builds the App for a command invocation.
type AppFactory func(ctx context.Context, opts Options) (*App, error)

// DefaultAppFactory loads the configuration from disk and wires the
// production app.
func DefaultAppFactory(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigDir)
	if err != nil {
		return nil, err
	}
	if opts.Debug {
		cfg.Log.Level = "debug"
	}
	logger := logging.NewLoggerWithConfig(cfg.Log)
	return NewApp(ctx, cfg, logger)
}

// cliState carries the lazily built app between cobra hooks and commands.
type cliState struct {
	factory AppFactory
	app     *App
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(factory AppFactory) *cobra.Command {
	if factory == nil {
		factory = DefaultAppFactory
	}
	rt := &cliState{factory: factory}

	rootCmd := &cobra.Command{
		Use:   "quicktrade",
		Short: "QuickTrade - one-tap index option trading",
		Long: `QuickTrade buys at-the-money NIFTY and BANKNIFTY options in one step.

It reads the index price and the expiry calendar from Fyers, composes the
option symbol and places the order on Zerodha Kite Connect, or simulates
it in paper mode. Run 'quicktrade serve' for the HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations[skipApp] == "true" || rt.app != nil {
				return nil
			}
			opts := Options{}
			opts.ConfigDir, _ = cmd.Flags().GetString("config")
			opts.Debug, _ = cmd.Flags().GetBool("debug")

			app, err := rt.factory(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if opts.Debug {
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			rt.app = app
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if rt.app == nil {
				return nil
			}
			err := rt.app.Close()
			rt.app = nil
			return err
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/quicktrade)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, rt)
	addAuthCommands(rootCmd, rt)
	addMarketCommands(rootCmd, rt)
	addTradeCommands(rootCmd, rt)
	addServeCommand(rootCmd, rt)

	return rootCmd
}

// addCoreCommands adds version, config and backup.
func addCoreCommands(rootCmd *cobra.Command, rt *cliState) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(rt))
	rootCmd.AddCommand(newBackupCmd(rt))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("QuickTrade v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the configuration in config.toml and credentials.toml.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(rt.app.Config)
			}
			showConfig(output, rt.app.Config)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:         "path",
		Short:       "Show configuration directory path",
		Annotations: map[string]string{skipApp: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("config")
			if dir == "" {
				dir = config.DefaultConfigDir()
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": dir})
			}
			output.Println(dir)
			return nil
		},
	})

	// Loading already validates, so reaching RunE means the files are good.
	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := rt.app.Config.Validate(); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Trading")
	output.Printf("  Mode:        %s\n", cfg.Trading.Mode)
	output.Printf("  Product:     %s\n", cfg.Trading.Product)
	output.Printf("  Exchange:    %s\n", cfg.Trading.Exchange)
	output.Printf("  Order type:  %s\n", cfg.Trading.OrderType)
	output.Println()

	output.Bold("Bracket")
	output.Printf("  Stop loss:   %.1f%%\n", cfg.Bracket.StopLossPercent)
	output.Printf("  Target:      %.1f%%\n", cfg.Bracket.TargetPercent)
	output.Println()

	output.Bold("Server")
	output.Printf("  Address:     %s\n", cfg.Server.Addr)
	output.Printf("  Base URL:    %s\n", cfg.Server.BaseURL)
	output.Println()

	output.Bold("Expiry")
	output.Printf("  Timeout:     %s\n", cfg.Expiry.FetchTimeout)
	output.Printf("  Warm-up:     %s\n", cfg.Expiry.WarmupSchedule)
	output.Printf("  Sweep:       %s\n", cfg.Expiry.SweepSchedule)
	output.Println()

	output.Bold("Storage")
	output.Printf("  Database:    %s\n", cfg.Storage.DBPath)
	output.Printf("  Backups:     %s\n", cfg.Storage.BackupDir)
	output.Println()

	output.Bold("Credentials")
	output.Printf("  Zerodha:     %s\n", configured(cfg.Credentials.Zerodha.APIKey != ""))
	output.Printf("  Fyers:       %s\n", configured(cfg.Credentials.Fyers.ClientID != ""))
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func newBackupCmd(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Write a JSON snapshot of sessions, trades and expiry refreshes",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			dir, _ := cmd.Flags().GetString("dir")
			if dir == "" {
				dir = rt.app.Config.Storage.BackupDir
			}

			ctx, cancel := commandContext(cmd.Context(), rt.app)
			defer cancel()
			path, err := rt.app.Store.Backup(ctx, dir)
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Success("Backup written to %s", path)
			return nil
		},
	}
	cmd.Flags().String("dir", "", "backup directory (default: storage.backup_dir)")
	return cmd
}
