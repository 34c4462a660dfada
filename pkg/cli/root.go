// Package cli implements the labelsync command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"labelsync/internal/config"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, map[string]any{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	envFile     string
	profile     string
	output      string
	logLevel    string
	platformURL string
	apiKey      string
	ledger      string
}

// flagEnv maps persistent flags onto the environment variables they override.
var flagEnv = map[string]string{
	"platform-url": "PLATFORM_URL",
	"api-key":      "PLATFORM_API_KEY",
	"ledger":       "LEDGER_DB_PATH",
	"log-level":    "LOG_LEVEL",
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "labelsync",
		Short:         "Upload tabular datasets to the annotation platform",
		Long:          "Turns tables (CSV, Excel, Parquet, JSON, SQL) into platform records, batches, labels and predictions.",
		SilenceUsage:  true,
		SilenceErrors: true,
		// Precedence: flag > env > .env file > profile > default.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(opts.envFile); err != nil {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}

			var p Profile
			if cfg, err := LoadUserConfig(); err == nil {
				if p, err = cfg.ActiveProfile(opts.profile); err != nil {
					return err
				}
			} else if opts.profile != "" {
				return fmt.Errorf("profile %q requested: %w", opts.profile, err)
			}
			for key, val := range p.env() {
				if val != "" && os.Getenv(key) == "" {
					_ = os.Setenv(key, val)
				}
			}
			for flag, key := range flagEnv {
				if cmd.Flags().Changed(flag) {
					v, _ := cmd.Flags().GetString(flag)
					_ = os.Setenv(key, v)
				}
			}
			if !cmd.Flags().Changed("output") && p.Output != "" {
				opts.output = p.Output
				_ = cmd.Root().PersistentFlags().Set("output", p.Output)
			}
			return validateOutputFormat(opts.output)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.envFile, "env-file", ".env", "Dotenv file loaded before the environment is read")
	pf.StringVarP(&opts.profile, "profile", "p", "", "Config profile to use")
	pf.StringVarP(&opts.output, "output", "o", "table", "Output format (table, json)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&opts.platformURL, "platform-url", "", "Platform API base URL")
	pf.StringVar(&opts.apiKey, "api-key", "", "Platform API key")
	pf.StringVar(&opts.ledger, "ledger", "", "Path to the SQLite run ledger")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newUploadCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newRunsCmd())
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

// loadConfig reads the resolved environment and builds the logger.
func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	return cfg, logger, nil
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
