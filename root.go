package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/netheos/pcsgo/internal/config"

	// Providers register themselves with the storage registry.
	_ "github.com/netheos/pcsgo/internal/onedrive"
	_ "github.com/netheos/pcsgo/internal/webdav"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath  string
	flagProvider    string
	flagApp         string
	flagUser        string
	flagJSON        bool
	flagVerbose     bool
	flagQuiet       bool
	flagMetricsFile string
)

// resolvedCfg and resolvedCfgPath hold the configuration loaded by
// PersistentPreRunE for every command outside skipConfigCommands.
var (
	resolvedCfg     *config.Config
	resolvedCfgPath string
)

// skipConfigCommands edit the config file themselves and must work even when
// the current file does not load.
var skipConfigCommands = map[string]bool{
	"pcs config init":    true,
	"pcs config add-app": true,
}

// newRootCmd builds the root command with all subcommands registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pcs",
		Short: "Personal cloud storage CLI",
		Long: `pcs lists, transfers and deletes files on personal cloud storages
(OneDrive, WebDAV servers) through one set of commands.`,
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfigCommands[cmd.CommandPath()] {
				return nil
			}

			return loadConfig()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagConfigPath, "config", "", "config file path")
	pf.StringVarP(&flagProvider, "provider", "p", "", "storage provider (onedrive, webdav); defaults to the only configured one")
	pf.StringVar(&flagApp, "app", "", "application name under [apps.<provider>]; defaults to the only one")
	pf.StringVarP(&flagUser, "user", "u", "", "user id; defaults to the only logged-in user")
	pf.BoolVar(&flagJSON, "json", false, "output in JSON format")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	pf.BoolVarP(&flagQuiet, "quiet", "q", false, "only log errors and hide progress")
	pf.StringVar(&flagMetricsFile, "metrics-file", "", "write Prometheus metrics of the run to this textfile")

	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newQuotaCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig resolves the configuration from --config, PCS_CONFIG and the
// default path, and stores it in resolvedCfg.
func loadConfig() error {
	cfg, path, err := config.Resolve(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: flagConfigPath})
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = cfg
	resolvedCfgPath = path

	return nil
}

// buildLogger creates the stderr logger. The config level is the baseline;
// --verbose and --quiet override it.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if resolvedCfg != nil {
		level = resolvedCfg.LogLevel()
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// exitOnError prints err to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
