package main

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/netheos/pcsgo/internal/config"
	"github.com/netheos/pcsgo/internal/storage"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigAddAppCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration file unless one exists",
		Args:  cobra.NoArgs,
		RunE:  runConfigInit,
	}
}

func newConfigAddAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-app <provider> <name>",
		Short: "Add an application to the configuration file",
		Long: `Add an [apps.<provider>.<name>] table to the configuration file.
OAuth2 providers need --client-id; WebDAV needs --endpoint.`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigAddApp,
	}

	f := cmd.Flags()
	f.String("client-id", "", "OAuth2 client id")
	f.String("client-secret", "", "OAuth2 client secret")
	f.StringSlice("scope", nil, "OAuth2 scopes (repeat or comma separate)")
	f.String("redirect-url", "", "OAuth2 redirect URL")
	f.String("endpoint", "", "API endpoint or WebDAV root collection URL")

	return cmd
}

// configJSON is the JSON output of config show. Secrets are masked.
type configJSON struct {
	Path   string         `json:"path"`
	Config *config.Config `json:"config"`
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return errors.New("no configuration loaded")
	}

	if flagJSON {
		masked := *resolvedCfg
		masked.Apps = maskSecrets(resolvedCfg.Apps)

		return printJSON(cmd.OutOrStdout(), configJSON{Path: resolvedCfgPath, Config: &masked})
	}

	return config.RenderEffective(resolvedCfg, resolvedCfgPath, cmd.OutOrStdout())
}

func maskSecrets(apps map[string]map[string]config.AppConfig) map[string]map[string]config.AppConfig {
	out := make(map[string]map[string]config.AppConfig, len(apps))

	for provider, named := range apps {
		out[provider] = make(map[string]config.AppConfig, len(named))

		for name, app := range named {
			if app.ClientSecret != "" {
				app.ClientSecret = "********"
			}

			out[provider][name] = app
		}
	}

	return out
}

func configPath() string {
	return config.ResolvePath(config.ReadEnvOverrides(), config.CLIOverrides{ConfigPath: flagConfigPath})
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	path := configPath()

	created, err := config.CreateDefault(path)
	if err != nil {
		return err
	}

	if created {
		statusf("Created %s\n", path)
	} else {
		statusf("Config file %s already exists\n", path)
	}

	return nil
}

func runConfigAddApp(cmd *cobra.Command, args []string) error {
	provider, name := args[0], args[1]

	if !slices.Contains(storage.ProviderNames(), provider) {
		return fmt.Errorf("unknown provider %q (available: %s)", provider, strings.Join(storage.ProviderNames(), ", "))
	}

	f := cmd.Flags()

	var (
		app config.AppConfig
		err error
	)

	if app.ClientID, err = f.GetString("client-id"); err != nil {
		return err
	}

	if app.ClientSecret, err = f.GetString("client-secret"); err != nil {
		return err
	}

	if app.Scope, err = f.GetStringSlice("scope"); err != nil {
		return err
	}

	if app.RedirectURL, err = f.GetString("redirect-url"); err != nil {
		return err
	}

	if app.Endpoint, err = f.GetString("endpoint"); err != nil {
		return err
	}

	path := configPath()

	if err := config.AddApp(path, provider, name, app); err != nil {
		return err
	}

	statusf("Added [apps.%s.%s] to %s\n", provider, name, path)

	return nil
}
