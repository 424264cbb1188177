package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/netheos/pcsgo/internal/credentials"
	"github.com/netheos/pcsgo/internal/session"
	"github.com/netheos/pcsgo/internal/storage"
	"github.com/netheos/pcsgo/internal/webdav"
)

// bootstrapProvider is implemented by providers authenticating with OAuth2.
type bootstrapProvider interface {
	Bootstrapper() (*session.Bootstrapper, error)
}

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate a user and save the credentials",
		Long: `Authenticate a user of the selected provider and application.

OAuth2 providers (onedrive) print an authorization URL and wait for the
browser to be redirected to a local port. With --no-browser, open the URL
anywhere and paste the URL the browser was redirected to.

Password providers (webdav) take the login from --user and read the
password from the terminal, or from the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}

	cmd.Flags().Bool("no-browser", false, "paste the redirect URL instead of running a local callback server")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved credentials",
		Args:  cobra.NoArgs,
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated user",
		Args:  cobra.NoArgs,
		RunE:  runWhoami,
	}
}

func runLogin(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cc, err := newCLIContext(ctx)
	if err != nil {
		return err
	}

	defer cc.closeAndLog()

	app, err := cc.App()
	if err != nil {
		return err
	}

	cc.Logger.Info("login started", "app", app.Key())

	var uc *credentials.UserCredentials

	if app.IsOAuth2() {
		noBrowser, flagErr := cmd.Flags().GetBool("no-browser")
		if flagErr != nil {
			return flagErr
		}

		uc, err = loginOAuth2(ctx, cc, cmd, noBrowser)
	} else {
		uc, err = loginPassword(ctx, cc, cmd, app)
	}

	if err != nil {
		return err
	}

	cc.Logger.Info("login successful", "app", app.Key(), "user", uc.UserID)
	statusf("Logged in as %s.\n", uc.UserID)

	return nil
}

func loginOAuth2(ctx context.Context, cc *CLIContext, cmd *cobra.Command, noBrowser bool) (*credentials.UserCredentials, error) {
	b, err := cc.Builder()
	if err != nil {
		return nil, err
	}

	sp, err := b.SetForBootstrapping(true).Build(ctx)
	if err != nil {
		return nil, err
	}

	defer sp.Close()

	bp, ok := sp.(bootstrapProvider)
	if !ok {
		return nil, fmt.Errorf("provider %s does not support OAuth2 login", sp.Name())
	}

	boot, err := bp.Bootstrapper()
	if err != nil {
		return nil, err
	}

	stderr := cmd.ErrOrStderr()

	if !noBrowser {
		// The authorization prompt is shown even with --quiet.
		return boot.LoginWithBrowser(ctx, func(url string) error {
			fmt.Fprintf(stderr, "To sign in, visit:\n\n  %s\n\n", url)
			return nil
		})
	}

	url, err := boot.AuthorizeURL()
	if err != nil {
		return nil, err
	}

	fmt.Fprintf(stderr, "To sign in, visit:\n\n  %s\n\nthen paste the URL your browser was redirected to: ", url)

	redirect, err := readLine(cmd.InOrStdin())
	if err != nil {
		return nil, err
	}

	return boot.Exchange(ctx, redirect)
}

// loginPassword checks the password against the server before saving it.
func loginPassword(
	ctx context.Context, cc *CLIContext, cmd *cobra.Command, app credentials.AppInfo,
) (*credentials.UserCredentials, error) {
	if cc.Provider != webdav.ProviderName {
		return nil, fmt.Errorf("provider %s has no password login", cc.Provider)
	}

	if flagUser == "" {
		return nil, errors.New("--user is required for a password login")
	}

	password, err := readPassword(cmd, flagUser)
	if err != nil {
		return nil, err
	}

	uc := &credentials.UserCredentials{
		App:         app,
		UserID:      flagUser,
		Credentials: &credentials.PasswordCredentials{Password: password},
	}

	b, err := cc.Builder()
	if err != nil {
		return nil, err
	}

	mgr, err := session.NewPasswordManager(uc, b.SessionOptions())
	if err != nil {
		return nil, err
	}

	p, err := webdav.New(webdav.Options{
		Endpoint: app.Endpoint,
		Session:  mgr,
		Login:    flagUser,
		Retry:    b.RetryStrategy(),
		Logger:   cc.Logger,
	})
	if err != nil {
		return nil, err
	}

	defer p.Close()

	if _, err := p.ListRootFolder(ctx); err != nil {
		return nil, fmt.Errorf("checking credentials: %w", err)
	}

	if err := cc.Store.Save(ctx, uc); err != nil {
		return nil, fmt.Errorf("saving credentials: %w", err)
	}

	return uc, nil
}

// readPassword reads without echo from a terminal, else the first line of
// the command input.
func readPassword(cmd *cobra.Command, login string) (string, error) {
	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(cmd.ErrOrStderr(), "Password for %s: ", login)

		pw, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())

		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return string(pw), nil
	}

	return readLine(cmd.InOrStdin())
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading input: %w", err)
	}

	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("no input")
	}

	return line, nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cc, err := newCLIContext(ctx)
	if err != nil {
		return err
	}

	defer cc.closeAndLog()

	app, err := cc.App()
	if err != nil {
		return err
	}

	userID := flagUser
	if userID == "" {
		uc, err := cc.Store.Get(ctx, app, "")
		if err != nil {
			return err
		}

		userID = uc.UserID
	}

	deleted, err := cc.Store.Delete(ctx, app, userID)
	if err != nil {
		return fmt.Errorf("removing credentials: %w", err)
	}

	if !deleted {
		statusf("No credentials saved for %s.\n", userID)
		return nil
	}

	cc.Logger.Info("logout successful", "app", app.Key(), "user", userID)
	statusf("Logged out %s.\n", userID)

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	Provider string `json:"provider"`
	App      string `json:"app"`
	User     string `json:"user"`
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	return withProvider(ctx, func(cc *CLIContext, p storage.Provider) error {
		app, err := cc.App()
		if err != nil {
			return err
		}

		user, err := p.UserID(ctx)
		if err != nil {
			return fmt.Errorf("reading user id: %w", err)
		}

		out := whoamiOutput{Provider: p.Name(), App: app.Name, User: user}

		if flagJSON {
			return printJSON(cmd.OutOrStdout(), out)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "User:     %s\nProvider: %s\nApp:      %s\n", out.User, out.Provider, out.App)

		return nil
	})
}
