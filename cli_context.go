package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"

	"github.com/netheos/pcsgo/internal/config"
	"github.com/netheos/pcsgo/internal/credentials"
	"github.com/netheos/pcsgo/internal/metrics"
	"github.com/netheos/pcsgo/internal/retry"
	"github.com/netheos/pcsgo/internal/session"
	"github.com/netheos/pcsgo/internal/storage"
)

// CLIContext carries what storage commands share: the effective config, the
// logger, the credentials store and the selected provider. Close must be
// called when the command is done.
type CLIContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Provider string
	Store    credentials.Store
	// Metrics is nil unless --metrics-file is set.
	Metrics *metrics.Metrics

	stopWatch func()
}

// newCLIContext opens the credentials store of the resolved config and
// selects the provider.
func newCLIContext(ctx context.Context) (*CLIContext, error) {
	if resolvedCfg == nil {
		return nil, errors.New("no configuration loaded")
	}

	logger := buildLogger()

	provider, err := selectProvider(resolvedCfg, flagProvider)
	if err != nil {
		return nil, err
	}

	store, err := openStore(ctx, resolvedCfg, logger)
	if err != nil {
		return nil, err
	}

	cc := &CLIContext{
		Cfg:       resolvedCfg,
		Logger:    logger,
		Provider:  provider,
		Store:     store,
		stopWatch: func() {},
	}

	if flagMetricsFile != "" {
		cc.Metrics = metrics.New(provider)
	}

	if fs, ok := store.(*credentials.FileStore); ok {
		// Token refreshes by a concurrent pcs process rewrite the file; reload
		// it so our own writes do not drop them.
		watchCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})

		cc.stopWatch = func() {
			cancel()
			<-done
		}

		go func() {
			defer close(done)

			if err := fs.Watch(watchCtx, nil); err != nil {
				logger.Warn("not watching credentials file", slog.String("error", err.Error()))
			}
		}()
	}

	return cc, nil
}

// selectProvider returns the --provider value, or the only provider with a
// configured application.
func selectProvider(cfg *config.Config, flag string) (string, error) {
	if flag != "" {
		if !slices.Contains(storage.ProviderNames(), flag) {
			return "", fmt.Errorf("unknown provider %q (available: %s)", flag, strings.Join(storage.ProviderNames(), ", "))
		}

		return flag, nil
	}

	var configured []string

	for provider, apps := range cfg.Apps {
		if len(apps) > 0 {
			configured = append(configured, provider)
		}
	}

	slices.Sort(configured)

	switch len(configured) {
	case 0:
		return "", errors.New("no application configured, add one with 'pcs config add-app'")
	case 1:
		return configured[0], nil
	default:
		return "", fmt.Errorf("several providers configured (%s), select one with --provider",
			strings.Join(configured, ", "))
	}
}

// openStore opens the configured credentials backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (credentials.Store, error) {
	path := cfg.CredentialsPath()

	if cfg.Credentials.Backend == config.BackendSQLite {
		store, err := credentials.NewSQLiteStore(ctx, path, logger)
		if err != nil {
			return nil, err
		}

		return store, nil
	}

	store, err := credentials.NewFileStore(path, logger)
	if err != nil {
		return nil, err
	}

	return store, nil
}

// Builder returns a storage builder wired from the config: retry policy,
// HTTP timeouts, rate limit, user agent, chunk size and metrics hooks.
func (cc *CLIContext) Builder() (*storage.Builder, error) {
	b, err := storage.NewBuilder(cc.Provider)
	if err != nil {
		return nil, err
	}

	cfg := cc.Cfg

	strategy := retry.New(cfg.RetryStrategyConfig(), cc.Logger)

	if cc.Metrics != nil {
		strategy.SetObserver(cc.Metrics)
		b.SetRefreshHook(cc.Metrics.OnRefresh)
	}

	b.SetAppRepository(cfg.AppRepository(), flagApp).
		SetCredentialsStore(cc.Store, flagUser).
		SetRetryStrategy(strategy).
		SetHTTPClient(storage.NewHTTPClient(cfg.Network.ConnectTimeout, cfg.Network.DataTimeout)).
		SetUserAgent(cfg.Network.UserAgent).
		SetChunkSize(cfg.ChunkSizeBytes()).
		SetLogger(cc.Logger)

	if limiter := session.NewLimiter(cfg.Network.RequestsPerSecond); limiter != nil {
		b.SetLimiter(limiter)
	}

	return b, nil
}

// App returns the selected application.
func (cc *CLIContext) App() (credentials.AppInfo, error) {
	return cc.Cfg.AppRepository().Get(cc.Provider, flagApp)
}

// OpenProvider builds the provider for the logged-in user.
func (cc *CLIContext) OpenProvider(ctx context.Context) (storage.Provider, error) {
	b, err := cc.Builder()
	if err != nil {
		return nil, err
	}

	p, err := b.Build(ctx)
	if errors.Is(err, credentials.ErrNoCredentials) {
		return nil, fmt.Errorf("not logged in, run 'pcs login' first: %w", err)
	}

	return p, err
}

// Close stops the credentials watcher, writes the metrics file and closes
// the store.
func (cc *CLIContext) Close() error {
	cc.stopWatch()

	var errs []error

	if cc.Metrics != nil {
		errs = append(errs, cc.Metrics.WriteToTextfile(flagMetricsFile))
	}

	if c, ok := cc.Store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}

	return errors.Join(errs...)
}

// withProvider runs fn with an open provider and closes everything after.
// A close failure is logged, not returned, so fn's error wins.
func withProvider(ctx context.Context, fn func(cc *CLIContext, p storage.Provider) error) error {
	cc, err := newCLIContext(ctx)
	if err != nil {
		return err
	}

	defer cc.closeAndLog()

	p, err := cc.OpenProvider(ctx)
	if err != nil {
		return err
	}

	defer p.Close()

	return fn(cc, p)
}

func (cc *CLIContext) closeAndLog() {
	if err := cc.Close(); err != nil {
		cc.Logger.Warn("closing", slog.String("error", err.Error()))
	}
}
