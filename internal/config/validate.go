package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Validation bounds.
const (
	maxRetryAttempts  = 100
	minConnectTimeout = 1 * time.Second
	minDataTimeout    = 1 * time.Second
	maxParallel       = 64
	chunkAlignBytes   = 320 * 1024
)

// Validate checks every section and reports all problems at once.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateCredentials(&cfg.Credentials)...)
	errs = append(errs, validateApps(cfg.Apps)...)

	return errors.Join(errs...)
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.MaxAttempts < 1 || r.MaxAttempts > maxRetryAttempts {
		errs = append(errs, fmt.Errorf("retry.max_attempts: must be between 1 and %d, got %d",
			maxRetryAttempts, r.MaxAttempts))
	}

	if r.BaseDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.base_delay: must not be negative, got %s", r.BaseDelay))
	}

	if r.MaxDelay < 0 {
		errs = append(errs, fmt.Errorf("retry.max_delay: must not be negative, got %s", r.MaxDelay))
	}

	if r.MaxDelay > 0 && r.MaxDelay < r.BaseDelay {
		errs = append(errs, fmt.Errorf("retry.max_delay: %s is below base_delay %s", r.MaxDelay, r.BaseDelay))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if n.ConnectTimeout < minConnectTimeout {
		errs = append(errs, fmt.Errorf("network.connect_timeout: must be at least %s, got %s",
			minConnectTimeout, n.ConnectTimeout))
	}

	if n.DataTimeout < minDataTimeout {
		errs = append(errs, fmt.Errorf("network.data_timeout: must be at least %s, got %s",
			minDataTimeout, n.DataTimeout))
	}

	if n.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("network.requests_per_second: must not be negative, got %g",
			n.RequestsPerSecond))
	}

	return errs
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if t.ParallelDownloads < 1 || t.ParallelDownloads > maxParallel {
		errs = append(errs, fmt.Errorf("transfers.parallel_downloads: must be between 1 and %d, got %d",
			maxParallel, t.ParallelDownloads))
	}

	if t.ChunkSize != "" {
		n, err := ParseSize(t.ChunkSize)

		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("transfers.chunk_size: %w", err))
		case n%chunkAlignBytes != 0 || n == 0:
			errs = append(errs, fmt.Errorf("transfers.chunk_size: %s must be a non-zero multiple of 320KiB",
				t.ChunkSize))
		}
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	if _, err := ParseLogLevel(l.LogLevel); err != nil {
		return []error{fmt.Errorf("logging.log_level: %w", err)}
	}

	return nil
}

// ParseLogLevel maps debug, info, warn and error to slog levels.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error; got %q", s)
	}
}

func validateCredentials(c *CredentialsConfig) []error {
	switch c.Backend {
	case BackendFile, BackendSQLite:
		return nil
	default:
		return []error{fmt.Errorf("credentials.backend: must be %q or %q, got %q",
			BackendFile, BackendSQLite, c.Backend)}
	}
}

func validateApps(apps map[string]map[string]AppConfig) []error {
	var errs []error

	for provider, named := range apps {
		for name, app := range named {
			section := "apps." + provider + "." + name

			if app.ClientID == "" && (app.ClientSecret != "" || len(app.Scope) > 0) {
				errs = append(errs, fmt.Errorf("%s: client_secret and scope require client_id", section))
			}

			for _, raw := range []string{app.RedirectURL, app.Endpoint} {
				if raw == "" {
					continue
				}

				if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
					errs = append(errs, fmt.Errorf("%s: %q is not an absolute URL", section, raw))
				}
			}
		}
	}

	return errs
}
