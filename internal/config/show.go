package config

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// RenderEffective writes the effective configuration loaded from path.
// Client secrets are masked.
func RenderEffective(cfg *Config, path string, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", path)

	ew.printf("[retry]\n")
	ew.printf("  max_attempts = %d\n", cfg.Retry.MaxAttempts)
	ew.printf("  base_delay   = %q\n", cfg.Retry.BaseDelay)
	ew.printf("  max_delay    = %q\n\n", cfg.Retry.MaxDelay)

	ew.printf("[network]\n")
	ew.printf("  connect_timeout     = %q\n", cfg.Network.ConnectTimeout)
	ew.printf("  data_timeout        = %q\n", cfg.Network.DataTimeout)
	ew.printf("  user_agent          = %q\n", cfg.Network.UserAgent)
	ew.printf("  requests_per_second = %g\n\n", cfg.Network.RequestsPerSecond)

	ew.printf("[transfers]\n")
	ew.printf("  parallel_downloads = %d\n", cfg.Transfers.ParallelDownloads)

	if cfg.Transfers.ChunkSize != "" {
		ew.printf("  chunk_size         = %q\n", cfg.Transfers.ChunkSize)
	}

	ew.printf("\n[logging]\n")
	ew.printf("  log_level = %q\n\n", cfg.Logging.LogLevel)

	ew.printf("[credentials]\n")
	ew.printf("  backend = %q\n", cfg.Credentials.Backend)
	ew.printf("  path    = %q\n", cfg.CredentialsPath())

	renderApps(ew, cfg.Apps)

	return ew.err
}

func renderApps(ew *errWriter, apps map[string]map[string]AppConfig) {
	providers := make([]string, 0, len(apps))
	for p := range apps {
		providers = append(providers, p)
	}

	sort.Strings(providers)

	for _, provider := range providers {
		names := make([]string, 0, len(apps[provider]))
		for n := range apps[provider] {
			names = append(names, n)
		}

		sort.Strings(names)

		for _, name := range names {
			a := apps[provider][name]

			ew.printf("\n[apps.%s.%s]\n", provider, name)

			if a.ClientID != "" {
				ew.printf("  client_id     = %q\n", a.ClientID)
			}

			if a.ClientSecret != "" {
				ew.printf("  client_secret = \"********\"\n")
			}

			if len(a.Scope) > 0 {
				ew.printf("  scope         = [%s]\n", joinQuoted(a.Scope))
			}

			if a.RedirectURL != "" {
				ew.printf("  redirect_url  = %q\n", a.RedirectURL)
			}

			if a.Endpoint != "" {
				ew.printf("  endpoint      = %q\n", a.Endpoint)
			}
		}
	}
}

// errWriter keeps the first write error so printf calls can be chained.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func joinQuoted(items []string) string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = fmt.Sprintf("%q", item)
	}

	return strings.Join(quoted, ", ")
}
