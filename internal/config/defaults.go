package config

import (
	"time"

	"github.com/netheos/pcsgo/internal/retry"
)

// Default values for settings absent from the file.
const (
	defaultConnectTimeout    = 15 * time.Second
	defaultDataTimeout       = 60 * time.Second
	defaultUserAgent         = "pcs/0.1"
	defaultParallelDownloads = 4
	defaultLogLevel          = "info"
	BackendFile              = "file"
	BackendSQLite            = "sqlite"
)

// DefaultConfig returns a Config holding every default. TOML decoding
// starts from it so unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Retry: RetryConfig{
			MaxAttempts: retry.DefaultMaxAttempts,
			BaseDelay:   retry.DefaultBaseDelay,
			MaxDelay:    retry.DefaultMaxDelay,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
			UserAgent:      defaultUserAgent,
		},
		Transfers: TransfersConfig{
			ParallelDownloads: defaultParallelDownloads,
		},
		Logging:     LoggingConfig{LogLevel: defaultLogLevel},
		Credentials: CredentialsConfig{Backend: BackendFile},
		Apps:        make(map[string]map[string]AppConfig),
	}
}
