// Package config loads the pcs TOML configuration: retry and network
// tuning, logging, the credentials store backend, and the registered
// applications that providers authenticate as. Resolution order for the
// file itself is --config, then PCS_CONFIG, then the platform default.
package config

import (
	"log/slog"
	"time"

	"github.com/netheos/pcsgo/internal/retry"
)

// Config is the parsed configuration file.
type Config struct {
	Retry       RetryConfig                     `toml:"retry"`
	Network     NetworkConfig                   `toml:"network"`
	Transfers   TransfersConfig                 `toml:"transfers"`
	Logging     LoggingConfig                   `toml:"logging"`
	Credentials CredentialsConfig               `toml:"credentials"`
	Apps        map[string]map[string]AppConfig `toml:"apps"`
}

// RetryConfig tunes the retry strategy shared by all requests.
type RetryConfig struct {
	MaxAttempts int           `toml:"max_attempts"`
	BaseDelay   time.Duration `toml:"base_delay"`
	// MaxDelay caps computed backoff. Zero disables the cap.
	MaxDelay time.Duration `toml:"max_delay"`
}

// NetworkConfig controls the HTTP client.
type NetworkConfig struct {
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	DataTimeout    time.Duration `toml:"data_timeout"`
	UserAgent      string        `toml:"user_agent"`
	// RequestsPerSecond paces requests per provider. Zero is unlimited.
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// TransfersConfig controls the CLI transfer commands.
type TransfersConfig struct {
	ParallelDownloads int `toml:"parallel_downloads"`
	// ChunkSize is the OneDrive upload session chunk size, e.g. "10MiB".
	// Empty selects the provider default.
	ChunkSize string `toml:"chunk_size"`
}

// LoggingConfig sets the log level: debug, info, warn or error.
type LoggingConfig struct {
	LogLevel string `toml:"log_level"`
}

// CredentialsConfig selects where user credentials are persisted.
type CredentialsConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `toml:"backend"`
	// Path defaults to a file under the platform data directory.
	Path string `toml:"path"`
}

// AppConfig is one [apps.<provider>.<name>] table.
type AppConfig struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	Scope        []string `toml:"scope"`
	RedirectURL  string   `toml:"redirect_url"`
	Endpoint     string   `toml:"endpoint"`
}

// CLIOverrides holds flag values that take precedence over the file.
// Empty strings mean "not specified".
type CLIOverrides struct {
	ConfigPath string
	LogLevel   string
}

// RetryStrategyConfig converts the [retry] section.
func (c *Config) RetryStrategyConfig() retry.Config {
	return retry.Config{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   c.Retry.BaseDelay,
		MaxDelay:    c.Retry.MaxDelay,
	}
}

// ChunkSizeBytes returns the upload chunk size, 0 for the provider default.
// The value was checked by Validate.
func (c *Config) ChunkSizeBytes() int64 {
	n, _ := ParseSize(c.Transfers.ChunkSize)
	return n
}

// LogLevel returns the configured level, info when invalid.
func (c *Config) LogLevel() slog.Level {
	l, err := ParseLogLevel(c.Logging.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}

	return l
}
