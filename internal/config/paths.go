package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	platformLinux  = "linux"
	platformDarwin = "darwin"
)

// appName is the directory name under the platform config and data roots.
const appName = "pcs"

const (
	configFileName      = "config.toml"
	credentialsFileName = "credentials.json"
	credentialsDBName   = "credentials.db"
)

// DefaultConfigDir returns the platform config directory: XDG_CONFIG_HOME
// (or ~/.config) on Linux, Application Support on macOS.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".config", appName)
	}
}

// DefaultDataDir returns the platform data directory: XDG_DATA_HOME (or
// ~/.local/share) on Linux. macOS keeps config and data together.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	switch runtime.GOOS {
	case platformLinux:
		return xdgDir("XDG_DATA_HOME", filepath.Join(home, ".local", "share"))
	case platformDarwin:
		return filepath.Join(home, "Library", "Application Support", appName)
	default:
		return filepath.Join(home, ".local", "share", appName)
	}
}

func xdgDir(env, fallback string) string {
	if v := os.Getenv(env); v != "" {
		return filepath.Join(v, appName)
	}

	return filepath.Join(fallback, appName)
}

// DefaultConfigPath returns the config file used when neither --config nor
// PCS_CONFIG is set.
func DefaultConfigPath() string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, configFileName)
}

// CredentialsPath returns the configured credentials location, or the
// backend's default file under the data directory.
func (c *Config) CredentialsPath() string {
	if c.Credentials.Path != "" {
		return c.Credentials.Path
	}

	name := credentialsFileName
	if c.Credentials.Backend == BackendSQLite {
		name = credentialsDBName
	}

	return filepath.Join(DefaultDataDir(), name)
}
