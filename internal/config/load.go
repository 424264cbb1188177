package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Load reads, decodes and validates the file at path. Unknown keys are
// errors so that typos do not silently fall back to defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	return parse(string(data), path)
}

// parse decodes data over the defaults. source names it in errors.
func parse(data, source string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", source, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("config: %s: %w", source, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", source, err)
	}

	return cfg, nil
}

// LoadOrDefault is Load, returning the defaults when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// ResolvePath picks the config file: --config, then PCS_CONFIG, then the
// platform default.
func ResolvePath(env EnvOverrides, cli CLIOverrides) string {
	if cli.ConfigPath != "" {
		return cli.ConfigPath
	}

	if env.ConfigPath != "" {
		return env.ConfigPath
	}

	return DefaultConfigPath()
}

// Resolve loads the selected file and applies flag overrides. A missing
// file yields the defaults; an explicitly requested one must exist.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Config, string, error) {
	path := ResolvePath(env, cli)

	load := LoadOrDefault
	if cli.ConfigPath != "" || env.ConfigPath != "" {
		load = Load
	}

	cfg, err := load(path)
	if err != nil {
		return nil, path, err
	}

	if cli.LogLevel != "" {
		cfg.Logging.LogLevel = cli.LogLevel
	}

	if err := Validate(cfg); err != nil {
		return nil, path, fmt.Errorf("config: %w", err)
	}

	return cfg, path, nil
}
