package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

const fullConfig = `
[retry]
max_attempts = 7
base_delay = "250ms"
max_delay = "30s"

[network]
connect_timeout = "5s"
data_timeout = "2m"
user_agent = "pcs-test/1.0"
requests_per_second = 2.5

[transfers]
parallel_downloads = 8
chunk_size = "3200KiB"

[logging]
log_level = "debug"

[credentials]
backend = "sqlite"
path = "/var/lib/pcs/creds.db"

[apps.onedrive.myapp]
client_id = "abc"
client_secret = "shh"
scope = ["offline_access", "Files.ReadWrite.All"]
redirect_url = "http://localhost:8080/callback"

[apps.webdav.nextcloud]
endpoint = "https://cloud.example.com/remote.php/dav/files/alice"
`

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, fullConfig))
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 5*time.Second, cfg.Network.ConnectTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Network.DataTimeout)
	assert.Equal(t, "pcs-test/1.0", cfg.Network.UserAgent)
	assert.InDelta(t, 2.5, cfg.Network.RequestsPerSecond, 0.0001)
	assert.Equal(t, 8, cfg.Transfers.ParallelDownloads)
	assert.Equal(t, int64(3200*1024), cfg.ChunkSizeBytes())
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, BackendSQLite, cfg.Credentials.Backend)
	assert.Equal(t, "/var/lib/pcs/creds.db", cfg.CredentialsPath())

	app := cfg.Apps["onedrive"]["myapp"]
	assert.Equal(t, "abc", app.ClientID)
	assert.Equal(t, "shh", app.ClientSecret)
	assert.Equal(t, []string{"offline_access", "Files.ReadWrite.All"}, app.Scope)
	assert.Equal(t, "http://localhost:8080/callback", app.RedirectURL)
	assert.Equal(t, "https://cloud.example.com/remote.php/dav/files/alice", cfg.Apps["webdav"]["nextcloud"].Endpoint)
}

func TestLoad_PartialKeepsDefaults(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, "[retry]\nmax_attempts = 2\n"))
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, "info", cfg.Logging.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[retry\n", "parsing"},
		{"bad duration", "[retry]\nbase_delay = \"soon\"\n", "parsing"},
		{"attempts", "[retry]\nmax_attempts = 0\n", "retry.max_attempts"},
		{"max below base", "[retry]\nbase_delay = \"10s\"\nmax_delay = \"1s\"\n", "retry.max_delay"},
		{"timeout", "[network]\nconnect_timeout = \"10ms\"\n", "network.connect_timeout"},
		{"rps", "[network]\nrequests_per_second = -1\n", "requests_per_second"},
		{"parallel", "[transfers]\nparallel_downloads = 0\n", "parallel_downloads"},
		{"chunk alignment", "[transfers]\nchunk_size = \"1MB\"\n", "320KiB"},
		{"chunk syntax", "[transfers]\nchunk_size = \"lots\"\n", "chunk_size"},
		{"log level", "[logging]\nlog_level = \"chatty\"\n", "logging.log_level"},
		{"backend", "[credentials]\nbackend = \"redis\"\n", "credentials.backend"},
		{"secret without id", "[apps.onedrive.x]\nclient_secret = \"s\"\n", "require client_id"},
		{"relative endpoint", "[apps.webdav.x]\nendpoint = \"/dav\"\n", "not an absolute URL"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTestConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_ReportsAllErrors(t *testing.T) {
	_, err := Load(writeTestConfig(t, "[retry]\nmax_attempts = 0\n[logging]\nlog_level = \"x\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_attempts")
	assert.Contains(t, err.Error(), "log_level")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestResolvePath_Precedence(t *testing.T) {
	assert.Equal(t, DefaultConfigPath(), ResolvePath(EnvOverrides{}, CLIOverrides{}))
	assert.Equal(t, "/env.toml", ResolvePath(EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{}))
	assert.Equal(t, "/cli.toml", ResolvePath(
		EnvOverrides{ConfigPath: "/env.toml"}, CLIOverrides{ConfigPath: "/cli.toml"}))
}

func TestResolve(t *testing.T) {
	path := writeTestConfig(t, "[logging]\nlog_level = \"warn\"\n")

	cfg, got, err := Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, path, got)
	assert.Equal(t, "warn", cfg.Logging.LogLevel)

	cfg, _, err = Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{LogLevel: "debug"})
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)

	_, _, err = Resolve(EnvOverrides{ConfigPath: path}, CLIOverrides{LogLevel: "shout"})
	assert.Error(t, err)

	_, _, err = Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "missing.toml")})
	assert.Error(t, err, "an explicitly requested file must exist")
}
