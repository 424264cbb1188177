package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const (
	configFilePermissions = 0o600
	configDirPermissions  = 0o700
)

// configTemplate is written by CreateDefault. Every setting is present as a
// commented default.
const configTemplate = `# pcs configuration

# [retry]
# max_attempts = 5
# base_delay = "1s"
# max_delay = "5m"

# [network]
# connect_timeout = "15s"
# data_timeout = "60s"
# user_agent = "pcs/0.1"
# requests_per_second = 0

# [transfers]
# parallel_downloads = 4
# chunk_size = "10MiB"

# [logging]
# log_level = "info"

# [credentials]
# backend = "file"   # or "sqlite"
# path = ""

# Applications, one table per provider and name:
#
# [apps.onedrive.myapp]
# client_id = "..."
# scope = ["offline_access", "Files.ReadWrite.All", "User.Read"]
# redirect_url = "http://localhost"
#
# [apps.webdav.nextcloud]
# endpoint = "https://cloud.example.com/remote.php/dav/files/alice"
`

// ErrAppExists is returned by AddApp for an already configured name.
var ErrAppExists = errors.New("config: application already configured")

// CreateDefault writes the commented template to path unless a file is
// already there. It reports whether a file was created.
func CreateDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	if err := atomicWriteFile(path, []byte(configTemplate)); err != nil {
		return false, err
	}

	slog.Info("created config file", slog.String("path", path))

	return true, nil
}

// AddApp appends an [apps.<provider>.<name>] table to the file at path,
// creating the file from the template when missing. The file is only
// replaced when the result still loads.
func AddApp(path, provider, name string, app AppConfig) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data = []byte(configTemplate)
	} else if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	content := string(data)

	current, err := parse(content, path)
	if err != nil {
		return err
	}

	if _, ok := current.Apps[provider][name]; ok {
		return fmt.Errorf("%w: [apps.%s.%s]", ErrAppExists, provider, name)
	}

	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	content += appSection(provider, name, app)

	if _, err := parse(content, path); err != nil {
		return err
	}

	return atomicWriteFile(path, []byte(content))
}

func appSection(provider, name string, app AppConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n[apps.%s.%s]\n", provider, name)

	if app.ClientID != "" {
		fmt.Fprintf(&b, "client_id = %q\n", app.ClientID)
	}

	if app.ClientSecret != "" {
		fmt.Fprintf(&b, "client_secret = %q\n", app.ClientSecret)
	}

	if len(app.Scope) > 0 {
		fmt.Fprintf(&b, "scope = [%s]\n", joinQuoted(app.Scope))
	}

	if app.RedirectURL != "" {
		fmt.Fprintf(&b, "redirect_url = %q\n", app.RedirectURL)
	}

	if app.Endpoint != "" {
		fmt.Fprintf(&b, "endpoint = %q\n", app.Endpoint)
	}

	return b.String()
}

// atomicWriteFile writes data next to path and renames it into place, so a
// crash never leaves a truncated config. Parent directories are created.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("config: creating directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("config: writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("config: setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("config: renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
