package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FilePerms restricts credential files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the credentials directory.
const DirPerms = 0o700

// FileStore keeps credentials in a single JSON file mapping
// "provider.app.user" to the persisted credential object. The whole file is
// rewritten atomically on every Save. Secrets are never logged.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]Credentials
}

// NewFileStore loads path if it exists. A missing file is an empty store.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &FileStore{
		path:    filepath.Clean(path),
		logger:  logger,
		entries: make(map[string]Credentials),
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}

	return s, nil
}

// Path returns the backing file.
func (s *FileStore) Path() string {
	return s.path
}

// Reload re-reads the backing file, replacing the in-memory entries.
func (s *FileStore) Reload() error {
	entries, err := readCredentialsFile(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()

	s.logger.Debug("credentials file loaded",
		slog.String("path", s.path),
		slog.Int("entries", len(entries)),
	)

	return nil
}

func readCredentialsFile(path string) (map[string]Credentials, error) {
	entries := make(map[string]Credentials)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}

	if err != nil {
		return nil, fmt.Errorf("credentials: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return entries, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("credentials: decoding %s: %w", path, err)
	}

	for key, msg := range raw {
		c, err := Unmarshal(msg)
		if err != nil {
			return nil, fmt.Errorf("credentials: entry %q in %s: %w", key, path, err)
		}

		entries[key] = c
	}

	return entries, nil
}

func (s *FileStore) Save(_ context.Context, uc *UserCredentials) error {
	if uc.UserID == "" {
		return errors.New("credentials: user id must not be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[userKey(uc.App, uc.UserID)] = uc.Credentials

	return s.writeLocked()
}

func (s *FileStore) Get(_ context.Context, app AppInfo, userID string) (*UserCredentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return selectUser(app, userID, s.appEntriesLocked(app))
}

func (s *FileStore) Users(_ context.Context, app AppInfo) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return sortedKeys(s.appEntriesLocked(app)), nil
}

func (s *FileStore) Delete(_ context.Context, app AppInfo, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := userKey(app, userID)
	if _, ok := s.entries[key]; !ok {
		return false, nil
	}

	delete(s.entries, key)

	return true, s.writeLocked()
}

// appEntriesLocked returns app's entries keyed by user id.
func (s *FileStore) appEntriesLocked(app AppInfo) map[string]Credentials {
	out := make(map[string]Credentials)

	for key, c := range s.entries {
		if id, ok := splitUserKey(app, key); ok {
			out[id] = c
		}
	}

	return out
}

// writeLocked writes the file atomically (temp file in the same directory,
// fsync, rename) with 0600 permissions.
func (s *FileStore) writeLocked() error {
	raw := make(map[string]json.RawMessage, len(s.entries))

	for key, c := range s.entries {
		data, err := Marshal(c)
		if err != nil {
			return err
		}

		raw[key] = data
	}

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: encoding: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("credentials: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("credentials: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credentials: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credentials: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credentials: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credentials: closing: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("credentials: renaming: %w", err)
	}

	success = true

	s.logger.Debug("credentials file written", slog.String("path", s.path))

	return nil
}

// Watch reloads the store whenever another process rewrites the backing
// file, then calls onChange (which may be nil). It blocks until ctx is done.
// The parent directory is watched because atomic writers replace the file.
func (s *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("credentials: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("credentials: creating directory %s: %w", dir, err)
	}

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("credentials: watching %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != s.path {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			if err := s.Reload(); err != nil {
				// A writer may still be mid-write; the next event retries.
				s.logger.Warn("credentials reload failed",
					slog.String("path", s.path),
					slog.String("error", err.Error()),
				)

				continue
			}

			if onChange != nil {
				onChange()
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			s.logger.Warn("credentials watcher error", slog.String("error", werr.Error()))
		}
	}
}
