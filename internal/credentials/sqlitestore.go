package credentials

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlUpsertCredentials = `INSERT INTO user_credentials (provider, app_name, user_id, credentials, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, app_name, user_id)
		DO UPDATE SET credentials = excluded.credentials, updated_at = excluded.updated_at`
	sqlSelectAppCredentials = `SELECT user_id, credentials FROM user_credentials
		WHERE provider = ? AND app_name = ? ORDER BY user_id`
	sqlSelectUserCredentials = `SELECT credentials FROM user_credentials
		WHERE provider = ? AND app_name = ? AND user_id = ?`
	sqlDeleteCredentials = `DELETE FROM user_credentials
		WHERE provider = ? AND app_name = ? AND user_id = ?`
)

// SQLiteStore keeps credentials in a SQLite database. Suited to hosts that
// share one credentials database between several processes.
type SQLiteStore struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// NewSQLiteStore opens dbPath (":memory:" for tests) and applies migrations.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("credentials: opening database %s: %w", dbPath, err)
	}

	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger, nowFunc: time.Now}, nil
}

func runMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("credentials: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("credentials: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("credentials: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Debug("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, uc *UserCredentials) error {
	if uc.UserID == "" {
		return errors.New("credentials: user id must not be empty")
	}

	data, err := Marshal(uc.Credentials)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, sqlUpsertCredentials,
		uc.App.Provider, uc.App.Name, uc.UserID, string(data), s.nowFunc().Unix())
	if err != nil {
		return fmt.Errorf("credentials: saving %s: %w", userKey(uc.App, uc.UserID), err)
	}

	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, app AppInfo, userID string) (*UserCredentials, error) {
	if userID != "" {
		var raw string

		err := s.db.QueryRowContext(ctx, sqlSelectUserCredentials, app.Provider, app.Name, userID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w for %s and user %q", ErrNoCredentials, app, userID)
		}

		if err != nil {
			return nil, fmt.Errorf("credentials: loading %s: %w", userKey(app, userID), err)
		}

		c, err := Unmarshal([]byte(raw))
		if err != nil {
			return nil, err
		}

		return &UserCredentials{App: app, UserID: userID, Credentials: c}, nil
	}

	entries, err := s.appEntries(ctx, app)
	if err != nil {
		return nil, err
	}

	return selectUser(app, "", entries)
}

func (s *SQLiteStore) Users(ctx context.Context, app AppInfo) ([]string, error) {
	entries, err := s.appEntries(ctx, app)
	if err != nil {
		return nil, err
	}

	return sortedKeys(entries), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, app AppInfo, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, sqlDeleteCredentials, app.Provider, app.Name, userID)
	if err != nil {
		return false, fmt.Errorf("credentials: deleting %s: %w", userKey(app, userID), err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("credentials: deleting %s: %w", userKey(app, userID), err)
	}

	return n > 0, nil
}

func (s *SQLiteStore) appEntries(ctx context.Context, app AppInfo) (map[string]Credentials, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelectAppCredentials, app.Provider, app.Name)
	if err != nil {
		return nil, fmt.Errorf("credentials: listing %s: %w", app.Key(), err)
	}
	defer rows.Close()

	entries := make(map[string]Credentials)

	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("credentials: scanning row: %w", err)
		}

		c, err := Unmarshal([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("credentials: user %q: %w", id, err)
		}

		entries[id] = c
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("credentials: iterating rows: %w", err)
	}

	return entries, nil
}
