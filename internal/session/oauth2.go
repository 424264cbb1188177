package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/netheos/pcsgo/internal/credentials"
	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/request"
)

// ErrNoCredentials is returned when a request is attempted before the
// session holds a token (for example, a manager built for bootstrapping).
var ErrNoCredentials = fmt.Errorf("%w: no OAuth2 credentials", pcserr.ErrAuthentication)

// OAuth2Options extends Options with the refresh observer.
type OAuth2Options struct {
	Options
	// OnRefresh is called after every refresh HTTP call with its outcome.
	OnRefresh func(err error)
}

// OAuth2Manager attaches bearer tokens and refreshes expired ones.
//
// The current token is an immutable snapshot swapped atomically. A refresh
// captures the snapshot it saw as expired, takes refreshMu, and only calls
// the token endpoint if the snapshot is still current; goroutines that lose
// the race reuse the winner's token.
type OAuth2Manager struct {
	app    credentials.AppInfo
	config *oauth2.Config
	store  credentials.Store
	t      transport
	logger *slog.Logger

	onRefresh func(err error)
	nowFunc   func() time.Time

	userID    atomic.Pointer[string]
	current   atomic.Pointer[credentials.OAuth2Credentials]
	refreshMu sync.Mutex
}

// NewOAuth2Manager builds a manager for app against endpoint. uc may be nil
// when the manager is created to bootstrap a new user.
func NewOAuth2Manager(
	app credentials.AppInfo,
	endpoint oauth2.Endpoint,
	uc *credentials.UserCredentials,
	store credentials.Store,
	opts OAuth2Options,
) (*OAuth2Manager, error) {
	if !app.IsOAuth2() {
		return nil, fmt.Errorf("session: application %s is not an OAuth2 application", app.Key())
	}

	base := opts.Options.withDefaults()

	m := &OAuth2Manager{
		app: app,
		config: &oauth2.Config{
			ClientID:     app.ClientID,
			ClientSecret: app.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  app.RedirectURL,
			Scopes:       app.Scope,
		},
		store:     store,
		t:         transport{opts: base},
		logger:    base.Logger,
		onRefresh: opts.OnRefresh,
		nowFunc:   time.Now,
	}

	if uc != nil {
		tok := uc.OAuth2()
		if tok == nil {
			return nil, fmt.Errorf("session: user credentials of %q are not OAuth2 credentials", uc.UserID)
		}

		m.setUser(uc.UserID)
		m.current.Store(tok)
	}

	return m, nil
}

// App returns the application this session authenticates.
func (m *OAuth2Manager) App() credentials.AppInfo {
	return m.app
}

// UserID returns the user bound to this session, or "".
func (m *OAuth2Manager) UserID() string {
	if p := m.userID.Load(); p != nil {
		return *p
	}

	return ""
}

func (m *OAuth2Manager) setUser(id string) {
	m.userID.Store(&id)
}

// Current returns the current token snapshot, or nil.
func (m *OAuth2Manager) Current() *credentials.OAuth2Credentials {
	return m.current.Load()
}

// Execute refreshes the token if it has expired, then sends req with a
// bearer header. A stale Authorization header from a previous attempt is
// replaced.
func (m *OAuth2Manager) Execute(ctx context.Context, req *http.Request) (*request.Response, error) {
	tok := m.current.Load()
	if tok == nil {
		return nil, ErrNoCredentials
	}

	if tok.Expired(m.nowFunc()) {
		if err := m.refresh(ctx, tok); err != nil {
			return nil, err
		}

		tok = m.current.Load()
	}

	req.Header.Del("Authorization")
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)

	return m.t.do(ctx, req)
}

// ForceRefresh refreshes the current token regardless of its expiry, unless
// another goroutine replaces it first.
func (m *OAuth2Manager) ForceRefresh(ctx context.Context) error {
	tok := m.current.Load()
	if tok == nil {
		return ErrNoCredentials
	}

	return m.refresh(ctx, tok)
}

// refresh replaces seen with a fresh token unless another goroutine already
// replaced it.
func (m *OAuth2Manager) refresh(ctx context.Context, seen *credentials.OAuth2Credentials) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if m.current.Load() != seen {
		m.logger.Debug("token already refreshed by another request")
		return nil
	}

	stored := m.storedToken(ctx)
	if stored != nil && (stored.AccessToken != seen.AccessToken || stored.RefreshToken != seen.RefreshToken) {
		if !stored.Expired(m.nowFunc()) {
			m.current.Store(stored)
			m.logger.Debug("using token refreshed by another process", slog.String("app", m.app.Key()))

			return nil
		}

		// The stored refresh token may have rotated ours out.
		if stored.RefreshToken != "" {
			seen = stored
		}
	}

	if seen.RefreshToken == "" {
		return fmt.Errorf("%w: token expired and no refresh token is available", pcserr.ErrAuthentication)
	}

	m.logger.Debug("refreshing access token", slog.String("app", m.app.Key()))

	tok, err := m.config.TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: seen.RefreshToken}).Token()
	if m.onRefresh != nil {
		m.onRefresh(err)
	}

	if err != nil {
		return classifyTokenError("refreshing token", err)
	}

	next := m.fromToken(tok, seen.RefreshToken)
	m.current.Store(next)

	m.logger.Info("access token refreshed",
		slog.String("app", m.app.Key()),
		slog.Time("expires_at", next.ExpiresAt),
	)

	if m.store == nil || m.UserID() == "" {
		return nil
	}

	if err := m.store.Save(ctx, &credentials.UserCredentials{App: m.app, UserID: m.UserID(), Credentials: next}); err != nil {
		return fmt.Errorf("session: persisting refreshed token: %w", err)
	}

	return nil
}

// storedToken returns the store's token for the session user, or nil when
// there is none or it cannot be read.
func (m *OAuth2Manager) storedToken(ctx context.Context) *credentials.OAuth2Credentials {
	if m.store == nil || m.UserID() == "" {
		return nil
	}

	uc, err := m.store.Get(ctx, m.app, m.UserID())
	if err != nil {
		m.logger.Debug("no stored token to compare",
			slog.String("app", m.app.Key()),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return uc.OAuth2()
}

// oauthContext makes the oauth2 library use this session's HTTP client.
func (m *OAuth2Manager) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, m.t.opts.HTTPClient)
}

// fromToken converts a token endpoint response. A response without a
// refresh token keeps previousRefresh.
func (m *OAuth2Manager) fromToken(tok *oauth2.Token, previousRefresh string) *credentials.OAuth2Credentials {
	now := m.nowFunc()

	refresh := tok.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}

	var expiresIn time.Duration

	switch {
	case tok.ExpiresIn > 0:
		expiresIn = time.Duration(tok.ExpiresIn) * time.Second
	case !tok.Expiry.IsZero():
		expiresIn = tok.Expiry.Sub(now)
	}

	return &credentials.OAuth2Credentials{
		AccessToken:  tok.AccessToken,
		RefreshToken: refresh,
		TokenType:    tok.Type(),
		ExpiresAt:    credentials.ComputeExpiry(now, absoluteExpiry(tok), expiresIn),
	}
}

// absoluteExpiry reads a non-standard "expires_at" (Unix seconds) field.
func absoluteExpiry(tok *oauth2.Token) time.Time {
	var secs int64

	switch v := tok.Extra("expires_at").(type) {
	case float64:
		secs = int64(v)
	case int64:
		secs = v
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return time.Time{}
		}

		secs = n
	}

	if secs <= 0 {
		return time.Time{}
	}

	return time.Unix(secs, 0)
}

// classifyTokenError maps token endpoint failures: rejected grants are
// authentication errors, server and transport failures are retriable.
func classifyTokenError(op string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		status := re.Response.StatusCode
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return pcserr.Retriable(fmt.Errorf("session: %s: %w", op, err))
		}

		return fmt.Errorf("%w: %s: %w", pcserr.ErrAuthentication, op, err)
	}

	return pcserr.Retriable(fmt.Errorf("session: %s: %w", op, err))
}
