package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/netheos/pcsgo/internal/credentials"
)

// stateTokenBytes is the number of random bytes in the anti-CSRF state.
const stateTokenBytes = 16

// shutdownTimeout bounds the callback server drain.
const shutdownTimeout = 5 * time.Second

// ErrNoState is returned by Exchange when AuthorizeURL was never called.
var ErrNoState = errors.New("session: no anti-CSRF state defined")

// UserIDFunc discovers the id of the user owning the session's token,
// typically by calling the provider's "who am I" endpoint.
type UserIDFunc func(ctx context.Context) (string, error)

// Bootstrapper obtains the first token for a user through the
// authorization code flow with PKCE, then persists it.
type Bootstrapper struct {
	manager  *OAuth2Manager
	userID   UserIDFunc
	logger   *slog.Logger
	state    string
	verifier string
}

// NewBootstrapper binds to manager, which is updated with the new token.
func NewBootstrapper(manager *OAuth2Manager, userID UserIDFunc) *Bootstrapper {
	return &Bootstrapper{manager: manager, userID: userID, logger: manager.logger}
}

// AuthorizeURL returns the URL the user must open, generating a fresh
// state and PKCE verifier.
func (b *Bootstrapper) AuthorizeURL() (string, error) {
	state, err := generateState()
	if err != nil {
		return "", fmt.Errorf("session: generating state token: %w", err)
	}

	b.state = state
	b.verifier = oauth2.GenerateVerifier()

	return b.manager.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(b.verifier),
	), nil
}

// Exchange accepts either the bare authorization code or the full redirect
// URL. A URL is checked for an error report and for the expected state.
// The token is installed in the manager, the user id discovered, and the
// credentials saved to the manager's store.
func (b *Bootstrapper) Exchange(ctx context.Context, codeOrURL string) (*credentials.UserCredentials, error) {
	if b.state == "" {
		return nil, ErrNoState
	}

	code, err := b.extractCode(codeOrURL)
	if err != nil {
		return nil, err
	}

	m := b.manager

	tok, err := m.config.Exchange(m.oauthContext(ctx), code, oauth2.VerifierOption(b.verifier))
	if err != nil {
		return nil, classifyTokenError("exchanging authorization code", err)
	}

	creds := m.fromToken(tok, "")
	m.current.Store(creds)

	userID, err := b.userID(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: discovering user id: %w", err)
	}

	b.logger.Debug("user identifier retrieved", slog.String("user", userID))
	m.setUser(userID)

	uc := &credentials.UserCredentials{App: m.app, UserID: userID, Credentials: creds}

	if m.store != nil {
		if err := m.store.Save(ctx, uc); err != nil {
			return nil, fmt.Errorf("session: saving user credentials: %w", err)
		}
	}

	return uc, nil
}

func (b *Bootstrapper) extractCode(codeOrURL string) (string, error) {
	if !strings.HasPrefix(codeOrURL, "http://") && !strings.HasPrefix(codeOrURL, "https://") {
		return codeOrURL, nil
	}

	u, err := url.Parse(codeOrURL)
	if err != nil {
		return "", fmt.Errorf("session: parsing redirect URL: %w", err)
	}

	q := u.Query()

	if e := q.Get("error"); e != "" {
		msg := "user authorization failed: " + e
		if desc := q.Get("error_description"); desc != "" {
			msg += " (" + desc + ")"
		}

		return "", fmt.Errorf("session: %s", msg)
	}

	if got := q.Get("state"); got != b.state {
		return "", fmt.Errorf("session: state received (%s) is not the state expected", got)
	}

	code := q.Get("code")
	if code == "" {
		return "", errors.New("session: can't find code in redirect URL")
	}

	return code, nil
}

// LoginWithBrowser runs the flow end to end: it listens on a localhost port,
// points the redirect URL at it, calls openURL with the authorization URL and
// waits for the browser to come back.
func (b *Bootstrapper) LoginWithBrowser(
	ctx context.Context, openURL func(string) error,
) (*credentials.UserCredentials, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("session: binding localhost listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, errors.New("session: listener address is not TCP")
	}

	b.manager.config.RedirectURL = fmt.Sprintf("http://localhost:%d", tcpAddr.Port)

	authURL, err := b.AuthorizeURL()
	if err != nil {
		listener.Close()
		return nil, err
	}

	results := make(chan string, 1)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			fmt.Fprint(w, "<html><body><p>You can close this window and return to the terminal.</p></body></html>")

			select {
			case results <- b.manager.config.RedirectURL + r.URL.RequestURI():
			default:
			}
		}),
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			b.logger.Warn("callback server error", slog.String("error", serveErr.Error()))
		}
	}()

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			b.logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
		}
	}()

	b.logger.Info("callback server listening", slog.Int("port", tcpAddr.Port))

	if err := openURL(authURL); err != nil {
		return nil, fmt.Errorf("session: opening authorization URL: %w", err)
	}

	select {
	case redirect := <-results:
		return b.Exchange(ctx, redirect)
	case <-ctx.Done():
		return nil, fmt.Errorf("session: browser login canceled: %w", ctx.Err())
	}
}

func generateState() (string, error) {
	buf := make([]byte, stateTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	return hex.EncodeToString(buf), nil
}
