// Package session binds an authentication scheme to outgoing HTTP requests.
// OAuth2Manager attaches bearer tokens and refreshes them at most once per
// expiry no matter how many goroutines notice it; PasswordManager attaches
// HTTP Basic credentials.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/request"
)

// Manager executes a request with the current credentials attached.
// Transport failures are returned as retriable errors so that the caller's
// retry loop rebuilds the request with fresh headers. The caller owns the
// returned Response.
type Manager interface {
	Execute(ctx context.Context, req *http.Request) (*request.Response, error)
}

// Options are shared by both managers.
type Options struct {
	HTTPClient *http.Client
	// Limiter paces outgoing requests. Nil means unlimited.
	Limiter   *rate.Limiter
	UserAgent string
	Logger    *slog.Logger
}

// NewLimiter returns a limiter for rps requests per second, or nil when
// rps <= 0.
func NewLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}

	burst := max(int(rps), 1)

	return rate.NewLimiter(rate.Limit(rps), burst)
}

func (o Options) withDefaults() Options {
	if o.HTTPClient == nil {
		o.HTTPClient = http.DefaultClient
	}

	if o.Logger == nil {
		o.Logger = slog.Default()
	}

	return o
}

// transport is the part of request execution both managers share: pacing,
// user agent, the HTTP round trip and transport error classification.
type transport struct {
	opts Options
}

func (t transport) do(ctx context.Context, req *http.Request) (*request.Response, error) {
	if t.opts.Limiter != nil {
		if err := t.opts.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("session: waiting for rate limiter: %w", err)
		}
	}

	if t.opts.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.opts.UserAgent)
	}

	shortURL := request.ShortenURL(req.URL.String())

	t.opts.Logger.Debug("http request",
		slog.String("method", req.Method),
		slog.String("url", shortURL),
	)

	resp, err := t.opts.HTTPClient.Do(req.WithContext(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("session: %s %s: %w", req.Method, shortURL, ctx.Err())
		}

		return nil, pcserr.Retriable(fmt.Errorf("session: %s %s: %w", req.Method, shortURL, err))
	}

	t.opts.Logger.Debug("http response",
		slog.String("method", req.Method),
		slog.String("url", shortURL),
		slog.Int("status", resp.StatusCode),
	)

	return request.NewResponse(resp), nil
}

// AnonymousManager sends requests without credentials, for pre-authenticated
// URLs such as upload sessions.
type AnonymousManager struct {
	t transport
}

func NewAnonymousManager(opts Options) *AnonymousManager {
	return &AnonymousManager{t: transport{opts: opts.withDefaults()}}
}

func (m *AnonymousManager) Execute(ctx context.Context, req *http.Request) (*request.Response, error) {
	req.Header.Del("Authorization")
	return m.t.do(ctx, req)
}
