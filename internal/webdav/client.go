// Package webdav implements storage.Provider for WebDAV servers (RFC 4918)
// such as Nextcloud, ownCloud or Apache mod_dav. The application endpoint is
// the collection that acts as the storage root; requests carry HTTP Basic
// credentials.
package webdav

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/netheos/pcsgo/internal/bytesio"
	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/request"
	"github.com/netheos/pcsgo/internal/retry"
	"github.com/netheos/pcsgo/internal/session"
	"github.com/netheos/pcsgo/internal/storage"
	"github.com/netheos/pcsgo/internal/transfer"
)

// ProviderName is the registry name of this provider.
const ProviderName = "webdav"

// WebDAV methods beyond net/http's constants.
const (
	methodPropfind = "PROPFIND"
	methodMkcol    = "MKCOL"
)

func init() {
	if err := storage.Register(ProviderName, newFromBuilder); err != nil {
		panic(err)
	}
}

// Options configure a Provider.
type Options struct {
	// Endpoint is the URL of the root collection. Required.
	Endpoint string
	// Session authenticates requests. Required.
	Session session.Manager
	// Login is returned by UserID.
	Login string
	// Retry defaults to retry.Default.
	Retry  *retry.Strategy
	Logger *slog.Logger
}

// Provider is a WebDAV storage.
type Provider struct {
	endpoint string
	// basePath is the endpoint's decoded URL path without trailing slash,
	// stripped from hrefs in multistatus responses.
	basePath string
	session  session.Manager
	login    string
	retry    *retry.Strategy
	logger   *slog.Logger
}

// New returns a provider using opts.
func New(opts Options) (*Provider, error) {
	if opts.Endpoint == "" {
		return nil, errors.New("webdav: endpoint is required")
	}

	if opts.Session == nil {
		return nil, errors.New("webdav: session is required")
	}

	u, err := url.Parse(opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("webdav: parsing endpoint: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("webdav: endpoint %q must be an http or https URL", opts.Endpoint)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := opts.Retry
	if s == nil {
		s = retry.Default(logger)
	}

	return &Provider{
		endpoint: strings.TrimSuffix(opts.Endpoint, "/"),
		basePath: strings.TrimSuffix(u.Path, "/"),
		session:  opts.Session,
		login:    opts.Login,
		retry:    s,
		logger:   logger,
	}, nil
}

func newFromBuilder(ctx context.Context, b *storage.Builder) (storage.Provider, error) {
	app, err := b.AppInfo()
	if err != nil {
		return nil, err
	}

	uc, err := b.UserCredentials(ctx, app)
	if err != nil {
		return nil, err
	}

	if uc == nil {
		return nil, errors.New("webdav: password credentials are required, there is nothing to bootstrap")
	}

	mgr, err := session.NewPasswordManager(uc, b.SessionOptions())
	if err != nil {
		return nil, err
	}

	return New(Options{
		Endpoint: app.Endpoint,
		Session:  mgr,
		Login:    mgr.UserID(),
		Retry:    b.RetryStrategy(),
		Logger:   b.Logger(),
	})
}

func (p *Provider) Name() string {
	return ProviderName
}

// UserID returns the configured login. WebDAV has no profile resource.
func (p *Provider) UserID(_ context.Context) (string, error) {
	return p.login, nil
}

func (p *Provider) Close() error {
	return nil
}

// resourceURL addresses path under the endpoint. Collections get a trailing
// slash, which several servers require for MKCOL and PROPFIND.
func (p *Provider) resourceURL(path storage.Path, collection bool) string {
	u := p.endpoint + path.URLEncoded()
	if collection && !strings.HasSuffix(u, "/") {
		u += "/"
	}

	return u
}

var statusValidator = request.StatusValidator{
	IsRetriable: request.DefaultRetriable,
}

// call describes one logical WebDAV request.
type call struct {
	method    string
	url       string
	path      storage.Path
	body      []byte
	source    bytesio.Source
	header    http.Header
	validator request.Validator
}

func (p *Provider) invoker(c call) *request.Invoker {
	validator := c.validator
	if validator == nil {
		validator = statusValidator
	}

	requestor := func(ctx context.Context) (*request.Response, error) {
		req, err := newRequest(ctx, c)
		if err != nil {
			return nil, err
		}

		for k, v := range c.header {
			req.Header[k] = v
		}

		return p.session.Execute(ctx, req)
	}

	return request.NewInvoker(requestor, validator, c.path.String())
}

func newRequest(ctx context.Context, c call) (*http.Request, error) {
	if c.source != nil {
		return transfer.NewUploadRequest(ctx, c.method, c.url, c.source)
	}

	var body io.Reader = http.NoBody
	if c.body != nil {
		body = bytes.NewReader(c.body)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("webdav: creating request: %w", err)
	}

	return req, nil
}

// do runs c under the retry strategy and returns the accepted response,
// which the caller must close.
func (p *Provider) do(ctx context.Context, c call) (*request.Response, error) {
	return retry.Do(ctx, p.retry, p.invoker(c).Call)
}

// exec is do for calls whose response body is not needed.
func (p *Provider) exec(ctx context.Context, c call) error {
	resp, err := p.do(ctx, c)
	if err != nil {
		return err
	}

	return resp.Close()
}

func isNotFound(err error) bool {
	return errors.Is(err, pcserr.ErrNotFound)
}

func hasStatus(err error, status int) bool {
	var httpErr *pcserr.HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == status
}
