// Package onedrive implements storage.Provider for Microsoft OneDrive through
// the Graph v1.0 API. Items are addressed by path
// (/me/drive/root:/a/b:), every API call goes through the retry strategy,
// and a spurious 401 forces one token refresh before giving up.
package onedrive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"

	"github.com/netheos/pcsgo/internal/bytesio"
	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/request"
	"github.com/netheos/pcsgo/internal/retry"
	"github.com/netheos/pcsgo/internal/session"
	"github.com/netheos/pcsgo/internal/storage"
	"github.com/netheos/pcsgo/internal/transfer"
)

// ProviderName is the registry name of this provider.
const ProviderName = "onedrive"

// DefaultBaseURL is the Graph API root used when the application has no
// endpoint configured.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// defaultTenant is used for the authorization endpoints. "common" accepts
// both personal and work accounts.
const defaultTenant = "common"

// statusInsufficientStorage is never retried: the drive is full.
const statusInsufficientStorage = 507

func init() {
	if err := storage.Register(ProviderName, newFromBuilder); err != nil {
		panic(err)
	}
}

// Endpoint returns the OAuth2 endpoints for the common tenant.
func Endpoint() oauth2.Endpoint {
	return microsoft.AzureADEndpoint(defaultTenant)
}

// Options configure a Provider.
type Options struct {
	// BaseURL defaults to DefaultBaseURL.
	BaseURL string
	// Session authenticates API requests.
	Session session.Manager
	// Refresher is forced once when the API rejects a token. Optional.
	Refresher session.Refresher
	// Uploads sends upload session chunks, whose URLs are pre-authenticated.
	// Defaults to an anonymous manager on http.DefaultClient.
	Uploads session.Manager
	// Retry defaults to retry.Default.
	Retry *retry.Strategy
	// ChunkSize is the upload session chunk size, rounded down to a multiple
	// of 320 KiB. Defaults to defaultChunkSize.
	ChunkSize int64
	Logger    *slog.Logger
}

// Provider is a OneDrive storage.
type Provider struct {
	baseURL   string
	session   session.Manager
	refresher session.Refresher
	uploads   session.Manager
	retry     *retry.Strategy
	chunkSize int64
	logger    *slog.Logger

	// oauth is set when built from a storage.Builder; it backs Bootstrapper.
	oauth *session.OAuth2Manager
}

// New returns a provider using opts.
func New(opts Options) *Provider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Provider{
		baseURL:   strings.TrimSuffix(opts.BaseURL, "/"),
		session:   opts.Session,
		refresher: opts.Refresher,
		uploads:   opts.Uploads,
		retry:     opts.Retry,
		chunkSize: alignChunkSize(opts.ChunkSize),
		logger:    logger,
	}

	if p.baseURL == "" {
		p.baseURL = DefaultBaseURL
	}

	if p.uploads == nil {
		p.uploads = session.NewAnonymousManager(session.Options{Logger: logger})
	}

	if p.retry == nil {
		p.retry = retry.Default(logger)
	}

	return p
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

	mgr, err := session.NewOAuth2Manager(app, Endpoint(), uc, b.Store(), b.OAuth2Options())
	if err != nil {
		return nil, err
	}

	p := New(Options{
		BaseURL:   app.Endpoint,
		Session:   mgr,
		Refresher: mgr,
		Uploads:   session.NewAnonymousManager(b.SessionOptions()),
		Retry:     b.RetryStrategy(),
		ChunkSize: b.ChunkSize(),
		Logger:    b.Logger(),
	})
	p.oauth = mgr

	return p, nil
}

func (p *Provider) Name() string {
	return ProviderName
}

// Bootstrapper returns the OAuth2 bootstrap bound to this provider's
// session, discovering the user id through UserID.
func (p *Provider) Bootstrapper() (*session.Bootstrapper, error) {
	if p.oauth == nil {
		return nil, errors.New("onedrive: provider has no OAuth2 session")
	}

	return session.NewBootstrapper(p.oauth, p.UserID), nil
}

func (p *Provider) Close() error {
	return nil
}

// graphErrorResponse is the error body returned by Graph.
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// errorMessage extracts "code (message)" from a Graph error body, falling
// back to the raw text.
func errorMessage(resp *request.Response) string {
	text := resp.ReadText()

	var ge graphErrorResponse
	if err := json.Unmarshal([]byte(text), &ge); err != nil || ge.Error.Code == "" {
		return text
	}

	return ge.Error.Code + " (" + ge.Error.Message + ")"
}

// isRetriable retries throttling and server errors, except a full drive.
func isRetriable(resp *request.Response, _ string) bool {
	if resp.Status == http.StatusTooManyRequests {
		return true
	}

	return resp.Status >= http.StatusInternalServerError && resp.Status != statusInsufficientStorage
}

var statusValidator = request.StatusValidator{
	IsRetriable:  isRetriable,
	ErrorMessage: errorMessage,
}

// apiValidator also requires JSON on responses that carry a body.
var apiValidator = request.ValidatorFunc(func(resp *request.Response, path string) error {
	if resp.Status == http.StatusNoContent || resp.ContentLength == 0 {
		return statusValidator.Validate(resp, path)
	}

	return request.JSONValidator{Next: statusValidator}.Validate(resp, path)
})

// call describes one logical Graph request. Body is marshaled once and
// replayed on every attempt; source, when set, is re-opened instead.
type call struct {
	method    string
	url       string
	path      storage.Path
	body      any
	source    bytesio.Source
	header    http.Header
	validator request.Validator
	manager   session.Manager
}

// invoker returns the invoker for c. It must be created once per logical
// call so that the refresh-once state spans all retries.
func (p *Provider) invoker(c call) (*session.RefreshOnceInvoker, error) {
	var payload []byte

	if c.body != nil {
		b, err := json.Marshal(c.body)
		if err != nil {
			return nil, fmt.Errorf("onedrive: marshaling %s request: %w", c.method, err)
		}

		payload = b
	}

	validator := c.validator
	if validator == nil {
		validator = apiValidator
	}

	// Calls on their own manager (pre-authenticated upload URLs) carry no
	// token, so a 401 there is not fixed by a refresh.
	var refresher session.Refresher

	manager := c.manager
	if manager == nil {
		manager = p.session
		refresher = p.refresher
	}

	requestor := func(ctx context.Context) (*request.Response, error) {
		req, err := newRequest(ctx, c, payload)
		if err != nil {
			return nil, err
		}

		for k, v := range c.header {
			req.Header[k] = v
		}

		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		req.Header.Set("client-request-id", uuid.NewString())

		return manager.Execute(ctx, req)
	}

	inner := request.NewInvoker(requestor, validator, c.path.String())

	return session.NewRefreshOnceInvoker(inner, refresher), nil
}

func newRequest(ctx context.Context, c call, payload []byte) (*http.Request, error) {
	if c.source != nil {
		return transfer.NewUploadRequest(ctx, c.method, c.url, c.source)
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("onedrive: creating request: %w", err)
	}

	return req, nil
}

// do runs c under the retry strategy and decodes a JSON result into out
// when out is non-nil.
func (p *Provider) do(ctx context.Context, c call, out any) error {
	inv, err := p.invoker(c)
	if err != nil {
		return err
	}

	resp, err := retry.Do(ctx, p.retry, inv.Call)
	if err != nil {
		return err
	}

	if out == nil {
		return resp.Close()
	}

	if err := resp.DecodeJSON(out); err != nil {
		return fmt.Errorf("onedrive: decoding %s %s: %w", resp.Method, resp.URL, err)
	}

	return nil
}

// itemURL addresses p in the user's drive.
func (p *Provider) itemURL(path storage.Path) string {
	if path.IsRoot() {
		return p.baseURL + "/me/drive/root"
	}

	return p.baseURL + "/me/drive/root:" + path.URLEncoded() + ":"
}

// itemActionURL addresses a child resource of p, such as children.
func (p *Provider) itemActionURL(path storage.Path, action string) string {
	return p.itemURL(path) + "/" + action
}

func isNotFound(err error) bool {
	return errors.Is(err, pcserr.ErrNotFound)
}

func isConflict(err error) bool {
	var httpErr *pcserr.HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusConflict
}
