package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/netheos/pcsgo/internal/credentials"
	"github.com/netheos/pcsgo/internal/retry"
	"github.com/netheos/pcsgo/internal/session"
)

// Default HTTP timeouts.
const (
	DefaultConnectTimeout = 15 * time.Second
	DefaultDataTimeout    = 60 * time.Second
)

// Factory creates a provider from a configured builder.
type Factory func(ctx context.Context, b *Builder) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// ErrUnknownProvider is returned by NewBuilder for unregistered names.
var ErrUnknownProvider = errors.New("storage: no provider registered")

// Register makes a provider available to NewBuilder. Registering the same
// name twice is an error.
func Register(name string, f Factory) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[name]; ok {
		return fmt.Errorf("storage: a provider already exists with the name %q", name)
	}

	registry[name] = f

	return nil
}

// ProviderNames returns the registered names, sorted.
func ProviderNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}

// Builder collects what a provider needs: the application, the user
// credentials, and the HTTP and retry machinery.
type Builder struct {
	name    string
	factory Factory

	apps             credentials.AppRepository
	appName          string
	store            credentials.Store
	userID           string
	forBootstrapping bool
	retry            *retry.Strategy
	httpClient       *http.Client
	limiter          *rate.Limiter
	userAgent        string
	onRefresh        func(error)
	chunkSize        int64
	logger           *slog.Logger
}

// NewBuilder starts building the provider registered as name.
func NewBuilder(name string) (*Builder, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w for name %q", ErrUnknownProvider, name)
	}

	return &Builder{name: name, factory: f}, nil
}

// SetAppRepository selects the application appName ("" picks the only one).
func (b *Builder) SetAppRepository(apps credentials.AppRepository, appName string) *Builder {
	b.apps = apps
	b.appName = appName

	return b
}

// SetCredentialsStore selects the user userID ("" picks the only one).
func (b *Builder) SetCredentialsStore(store credentials.Store, userID string) *Builder {
	b.store = store
	b.userID = userID

	return b
}

// SetForBootstrapping builds a provider without user credentials, to run
// the OAuth2 bootstrap.
func (b *Builder) SetForBootstrapping(v bool) *Builder {
	b.forBootstrapping = v
	return b
}

func (b *Builder) SetRetryStrategy(s *retry.Strategy) *Builder {
	b.retry = s
	return b
}

func (b *Builder) SetHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

// SetLimiter paces the provider's requests.
func (b *Builder) SetLimiter(l *rate.Limiter) *Builder {
	b.limiter = l
	return b
}

func (b *Builder) SetUserAgent(ua string) *Builder {
	b.userAgent = ua
	return b
}

// SetRefreshHook is called after each OAuth2 token refresh.
func (b *Builder) SetRefreshHook(f func(error)) *Builder {
	b.onRefresh = f
	return b
}

// SetChunkSize sets the upload chunk size of providers that upload in
// chunks. Zero keeps the provider default.
func (b *Builder) SetChunkSize(n int64) *Builder {
	b.chunkSize = n
	return b
}

func (b *Builder) SetLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Build checks the builder and calls the provider factory.
func (b *Builder) Build(ctx context.Context) (Provider, error) {
	if b.apps == nil {
		return nil, errors.New("storage: undefined application repository")
	}

	if b.store == nil {
		return nil, errors.New("storage: undefined user credentials store")
	}

	p, err := b.factory(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("storage: building provider %s: %w", b.name, err)
	}

	return p, nil
}

// ProviderName returns the name being built.
func (b *Builder) ProviderName() string {
	return b.name
}

// AppInfo resolves the configured application.
func (b *Builder) AppInfo() (credentials.AppInfo, error) {
	return b.apps.Get(b.name, b.appName)
}

// UserCredentials loads the configured user's credentials, or returns nil
// when bootstrapping.
func (b *Builder) UserCredentials(ctx context.Context, app credentials.AppInfo) (*credentials.UserCredentials, error) {
	if b.forBootstrapping {
		return nil, nil //nolint:nilnil // no user yet
	}

	return b.store.Get(ctx, app, b.userID)
}

// Store returns the credentials store.
func (b *Builder) Store() credentials.Store {
	return b.store
}

// RetryStrategy returns the configured strategy, defaulting to five
// attempts with a one second base delay.
func (b *Builder) RetryStrategy() *retry.Strategy {
	if b.retry == nil {
		b.retry = retry.Default(b.Logger())
	}

	return b.retry
}

// HTTPClient returns the configured client or a default one.
func (b *Builder) HTTPClient() *http.Client {
	if b.httpClient == nil {
		b.httpClient = NewHTTPClient(DefaultConnectTimeout, DefaultDataTimeout)
	}

	return b.httpClient
}

// ChunkSize returns the configured upload chunk size, zero when unset.
func (b *Builder) ChunkSize() int64 {
	return b.chunkSize
}

func (b *Builder) Logger() *slog.Logger {
	if b.logger == nil {
		return slog.Default()
	}

	return b.logger
}

// SessionOptions returns the options shared by session managers.
func (b *Builder) SessionOptions() session.Options {
	return session.Options{
		HTTPClient: b.HTTPClient(),
		Limiter:    b.limiter,
		UserAgent:  b.userAgent,
		Logger:     b.Logger(),
	}
}

// OAuth2Options returns SessionOptions plus the refresh hook.
func (b *Builder) OAuth2Options() session.OAuth2Options {
	return session.OAuth2Options{Options: b.SessionOptions(), OnRefresh: b.onRefresh}
}

// NewHTTPClient returns a client with a connect timeout and a timeout on
// waiting for response headers. Bodies are not bounded so long transfers
// are not cut off.
func NewHTTPClient(connectTimeout, dataTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.ResponseHeaderTimeout = dataTimeout
	transport.TLSHandshakeTimeout = connectTimeout

	return &http.Client{Transport: transport}
}
