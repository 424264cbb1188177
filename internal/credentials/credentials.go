// Package credentials models the identities a storage provider needs:
// the registered application (AppInfo), the user's secret (an OAuth2 token
// or a password), and stores that persist them between runs.
package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors returned by repositories and stores.
var (
	ErrNoApp         = errors.New("credentials: no application found")
	ErrAmbiguousApp  = errors.New("credentials: several applications found")
	ErrNoCredentials = errors.New("credentials: no user credentials found")
	ErrAmbiguousUser = errors.New("credentials: several user credentials found")
)

// Expiry margin applied to relative lifetimes, so tokens refresh shortly
// before the server considers them expired.
const (
	expiryMargin    = 5 * time.Minute
	marginThreshold = 6 * time.Minute
)

// AppInfo identifies an application registered with a provider. OAuth2
// applications carry a client id; password applications carry only their
// names and, for WebDAV, the server endpoint.
type AppInfo struct {
	Provider     string
	Name         string
	ClientID     string
	ClientSecret string
	Scope        []string
	RedirectURL  string
	Endpoint     string
}

// IsOAuth2 reports whether the application authenticates with OAuth2.
func (a AppInfo) IsOAuth2() bool {
	return a.ClientID != ""
}

// Key returns "provider.name".
func (a AppInfo) Key() string {
	return a.Provider + "." + a.Name
}

// String never includes the client secret.
func (a AppInfo) String() string {
	return fmt.Sprintf("AppInfo{provider=%s, name=%s, oauth2=%t}", a.Provider, a.Name, a.IsOAuth2())
}

// Credentials is either *OAuth2Credentials or *PasswordCredentials.
type Credentials interface {
	credentials()
}

// OAuth2Credentials is an immutable token snapshot. Refreshing replaces the
// whole snapshot, so holders of a pointer always see a consistent value.
type OAuth2Credentials struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	// ExpiresAt is the zero time for tokens that never expire.
	ExpiresAt time.Time
}

func (*OAuth2Credentials) credentials() {}

// Expired reports whether the token is past its expiry at now.
func (c *OAuth2Credentials) Expired(now time.Time) bool {
	if c.ExpiresAt.IsZero() {
		return false
	}

	return now.After(c.ExpiresAt)
}

// String never includes token values.
func (c *OAuth2Credentials) String() string {
	return fmt.Sprintf("OAuth2Credentials{expiresAt=%s, tokenType=%s}", c.ExpiresAt.Format(time.RFC3339), c.TokenType)
}

// PasswordCredentials holds a login password.
type PasswordCredentials struct {
	Password string
}

func (*PasswordCredentials) credentials() {}

func (c *PasswordCredentials) String() string {
	return "PasswordCredentials{}"
}

// ComputeExpiry derives an absolute expiry. An absolute expiresAt wins;
// otherwise a positive expiresIn is added to now, minus a 5 minute margin
// when the lifetime exceeds 6 minutes. With neither, the zero time (never
// expires) is returned.
func ComputeExpiry(now, expiresAt time.Time, expiresIn time.Duration) time.Time {
	if !expiresAt.IsZero() {
		return expiresAt
	}

	if expiresIn <= 0 {
		return time.Time{}
	}

	if expiresIn > marginThreshold {
		expiresIn -= expiryMargin
	}

	return now.Add(expiresIn)
}

// UserCredentials binds credentials to an application and a user.
type UserCredentials struct {
	App         AppInfo
	UserID      string
	Credentials Credentials
}

// OAuth2 returns the OAuth2 snapshot, or nil for password credentials.
func (u *UserCredentials) OAuth2() *OAuth2Credentials {
	c, _ := u.Credentials.(*OAuth2Credentials)
	return c
}

// Password returns the password credentials, or nil for OAuth2.
func (u *UserCredentials) Password() *PasswordCredentials {
	c, _ := u.Credentials.(*PasswordCredentials)
	return c
}

// storedCredentials is the persisted JSON form. Expiry is in Unix seconds.
type storedCredentials struct {
	AccessToken  string  `json:"access_token,omitempty"`
	ExpiresAt    int64   `json:"expires_at,omitempty"`
	RefreshToken string  `json:"refresh_token,omitempty"`
	TokenType    string  `json:"token_type,omitempty"`
	Password     *string `json:"password,omitempty"`
}

// Marshal encodes credentials to their persisted JSON form.
func Marshal(c Credentials) ([]byte, error) {
	var sc storedCredentials

	switch v := c.(type) {
	case *OAuth2Credentials:
		sc.AccessToken = v.AccessToken
		sc.RefreshToken = v.RefreshToken
		sc.TokenType = v.TokenType

		if !v.ExpiresAt.IsZero() {
			sc.ExpiresAt = v.ExpiresAt.Unix()
		}
	case *PasswordCredentials:
		pw := v.Password
		sc.Password = &pw
	default:
		return nil, fmt.Errorf("credentials: cannot encode %T", c)
	}

	return json.Marshal(sc)
}

// Unmarshal decodes the persisted JSON form. Objects with a "password" key
// are password credentials; anything else is an OAuth2 token.
func Unmarshal(data []byte) (Credentials, error) {
	var sc storedCredentials
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("credentials: decoding: %w", err)
	}

	if sc.Password != nil {
		return &PasswordCredentials{Password: *sc.Password}, nil
	}

	c := &OAuth2Credentials{
		AccessToken:  sc.AccessToken,
		RefreshToken: sc.RefreshToken,
		TokenType:    sc.TokenType,
	}

	if sc.ExpiresAt > 0 {
		c.ExpiresAt = time.Unix(sc.ExpiresAt, 0)
	}

	return c, nil
}

// userKey returns "provider.app.user".
func userKey(app AppInfo, userID string) string {
	return app.Key() + "." + userID
}

// splitUserKey returns the user id of key if it belongs to app.
func splitUserKey(app AppInfo, key string) (string, bool) {
	return strings.CutPrefix(key, app.Key()+".")
}
