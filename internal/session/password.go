package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/netheos/pcsgo/internal/credentials"
	"github.com/netheos/pcsgo/internal/request"
)

// PasswordManager sends HTTP Basic credentials preemptively. The encoded
// header is cached per host.
type PasswordManager struct {
	user     string
	password string
	t        transport

	mu    sync.Mutex
	cache map[string]string
}

// NewPasswordManager builds a manager for uc, which must hold password
// credentials.
func NewPasswordManager(uc *credentials.UserCredentials, opts Options) (*PasswordManager, error) {
	if uc == nil {
		return nil, errors.New("session: password session requires user credentials")
	}

	pw := uc.Password()
	if pw == nil {
		return nil, fmt.Errorf("session: user credentials of %q do not contain any password", uc.UserID)
	}

	return &PasswordManager{
		user:     uc.UserID,
		password: pw.Password,
		t:        transport{opts: opts.withDefaults()},
		cache:    make(map[string]string),
	}, nil
}

// UserID returns the login name.
func (m *PasswordManager) UserID() string {
	return m.user
}

func (m *PasswordManager) Execute(ctx context.Context, req *http.Request) (*request.Response, error) {
	req.Header.Del("Authorization")
	req.Header.Set("Authorization", m.authHeader(req.URL.Host))

	return m.t.do(ctx, req)
}

func (m *PasswordManager) authHeader(host string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.cache[host]; ok {
		return h
	}

	h := "Basic " + base64.StdEncoding.EncodeToString([]byte(m.user+":"+m.password))
	m.cache[host] = h

	return h
}
