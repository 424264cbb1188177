package webdav

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	pathpkg "path"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/webdav"
)

const (
	davPrefix    = "/remote.php/dav/files/alice"
	davUser      = "alice"
	davPassword  = "secret"
	quotaElement = "quota-used-bytes"
)

// fault is an injected response served instead of the real one.
type fault struct {
	status int
	body   string
}

// fakeDAV is a WebDAV server backed by x/net/webdav's in-memory file
// system, with basic auth, fault injection, request counting and RFC 4331
// quota answers layered on top.
type fakeDAV struct {
	t       *testing.T
	srv     *httptest.Server
	fs      webdav.FileSystem
	handler *webdav.Handler

	mu       sync.Mutex
	faults   map[string][]fault
	requests map[string]int
	quota    *[2]int64 // used, available
}

func newFakeDAV(t *testing.T) *fakeDAV {
	t.Helper()

	fs := webdav.NewMemFS()

	g := &fakeDAV{
		t:  t,
		fs: fs,
		handler: &webdav.Handler{
			Prefix:     davPrefix,
			FileSystem: fs,
			LockSystem: webdav.NewMemLS(),
		},
		faults:   map[string][]fault{},
		requests: map[string]int{},
	}
	g.srv = httptest.NewServer(g)
	t.Cleanup(g.srv.Close)

	return g
}

func (g *fakeDAV) endpoint() string {
	return g.srv.URL + davPrefix
}

// relPath returns the storage path of a request, "/" for the root.
func relPath(r *http.Request) string {
	rel := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, davPrefix), "/")
	if rel == "" {
		return "/"
	}

	return rel
}

func (g *fakeDAV) inject(method, path string, faults ...fault) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := method + " " + path
	g.faults[key] = append(g.faults[key], faults...)
}

func (g *fakeDAV) count(method, path string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.requests[method+" "+path]
}

func (g *fakeDAV) setQuota(used, available int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.quota = &[2]int64{used, available}
}

func (g *fakeDAV) put(path string, data []byte) {
	g.t.Helper()

	f, err := g.fs.OpenFile(context.Background(), path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	require.NoError(g.t, err)

	_, err = f.Write(data)
	require.NoError(g.t, err)
	require.NoError(g.t, f.Close())
}

func (g *fakeDAV) mkdir(path string) {
	g.t.Helper()
	require.NoError(g.t, g.fs.Mkdir(context.Background(), path, 0o755))
}

func (g *fakeDAV) read(path string) []byte {
	g.t.Helper()

	f, err := g.fs.OpenFile(context.Background(), path, os.O_RDONLY, 0)
	require.NoError(g.t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(g.t, err)

	return data
}

func (g *fakeDAV) exists(path string) bool {
	_, err := g.fs.Stat(context.Background(), path)
	return err == nil
}

// underBlob reports whether an ancestor of path is a file.
func (g *fakeDAV) underBlob(path string) bool {
	for dir := pathpkg.Dir(path); dir != "/"; dir = pathpkg.Dir(dir) {
		if fi, err := g.fs.Stat(context.Background(), dir); err == nil && !fi.IsDir() {
			return true
		}
	}

	return false
}

func (g *fakeDAV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	key := r.Method + " " + relPath(r)

	g.mu.Lock()
	g.requests[key]++

	var injected *fault
	if queue := g.faults[key]; len(queue) > 0 {
		injected = &queue[0]
		g.faults[key] = queue[1:]
	}

	quota := g.quota
	g.mu.Unlock()

	if user, pw, ok := r.BasicAuth(); !ok || user != davUser || pw != davPassword {
		w.Header().Set("WWW-Authenticate", `Basic realm="dav"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)

		return
	}

	if injected != nil {
		w.WriteHeader(injected.status)
		_, _ = io.WriteString(w, injected.body)

		return
	}

	if r.Method == methodPropfind && g.underBlob(relPath(r)) {
		// x/net/webdav answers 405 here; Apache and Nextcloud answer 404.
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if r.Method == methodPropfind {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if quota != nil && bytes.Contains(body, []byte(quotaElement)) {
			writeQuota(w, r.URL.Path, quota[0], quota[1])
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	g.handler.ServeHTTP(w, r)
}

func writeQuota(w http.ResponseWriter, href string, used, available int64) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(statusMultiStatus)

	fmt.Fprintf(w, `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>%s</d:href>
    <d:propstat>
      <d:prop>
        <d:quota-used-bytes>%d</d:quota-used-bytes>
        <d:quota-available-bytes>%d</d:quota-available-bytes>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`, href, used, available)
}
