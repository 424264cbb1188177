package onedrive

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/netheos/pcsgo/pkg/quickxorhash"
)

// fakePageSize forces pagination of children listings.
const fakePageSize = 2

type fakeNode struct {
	folder   bool
	data     []byte
	modified time.Time
}

type fakeUpload struct {
	path  string
	buf   []byte
	total int64
}

// fault is an injected response. html serves a 200 text/html page instead
// of the status.
type fault struct {
	status     int
	retryAfter string
	html       bool
}

// fakeGraph is an in-memory Graph drive addressed by path.
type fakeGraph struct {
	t   *testing.T
	srv *httptest.Server

	mu         sync.Mutex
	nodes      map[string]*fakeNode
	uploads    map[string]*fakeUpload
	faults     map[string][]fault
	validToken string
	issued     string
	corrupt    int
	ranges     []string
	requests   map[string]int

	tokenCalls atomic.Int32
}

func newFakeGraph(t *testing.T) *fakeGraph {
	t.Helper()

	g := &fakeGraph{
		t:          t,
		nodes:      map[string]*fakeNode{"/": {folder: true, modified: time.Now().UTC()}},
		uploads:    map[string]*fakeUpload{},
		faults:     map[string][]fault{},
		validToken: "token-1",
		issued:     "token-2",
		requests:   map[string]int{},
	}
	g.srv = httptest.NewServer(g)
	t.Cleanup(g.srv.Close)

	return g
}

// inject queues faults for "METHOD /decoded/path".
func (g *fakeGraph) inject(key string, faults ...fault) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.faults[key] = append(g.faults[key], faults...)
}

func (g *fakeGraph) put(p string, data []byte) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[p] = &fakeNode{data: data, modified: time.Now().UTC()}
}

func (g *fakeGraph) mkdir(p string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[p] = &fakeNode{folder: true, modified: time.Now().UTC()}
}

func (g *fakeGraph) node(p string) *fakeNode {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.nodes[p]
}

func (g *fakeGraph) count(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.requests[key]
}

func (g *fakeGraph) chunkRanges() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return append([]string(nil), g.ranges...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeGraphError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": http.StatusText(status)},
	})
}

func quickXor(data []byte) string {
	h := quickxorhash.New()
	h.Write(data)

	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (g *fakeGraph) itemJSON(p string, n *fakeNode) map[string]any {
	m := map[string]any{
		"id":                   "id" + p,
		"name":                 path.Base(p),
		"size":                 len(n.data),
		"lastModifiedDateTime": n.modified.Format(time.RFC3339),
	}

	if n.folder {
		m["folder"] = map[string]any{"childCount": len(g.children(p))}
	} else {
		m["file"] = map[string]any{
			"mimeType": "application/octet-stream",
			"hashes":   map[string]string{"quickXorHash": quickXor(n.data)},
		}
	}

	return m
}

func (g *fakeGraph) children(p string) []string {
	var out []string

	for k := range g.nodes {
		if k != "/" && path.Dir(k) == p {
			out = append(out, k)
		}
	}

	sort.Strings(out)

	return out
}

func (g *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := r.Method + " " + r.URL.Path
	g.requests[key]++

	if r.URL.Path == "/token" {
		g.tokenCalls.Add(1)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": g.issued,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})

		return
	}

	if r.Header.Get("client-request-id") == "" {
		writeGraphError(w, http.StatusBadRequest, "missingRequestId")
		return
	}

	if q := g.faults[key]; len(q) > 0 {
		f := q[0]
		g.faults[key] = q[1:]

		if f.html {
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>maintenance</html>")

			return
		}

		if f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}

		writeGraphError(w, f.status, "injected")

		return
	}

	if strings.HasPrefix(r.URL.Path, "/upload/") {
		g.serveUpload(w, r)
		return
	}

	if r.Header.Get("Authorization") != "Bearer "+g.validToken {
		writeGraphError(w, http.StatusUnauthorized, "InvalidAuthenticationToken")
		return
	}

	switch {
	case r.URL.Path == "/me":
		writeJSON(w, http.StatusOK, map[string]any{"id": "u1", "displayName": "Alice", "userPrincipalName": "alice@example.com"})
	case r.URL.Path == "/me/drive":
		writeJSON(w, http.StatusOK, map[string]any{"id": "d1", "driveType": "personal", "quota": map[string]int64{"used": 250, "total": 1000}})
	case strings.HasPrefix(r.URL.Path, "/me/drive/root"):
		g.serveItem(w, r)
	default:
		writeGraphError(w, http.StatusNotFound, "invalidRequest")
	}
}

// splitItemPath parses /me/drive/root[:/a/b:][/action].
func splitItemPath(urlPath string) (string, string) {
	rest := strings.TrimPrefix(urlPath, "/me/drive/root")

	switch {
	case rest == "":
		return "/", ""
	case strings.HasPrefix(rest, "/"):
		return "/", rest[1:]
	default:
		end := strings.LastIndex(rest, ":")
		return rest[1:end], strings.TrimPrefix(rest[end+1:], "/")
	}
}

func (g *fakeGraph) serveItem(w http.ResponseWriter, r *http.Request) {
	p, action := splitItemPath(r.URL.Path)
	n := g.nodes[p]

	switch {
	case action == "" && r.Method == http.MethodGet:
		if n == nil {
			writeGraphError(w, http.StatusNotFound, "itemNotFound")
			return
		}

		writeJSON(w, http.StatusOK, g.itemJSON(p, n))

	case action == "" && r.Method == http.MethodDelete:
		if n == nil {
			writeGraphError(w, http.StatusNotFound, "itemNotFound")
			return
		}

		for k := range g.nodes {
			if k == p || strings.HasPrefix(k, p+"/") {
				delete(g.nodes, k)
			}
		}

		w.WriteHeader(http.StatusNoContent)

	case action == "children" && r.Method == http.MethodGet:
		g.serveChildren(w, r, p, n)

	case action == "children" && r.Method == http.MethodPost:
		if n == nil || !n.folder {
			writeGraphError(w, http.StatusNotFound, "itemNotFound")
			return
		}

		var req createFolderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeGraphError(w, http.StatusBadRequest, "invalidRequest")
			return
		}

		child := path.Join(p, req.Name)
		if g.nodes[child] != nil {
			writeGraphError(w, http.StatusConflict, "nameAlreadyExists")
			return
		}

		g.nodes[child] = &fakeNode{folder: true, modified: time.Now().UTC()}
		writeJSON(w, http.StatusCreated, g.itemJSON(child, g.nodes[child]))

	case action == "content" && r.Method == http.MethodGet:
		g.serveContent(w, r, p, n)

	case action == "content" && r.Method == http.MethodPut:
		parent := g.nodes[path.Dir(p)]
		if parent == nil || !parent.folder || (n != nil && n.folder) {
			writeGraphError(w, http.StatusConflict, "invalidParent")
			return
		}

		data, _ := io.ReadAll(r.Body)
		g.nodes[p] = &fakeNode{data: data, modified: time.Now().UTC()}
		writeJSON(w, http.StatusCreated, g.itemJSON(p, g.nodes[p]))

	case action == "createUploadSession" && r.Method == http.MethodPost:
		id := strconv.Itoa(len(g.uploads) + 1)
		g.uploads[id] = &fakeUpload{path: p}
		writeJSON(w, http.StatusOK, map[string]any{"uploadUrl": g.srv.URL + "/upload/" + id})

	default:
		writeGraphError(w, http.StatusBadRequest, "invalidRequest")
	}
}

func (g *fakeGraph) serveChildren(w http.ResponseWriter, r *http.Request, p string, n *fakeNode) {
	if n == nil {
		writeGraphError(w, http.StatusNotFound, "itemNotFound")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	all := g.children(p)
	start := min(page*fakePageSize, len(all))
	end := min(start+fakePageSize, len(all))

	values := make([]map[string]any, 0, end-start)
	for _, c := range all[start:end] {
		values = append(values, g.itemJSON(c, g.nodes[c]))
	}

	resp := map[string]any{"value": values}
	if end < len(all) {
		resp["@odata.nextLink"] = fmt.Sprintf("%s%s?page=%d", g.srv.URL, r.URL.EscapedPath(), page+1)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (g *fakeGraph) serveContent(w http.ResponseWriter, r *http.Request, p string, n *fakeNode) {
	if n == nil || n.folder {
		writeGraphError(w, http.StatusNotFound, "itemNotFound")
		return
	}

	data := n.data

	if g.corrupt > 0 {
		g.corrupt--

		data = append([]byte(nil), data...)
		if len(data) > 0 {
			data[0] ^= 0xFF
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")

	rng := r.Header.Get("Range")
	if rng == "" {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)

		return
	}

	var from, to int
	if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &from, &to); err != nil {
		writeGraphError(w, http.StatusRequestedRangeNotSatisfiable, "invalidRange")
		return
	}

	w.Header().Set("Content-Length", strconv.Itoa(to-from+1))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data[from : to+1])
}

func (g *fakeGraph) serveUpload(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "" {
		writeGraphError(w, http.StatusBadRequest, "unexpectedAuthorization")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/upload/")

	u := g.uploads[id]
	if u == nil {
		writeGraphError(w, http.StatusNotFound, "itemNotFound")
		return
	}

	if r.Method == http.MethodDelete {
		delete(g.uploads, id)
		w.WriteHeader(http.StatusNoContent)

		return
	}

	cr := r.Header.Get("Content-Range")
	g.ranges = append(g.ranges, cr)

	var from, to, total int64
	if _, err := fmt.Sscanf(cr, "bytes %d-%d/%d", &from, &to, &total); err != nil || from != int64(len(u.buf)) {
		writeGraphError(w, http.StatusRequestedRangeNotSatisfiable, "invalidRange")
		return
	}

	data, _ := io.ReadAll(r.Body)
	u.buf = append(u.buf, data...)
	u.total = total

	if int64(len(u.buf)) < total {
		writeJSON(w, http.StatusAccepted, map[string]any{
			"nextExpectedRanges": []string{fmt.Sprintf("%d-", len(u.buf))},
		})

		return
	}

	g.nodes[u.path] = &fakeNode{data: u.buf, modified: time.Now().UTC()}
	delete(g.uploads, id)
	writeJSON(w, http.StatusCreated, g.itemJSON(u.path, g.nodes[u.path]))
}
