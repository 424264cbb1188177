package webdav

import (
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/request"
	"github.com/netheos/pcsgo/internal/storage"
)

const statusMultiStatus = 207

const fileProps = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:"><d:prop>
<d:resourcetype/><d:getcontentlength/><d:getcontenttype/><d:getlastmodified/><d:getetag/>
</d:prop></d:propfind>`

// quotaProps asks for the RFC 4331 properties.
const quotaProps = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:"><d:prop>
<d:quota-available-bytes/><d:quota-used-bytes/>
</d:prop></d:propfind>`

type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href      string     `xml:"DAV: href"`
	Propstats []propstat `xml:"DAV: propstat"`
}

type propstat struct {
	Prop   prop   `xml:"DAV: prop"`
	Status string `xml:"DAV: status"`
}

type prop struct {
	ResourceType   resourceType `xml:"DAV: resourcetype"`
	ContentLength  string       `xml:"DAV: getcontentlength"`
	ContentType    string       `xml:"DAV: getcontenttype"`
	LastModified   string       `xml:"DAV: getlastmodified"`
	ETag           string       `xml:"DAV: getetag"`
	QuotaUsed      string       `xml:"DAV: quota-used-bytes"`
	QuotaAvailable string       `xml:"DAV: quota-available-bytes"`
}

type resourceType struct {
	Collection *struct{} `xml:"DAV: collection"`
}

// ok reports whether the propstat carries found properties. Status lines
// look like "HTTP/1.1 200 OK".
func (ps propstat) ok() bool {
	fields := strings.Fields(ps.Status)
	return len(fields) >= 2 && fields[1] == "200"
}

// resource is one entry of a multistatus response.
type resource struct {
	path           storage.Path
	collection     bool
	length         int64
	contentType    string
	modTime        time.Time
	etag           string
	quotaUsed      int64
	quotaAvailable int64
}

func (r *resource) toFile() storage.File {
	if r.collection {
		return &storage.Folder{Path: r.path, ModTime: r.modTime}
	}

	return &storage.Blob{
		Path:        r.path,
		Length:      r.length,
		ContentType: r.contentType,
		ModTime:     r.modTime,
		Hash:        strings.Trim(r.etag, `"`),
	}
}

// multistatusValidator accepts only 207 responses. Any other success
// status means something other than a WebDAV server answered, which is
// treated as transient.
var multistatusValidator = request.ValidatorFunc(func(resp *request.Response, path string) error {
	if err := statusValidator.Validate(resp, path); err != nil {
		return err
	}

	if resp.Status != statusMultiStatus {
		return pcserr.Retriable(fmt.Errorf("webdav: %s %s: expected 207 Multi-Status, got %d",
			resp.Method, resp.URL, resp.Status))
	}

	return nil
})

// propfind returns the resources at path (depth "0") or path and its
// children (depth "1"). It returns nil when nothing exists at path.
func (p *Provider) propfind(ctx context.Context, path storage.Path, depth, body string) ([]*resource, error) {
	resp, err := p.do(ctx, call{
		method:    methodPropfind,
		url:       p.resourceURL(path, false),
		path:      path,
		body:      []byte(body),
		header:    http.Header{"Depth": {depth}, "Content-Type": {"application/xml; charset=utf-8"}},
		validator: multistatusValidator,
	})
	if isNotFound(err) {
		return nil, nil //nolint:nilnil // not found is not an error
	}

	if err != nil {
		return nil, err
	}

	defer resp.Close()

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("webdav: decoding multistatus for %s: %w", path, err)
	}

	out := make([]*resource, 0, len(ms.Responses))

	for _, r := range ms.Responses {
		res, err := p.parseResponse(r)
		if err != nil {
			p.logger.Warn("skipping multistatus entry",
				slog.String("href", r.Href),
				slog.String("error", err.Error()),
			)

			continue
		}

		out = append(out, res)
	}

	return out, nil
}

func (p *Provider) parseResponse(r davResponse) (*resource, error) {
	path, err := p.hrefPath(r.Href)
	if err != nil {
		return nil, err
	}

	res := &resource{path: path, length: -1, quotaUsed: -1, quotaAvailable: -1}

	for _, ps := range r.Propstats {
		if !ps.ok() {
			continue
		}

		pr := ps.Prop

		if pr.ResourceType.Collection != nil {
			res.collection = true
		}

		if n, ok := parseBytes(pr.ContentLength); ok {
			res.length = n
		}

		if pr.ContentType != "" {
			res.contentType = pr.ContentType
		}

		if t, err := http.ParseTime(pr.LastModified); err == nil {
			res.modTime = t
		}

		if pr.ETag != "" {
			res.etag = pr.ETag
		}

		if n, ok := parseBytes(pr.QuotaUsed); ok {
			res.quotaUsed = n
		}

		if n, ok := parseBytes(pr.QuotaAvailable); ok {
			res.quotaAvailable = n
		}
	}

	return res, nil
}

// hrefPath maps a multistatus href, absolute URL or absolute path, to a
// storage path relative to the endpoint.
func (p *Provider) hrefPath(href string) (storage.Path, error) {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return storage.Path{}, fmt.Errorf("webdav: parsing href: %w", err)
	}

	full := strings.TrimSuffix(u.Path, "/")

	rel, ok := strings.CutPrefix(full, p.basePath)
	if !ok || (rel != "" && !strings.HasPrefix(rel, "/")) {
		return storage.Path{}, fmt.Errorf("webdav: href %q is outside of endpoint path %q", href, p.basePath)
	}

	return storage.NewPath(rel)
}

// parseBytes reads a non-negative decimal. Servers report unknown sizes as
// empty or negative values.
func parseBytes(s string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}

	return n, true
}

// stat returns the resource at path, or nil when nothing exists there.
func (p *Provider) stat(ctx context.Context, path storage.Path) (*resource, error) {
	res, err := p.propfind(ctx, path, "0", fileProps)
	if err != nil {
		return nil, err
	}

	for _, r := range res {
		if r.path.Equal(path) {
			return r, nil
		}
	}

	return nil, nil //nolint:nilnil // not found is not an error
}
