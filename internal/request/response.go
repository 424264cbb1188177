// Package request turns raw HTTP exchanges into validated results. A
// Requestor produces one Response per attempt, a Validator classifies it,
// and an Invoker ties both together so that a rejected Response is always
// closed before its error propagates.
package request

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/netheos/pcsgo/internal/pcserr"
)

// maxErrorBody bounds how much of an error response body is read.
const maxErrorBody = 64 * 1024

// Response is an HTTP response with the fields validators and providers need.
// The caller owns Body and must Close the Response.
type Response struct {
	Method        string
	URL           string // shortened, see ShortenURL
	Status        int
	Reason        string
	Header        http.Header
	ContentType   string // media type only, parameters stripped
	ContentLength int64  // -1 when unknown
	Body          io.ReadCloser
}

// NewResponse wraps resp, which must come from a request carrying a URL.
func NewResponse(resp *http.Response) *Response {
	method := http.MethodGet
	rawURL := ""

	if resp.Request != nil {
		method = resp.Request.Method
		if resp.Request.URL != nil {
			rawURL = resp.Request.URL.String()
		}
	}

	return &Response{
		Method:        method,
		URL:           ShortenURL(rawURL),
		Status:        resp.StatusCode,
		Reason:        reasonPhrase(resp),
		Header:        resp.Header,
		ContentType:   mediaType(resp.Header.Get("Content-Type")),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}
}

// Close releases the body. Safe to call more than once.
func (r *Response) Close() error {
	if r.Body == nil {
		return nil
	}

	err := r.Body.Close()
	r.Body = nil

	return err
}

// IsJSON reports whether the content type is one of the JSON media types
// cloud APIs return.
func (r *Response) IsJSON() bool {
	switch r.ContentType {
	case "application/json", "text/javascript":
		return true
	default:
		return false
	}
}

// DecodeJSON decodes the body into v and closes the response.
func (r *Response) DecodeJSON(v any) error {
	defer r.Close()

	if r.Body == nil {
		return fmt.Errorf("request: %s %s: response body already consumed", r.Method, r.URL)
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("request: decoding %s %s response: %w", r.Method, r.URL, err)
	}

	return nil
}

// ReadText reads at most maxErrorBody bytes of the body as text and closes
// the response. Read failures yield an empty string.
func (r *Response) ReadText() string {
	defer r.Close()

	if r.Body == nil {
		return ""
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxErrorBody))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

// RetryAfter parses the Retry-After header as seconds or an HTTP date.
// It returns pcserr.NoDelay when the header is absent or unparseable.
func (r *Response) RetryAfter(now time.Time) time.Duration {
	ra := r.Header.Get("Retry-After")
	if ra == "" {
		return pcserr.NoDelay
	}

	if seconds, err := strconv.Atoi(ra); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(ra); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}

		return 0
	}

	return pcserr.NoDelay
}

// ShortenURL drops the query string and fragment, which may carry
// credentials or pre-authentication tokens.
func ShortenURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}

		return raw
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil

	return u.String()
}

func reasonPhrase(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if reason, ok := strings.CutPrefix(resp.Status, prefix); ok {
		return reason
	}

	return http.StatusText(resp.StatusCode)
}

func mediaType(contentType string) string {
	if contentType == "" {
		return ""
	}

	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}

	return mt
}
