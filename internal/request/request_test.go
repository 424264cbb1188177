package request

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netheos/pcsgo/internal/pcserr"
)

func fetch(t *testing.T, handler http.HandlerFunc) *Response {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL+"/a/b?token=secret", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	return NewResponse(resp)
}

// trackingBody records Close calls.
type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

func TestNewResponse(t *testing.T) {
	resp := fetch(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Content-Length", "2")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("{}"))
	})
	defer resp.Close()

	assert.Equal(t, http.MethodGet, resp.Method)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "OK", resp.Reason)
	assert.Equal(t, "application/json", resp.ContentType)
	assert.Equal(t, int64(2), resp.ContentLength)
	assert.True(t, resp.IsJSON())
	assert.NotContains(t, resp.URL, "secret")
	assert.Contains(t, resp.URL, "/a/b")
}

func TestShortenURL(t *testing.T) {
	assert.Equal(t, "https://host/p/q", ShortenURL("https://user:pw@host/p/q?sig=abc#frag"))
	assert.Equal(t, "plain", ShortenURL("plain"))
}

func TestDecodeJSON(t *testing.T) {
	resp := fetch(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"x"}`))
	})

	var v struct {
		Name string `json:"name"`
	}
	require.NoError(t, resp.DecodeJSON(&v))
	assert.Equal(t, "x", v.Name)
	assert.Nil(t, resp.Body)
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	r := &Response{Header: http.Header{}}
	assert.Equal(t, pcserr.NoDelay, r.RetryAfter(now))

	r.Header.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, r.RetryAfter(now))

	r.Header.Set("Retry-After", now.Add(30*time.Second).Format(http.TimeFormat))
	assert.Equal(t, 30*time.Second, r.RetryAfter(now))

	r.Header.Set("Retry-After", "soon")
	assert.Equal(t, pcserr.NoDelay, r.RetryAfter(now))
}

func TestStatusValidator(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retriable bool
		sentinel  error
	}{
		{"ok", http.StatusOK, false, nil},
		{"created", http.StatusCreated, false, nil},
		{"not found", http.StatusNotFound, false, pcserr.ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, false, pcserr.ErrAuthentication},
		{"bad request", http.StatusBadRequest, false, pcserr.ErrHTTP},
		{"throttled", http.StatusTooManyRequests, true, pcserr.ErrHTTP},
		{"server error", http.StatusBadGateway, true, pcserr.ErrHTTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &Response{
				Method: http.MethodGet,
				URL:    "https://host/x",
				Status: tt.status,
				Header: http.Header{},
				Body:   io.NopCloser(strings.NewReader("server said no")),
			}

			err := StatusValidator{}.Validate(resp, "/x")
			if tt.sentinel == nil {
				assert.NoError(t, err)
				return
			}

			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.retriable, pcserr.IsRetriable(err))
			assert.Contains(t, err.Error(), "server said no")
			assert.Contains(t, err.Error(), "/x")
		})
	}
}

func TestStatusValidator_RetryAfterDelay(t *testing.T) {
	resp := &Response{
		Status: http.StatusTooManyRequests,
		Header: http.Header{"Retry-After": []string{"5"}},
		Body:   io.NopCloser(strings.NewReader("")),
	}

	err := StatusValidator{}.Validate(resp, "")

	var re *pcserr.RetriableError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, 5*time.Second, re.Delay)
}

func TestJSONValidator(t *testing.T) {
	v := JSONValidator{Next: StatusValidator{}}

	ok := &Response{Status: http.StatusOK, ContentType: "application/json"}
	assert.NoError(t, v.Validate(ok, "/p"))

	html := &Response{Status: http.StatusOK, ContentType: "text/html"}
	err := v.Validate(html, "/p")
	assert.True(t, pcserr.IsRetriable(err))

	failed := &Response{Status: http.StatusForbidden, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(""))}
	err = v.Validate(failed, "/p")
	assert.False(t, pcserr.IsRetriable(err))
	assert.ErrorIs(t, err, pcserr.ErrHTTP)
}

func TestInvoker_ClosesOnValidationFailure(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("")}

	inv := NewInvoker(
		func(context.Context) (*Response, error) {
			return &Response{Status: http.StatusOK, Body: body}, nil
		},
		ValidatorFunc(func(*Response, string) error { return errors.New("rejected") }),
		"/p",
	)

	resp, err := inv.Call(context.Background())
	assert.Nil(t, resp)
	assert.EqualError(t, err, "rejected")
	assert.True(t, body.closed)
}

func TestInvoker_PassesThrough(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("data")}

	inv := NewInvoker(
		func(context.Context) (*Response, error) {
			return &Response{Status: http.StatusOK, Body: body}, nil
		},
		StatusValidator{},
		"/p",
	)

	resp, err := inv.Call(context.Background())
	require.NoError(t, err)
	assert.False(t, body.closed)
	require.NoError(t, resp.Close())
	assert.True(t, body.closed)
}

func TestInvoker_RequestorError(t *testing.T) {
	want := errors.New("dial failed")

	inv := NewInvoker(
		func(context.Context) (*Response, error) { return nil, want },
		StatusValidator{},
		"/p",
	)

	_, err := inv.Call(context.Background())
	assert.Same(t, want, err)
}
