// Package pcserr defines the error taxonomy shared by every layer of the
// library: retriable failures absorbed by the retry strategy, not-found and
// invalid-file-type outcomes that callers treat as normal results, and
// authentication or generic HTTP failures.
package pcserr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
	"unicode/utf8"
)

// Sentinel errors. Use errors.Is(err, pcserr.ErrNotFound) to check.
var (
	ErrStorage          = errors.New("pcs: storage error")
	ErrNotFound         = errors.New("pcs: not found")
	ErrAuthentication   = errors.New("pcs: authentication failed")
	ErrInvalidFileType  = errors.New("pcs: invalid file type")
	ErrHTTP             = errors.New("pcs: http error")
	ErrRetryInterrupted = errors.New("pcs: retry interrupted")
)

// MaxMessageLen bounds server error text copied into error messages.
const MaxMessageLen = 500

// NoDelay asks the retry strategy to compute its own backoff.
const NoDelay time.Duration = -1

// RetriableError marks a failure as transient. The retry strategy sleeps and
// re-runs the whole attempt; when the attempt budget is exhausted it surfaces
// Err, not the wrapper.
type RetriableError struct {
	Err   error
	Delay time.Duration // < 0: use exponential backoff
}

// Retriable wraps err so that the retry strategy backs off and retries.
func Retriable(err error) *RetriableError {
	return &RetriableError{Err: err, Delay: NoDelay}
}

// RetriableAfter wraps err with an explicit delay before the next attempt.
func RetriableAfter(err error, delay time.Duration) *RetriableError {
	return &RetriableError{Err: err, Delay: delay}
}

func (e *RetriableError) Error() string {
	if e.Err == nil {
		return "pcs: retriable error"
	}

	return e.Err.Error()
}

func (e *RetriableError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether err carries a RetriableError anywhere in its chain.
func IsRetriable(err error) bool {
	var re *RetriableError
	return errors.As(err, &re)
}

// HTTPError describes a non-successful HTTP exchange. It unwraps to
// ErrNotFound for 404, ErrAuthentication for 401 and ErrHTTP otherwise.
type HTTPError struct {
	Method  string
	URL     string // shortened: no query string
	Status  int
	Reason  string
	Message string
	Path    string // storage path being operated on, if any
}

// NewHTTPError builds the error matching status, abbreviating message.
func NewHTTPError(method, url string, status int, reason, message, path string) *HTTPError {
	if reason == "" {
		reason = http.StatusText(status)
	}

	if reason == "" {
		reason = "No reason specified"
	}

	return &HTTPError{
		Method:  method,
		URL:     url,
		Status:  status,
		Reason:  reason,
		Message: Abbreviate(message, MaxMessageLen),
		Path:    path,
	}
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("pcs: %s %s [%d/%s]", e.Method, e.URL, e.Status, e.Reason)

	if e.Status == http.StatusNotFound {
		msg = fmt.Sprintf("pcs: no file found at URL %s [%d/%s]", e.URL, e.Status, e.Reason)
	}

	if e.Path != "" {
		msg += " path=" + e.Path
	}

	if e.Message != "" {
		msg += ": " + e.Message
	}

	return msg
}

func (e *HTTPError) Unwrap() error {
	switch e.Status {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized:
		return ErrAuthentication
	default:
		return ErrHTTP
	}
}

// FileNotFoundError reports a missing remote object detected without a 404,
// for example while resolving a path segment by segment.
type FileNotFoundError struct {
	Path    string
	Message string
}

func (e *FileNotFoundError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("pcs: file not found: %s", e.Path)
	}

	return fmt.Sprintf("pcs: %s: %s", e.Message, e.Path)
}

func (e *FileNotFoundError) Unwrap() error {
	return ErrNotFound
}

// InvalidFileTypeError reports a blob where a folder was expected, or the reverse.
type InvalidFileTypeError struct {
	Path         string
	BlobExpected bool
}

func (e *InvalidFileTypeError) Error() string {
	expected := "folder"
	if e.BlobExpected {
		expected = "blob"
	}

	return fmt.Sprintf("pcs: invalid file type at path %s (expected %s)", e.Path, expected)
}

func (e *InvalidFileTypeError) Unwrap() error {
	return ErrInvalidFileType
}

// Abbreviate truncates s to at most maxLen bytes, appending "..." when
// truncated. The cut never splits a UTF-8 sequence.
func Abbreviate(s string, maxLen int) string {
	if maxLen < 0 || len(s) <= maxLen {
		return s
	}

	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + "..."
}
