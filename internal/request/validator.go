package request

import (
	"fmt"
	"net/http"
	"time"

	"github.com/netheos/pcsgo/internal/pcserr"
)

// Validator classifies a Response. A nil error accepts it; a
// *pcserr.RetriableError asks for another attempt; anything else is fatal.
// path is the storage path being operated on, attached to errors.
type Validator interface {
	Validate(resp *Response, path string) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(resp *Response, path string) error

func (f ValidatorFunc) Validate(resp *Response, path string) error {
	return f(resp, path)
}

// StatusValidator rejects any status >= 300. Rejections for which
// IsRetriable reports true are wrapped as retriable, honouring Retry-After.
type StatusValidator struct {
	// IsRetriable defaults to DefaultRetriable.
	IsRetriable func(resp *Response, message string) bool
	// ErrorMessage extracts the server error text. It defaults to the
	// trimmed body. The response body may be consumed.
	ErrorMessage func(resp *Response) string
	// Now defaults to time.Now. Used for HTTP-date Retry-After values.
	Now func() time.Time
}

// DefaultRetriable retries 5xx and 429.
func DefaultRetriable(resp *Response, _ string) bool {
	return resp.Status >= http.StatusInternalServerError || resp.Status == http.StatusTooManyRequests
}

func (v StatusValidator) Validate(resp *Response, path string) error {
	if resp.Status < http.StatusMultipleChoices {
		return nil
	}

	var message string
	if v.ErrorMessage != nil {
		message = v.ErrorMessage(resp)
	} else {
		message = resp.ReadText()
	}

	httpErr := pcserr.NewHTTPError(resp.Method, resp.URL, resp.Status, resp.Reason, message, path)

	isRetriable := v.IsRetriable
	if isRetriable == nil {
		isRetriable = DefaultRetriable
	}

	if !isRetriable(resp, message) {
		return httpErr
	}

	now := time.Now
	if v.Now != nil {
		now = v.Now
	}

	return pcserr.RetriableAfter(httpErr, resp.RetryAfter(now()))
}

// JSONValidator delegates to Next, then requires a JSON content type on
// accepted responses. A success response with another content type is
// treated as transient.
type JSONValidator struct {
	Next Validator
}

func (v JSONValidator) Validate(resp *Response, path string) error {
	if err := v.Next.Validate(resp, path); err != nil {
		return err
	}

	if resp.IsJSON() {
		return nil
	}

	return pcserr.Retriable(fmt.Errorf("request: %s %s: expected JSON response, got content type %q",
		resp.Method, resp.URL, resp.ContentType))
}
