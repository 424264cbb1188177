package request

import (
	"context"
)

// Requestor performs one HTTP exchange. It is called once per attempt.
type Requestor func(ctx context.Context) (*Response, error)

// Invoker obtains a Response from a Requestor and validates it.
type Invoker struct {
	Requestor Requestor
	Validator Validator
	// Path is the storage path being operated on, for error messages.
	Path string
}

// NewInvoker returns an Invoker for path.
func NewInvoker(requestor Requestor, validator Validator, path string) *Invoker {
	return &Invoker{Requestor: requestor, Validator: validator, Path: path}
}

// Call runs the requestor and validator. On validation failure the
// response is closed before the error is returned.
func (i *Invoker) Call(ctx context.Context) (*Response, error) {
	resp, err := i.Requestor(ctx)
	if err != nil {
		return nil, err
	}

	if err := i.Validator.Validate(resp, i.Path); err != nil {
		resp.Close()
		return nil, err
	}

	return resp, nil
}
