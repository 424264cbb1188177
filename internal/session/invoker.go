package session

import (
	"context"
	"errors"

	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/request"
)

// Refresher is implemented by sessions able to force a token refresh.
type Refresher interface {
	ForceRefresh(ctx context.Context) error
}

// RefreshOnceInvoker wraps an Invoker for servers that reject a supposedly
// valid token. The first authentication failure forces a refresh and is
// returned as retriable with no delay; a second one is fatal. Create one per
// logical call, never share it across calls.
type RefreshOnceInvoker struct {
	inner     *request.Invoker
	refresher Refresher
	refreshed bool
}

// NewRefreshOnceInvoker wraps inner. A nil refresher disables the behaviour.
func NewRefreshOnceInvoker(inner *request.Invoker, refresher Refresher) *RefreshOnceInvoker {
	return &RefreshOnceInvoker{inner: inner, refresher: refresher}
}

func (i *RefreshOnceInvoker) Call(ctx context.Context) (*request.Response, error) {
	resp, err := i.inner.Call(ctx)
	if err == nil {
		return resp, nil
	}

	if i.refresher == nil || i.refreshed || !errors.Is(err, pcserr.ErrAuthentication) {
		return nil, err
	}

	i.refreshed = true

	if rerr := i.refresher.ForceRefresh(ctx); rerr != nil {
		return nil, rerr
	}

	return nil, pcserr.RetriableAfter(err, 0)
}
