package onedrive

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/netheos/pcsgo/internal/bytesio"
	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/retry"
	"github.com/netheos/pcsgo/internal/storage"
	"github.com/netheos/pcsgo/internal/transfer"
	"github.com/netheos/pcsgo/pkg/quickxorhash"
)

// ErrHashMismatch reports downloaded content whose quickXorHash differs from
// the one announced by the server.
var ErrHashMismatch = errors.New("onedrive: downloaded content hash mismatch")

// Download streams the blob at req.Path into req's sink. Whole-file
// downloads are verified against the server's quickXorHash when it
// provides one; a mismatch aborts the sink and is retried.
func (p *Provider) Download(ctx context.Context, req *storage.DownloadRequest) error {
	path := req.Path

	p.logger.Info("downloading", slog.String("path", path.String()))

	meta, err := p.invoker(call{method: http.MethodGet, url: p.itemURL(path), path: path})
	if err != nil {
		return err
	}

	header := http.Header{}
	if r := req.RangeHeader(); r != "" {
		header.Set("Range", r)
	}

	content, err := p.invoker(call{
		method:    http.MethodGet,
		url:       p.itemActionURL(path, "content"),
		path:      path,
		header:    header,
		validator: statusValidator,
	})
	if err != nil {
		return err
	}

	return retry.Run(ctx, p.retry, func(ctx context.Context) error {
		resp, err := meta.Call(ctx)
		if isNotFound(err) {
			return &pcserr.FileNotFoundError{Path: path.String(), Message: "this file does not exist"}
		}

		if err != nil {
			return err
		}

		var item driveItem
		if err := resp.DecodeJSON(&item); err != nil {
			return pcserr.Retriable(fmt.Errorf("onedrive: decoding item %s: %w", path, err))
		}

		if item.isFolder() {
			return &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: true}
		}

		body, err := content.Call(ctx)
		if err != nil {
			return err
		}

		sink := req.ByteSink()
		if expected := item.quickXorHash(); expected != "" && req.RangeHeader() == "" {
			sink = verifyingSink(sink, expected)
		}

		n, err := transfer.Download(body, sink)
		if err != nil {
			return err
		}

		p.logger.Debug("download complete",
			slog.String("path", path.String()),
			slog.Int64("bytes", n),
		)

		return nil
	})
}

// verifyingSink checks the base64 quickXorHash of everything written to sink.
func verifyingSink(sink bytesio.Sink, expected string) bytesio.Sink {
	return bytesio.NewDigestSink(sink, quickxorhash.New).
		SetVerifier(func(sum []byte) error {
			got := base64.StdEncoding.EncodeToString(sum)
			if got != expected {
				return pcserr.Retriable(fmt.Errorf("%w: expected %s, got %s", ErrHashMismatch, expected, got))
			}

			return nil
		})
}
