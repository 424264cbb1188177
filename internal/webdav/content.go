package webdav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/netheos/pcsgo/internal/pcserr"
	"github.com/netheos/pcsgo/internal/retry"
	"github.com/netheos/pcsgo/internal/storage"
	"github.com/netheos/pcsgo/internal/transfer"
)

// Download streams the blob at req.Path into req's sink.
func (p *Provider) Download(ctx context.Context, req *storage.DownloadRequest) error {
	path := req.Path

	r, err := p.stat(ctx, path)
	if err != nil {
		return err
	}

	if r == nil {
		return &pcserr.FileNotFoundError{Path: path.String(), Message: "this file does not exist"}
	}

	if r.collection {
		return &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: true}
	}

	header := http.Header{}

	rangeHeader := req.RangeHeader()
	if rangeHeader != "" {
		header.Set("Range", rangeHeader)
	}

	inv := p.invoker(call{method: http.MethodGet, url: p.resourceURL(path, false), path: path, header: header})

	p.logger.Info("downloading", slog.String("path", path.String()))

	return retry.Run(ctx, p.retry, func(ctx context.Context) error {
		resp, err := inv.Call(ctx)
		if err != nil {
			return err
		}

		if rangeHeader != "" && resp.Status != http.StatusPartialContent {
			resp.Close()
			return fmt.Errorf("%w: server ignored range %q for %s", pcserr.ErrStorage, rangeHeader, path)
		}

		n, err := transfer.Download(resp, req.ByteSink())
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

// Upload PUTs req.Source at req.Path, creating missing parents. An existing
// blob is overwritten.
func (p *Provider) Upload(ctx context.Context, req *storage.UploadRequest) error {
	path := req.Path

	if path.IsRoot() {
		return &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: true}
	}

	r, err := p.stat(ctx, path)
	if err != nil {
		return err
	}

	if r != nil && r.collection {
		return &pcserr.InvalidFileTypeError{Path: path.String(), BlobExpected: true}
	}

	if r == nil {
		if _, err := p.ensureFolder(ctx, path.Parent()); err != nil {
			return err
		}
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	p.logger.Info("uploading",
		slog.String("path", path.String()),
		slog.Int64("size", req.Source.Length()),
	)

	return p.exec(ctx, call{
		method: http.MethodPut,
		url:    p.resourceURL(path, false),
		path:   path,
		source: req.ByteSource(),
		header: http.Header{"Content-Type": {contentType}},
	})
}
